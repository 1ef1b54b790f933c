package instruction

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
)

// Template is an instruction phrasing with placeholders:
//
//	{Entity}   capitalized singular entity name ("Account")
//	{entity}   lowercase singular ("account")
//	{entities} lowercase plural ("accounts")
//	{field}    humanized field phrase ("name", "billing city")
//	{value}    the search value, original casing
//
// The connector's parser is unreliable with phrasings that name the operator
// outright, so templates imply the operator structurally. The table is data,
// not code: connector parsing behavior drifts, and operators swap templates
// by pointing BARTLEBY_TEMPLATES_PATH at an override file.
type Template string

// Table maps "<operator>/<cardinality>/<field class>" keys to templates.
// Field classes are "id", "name", "other" and the wildcard "any".
type Table map[string]Template

// DefaultTable returns the built-in phrasing policy.
func DefaultTable() Table {
	return Table{
		"equals/single/id":          "Find {Entity} with Id {value}",
		"equals/single/any":         "Find {Entity} {field}: {value}",
		"equals/multiple/any":       "Show me {entities} with {field}: {value}",
		"contains/multiple/name":    "Show me {entities} with the name {value} in the {entity} name",
		"contains/multiple/any":     "Show me {entities} with {value} in the {field}",
		"starts_with/single/any":    "Find {Entity} whose {field} starts with {value}",
		"starts_with/multiple/any":  "Show me {entities} whose {field} starts with {value}",
		"greater_than/multiple/any": "Show me {entities} with {field} greater than {value}",
		"less_than/multiple/any":    "Show me {entities} with {field} less than {value}",
	}
}

// LoadTable returns the default table with overrides from a JSON file merged
// in. An empty path returns the defaults unchanged.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}

	var overrides Table
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}

	for k, v := range overrides {
		table[k] = v
	}

	if err := table.validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// validate rejects templates known to trip the connector's parser: contains
// phrasings that spell out the operator get the literal word captured as the
// search value.
func (t Table) validate() error {
	for k, tpl := range t {
		if strings.HasPrefix(k, "contains/") && strings.Contains(strings.ToLower(string(tpl)), "contains") {
			return fmt.Errorf("template %q spells out the contains operator: %q", k, tpl)
		}
		if strings.TrimSpace(string(tpl)) == "" {
			return fmt.Errorf("template %q is empty", k)
		}
	}
	return nil
}

// templateKey builds a lookup key.
func templateKey(op intent.Operator, card intent.Cardinality, class string) string {
	return string(op) + "/" + string(card) + "/" + class
}

// MutationKey is the template key recorded for pass-through mutating
// instructions, which bypass the table.
const MutationKey = "mutation/passthrough"
