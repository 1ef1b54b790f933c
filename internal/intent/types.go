package intent

import (
	"fmt"
	"strings"
)

// EntityType is the business-object category a query targets.
type EntityType string

const (
	EntityAccount     EntityType = "Account"
	EntityContact     EntityType = "Contact"
	EntityOpportunity EntityType = "Opportunity"
	EntityLead        EntityType = "Lead"
	EntityAsset       EntityType = "Asset"
	EntityUnknown     EntityType = "Unknown"
)

// Plural returns the lowercase plural form used in rendered instructions.
func (e EntityType) Plural() string {
	switch e {
	case EntityOpportunity:
		return "opportunities"
	case EntityAccount:
		return "accounts"
	case EntityContact:
		return "contacts"
	case EntityLead:
		return "leads"
	case EntityAsset:
		return "assets"
	default:
		return "records"
	}
}

// Lower returns the lowercase singular form used in rendered instructions.
func (e EntityType) Lower() string {
	switch e {
	case EntityAccount:
		return "account"
	case EntityContact:
		return "contact"
	case EntityOpportunity:
		return "opportunity"
	case EntityLead:
		return "lead"
	case EntityAsset:
		return "asset"
	default:
		return "record"
	}
}

// ParseEntity maps an entity name to its EntityType, case-insensitively.
// Unrecognized names map to EntityUnknown.
func ParseEntity(name string) EntityType {
	switch EntityType(name) {
	case EntityAccount, EntityContact, EntityOpportunity, EntityLead, EntityAsset:
		return EntityType(name)
	}
	switch name {
	case "account", "contact", "opportunity", "lead", "asset":
		return EntityType(strings.ToUpper(name[:1]) + name[1:])
	}
	return EntityUnknown
}

// Operator is the comparison a query applies to a field.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpUnknown     Operator = "unknown"
)

// Cardinality is whether a query expects one record or potentially many.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
)

// QueryIntent is the structured form of a free-text query. Raw carries the
// original text for mutating intents, which are not template-rendered.
type QueryIntent struct {
	EntityType     EntityType  `json:"entity_type"`
	Field          string      `json:"field"`
	Operator       Operator    `json:"operator"`
	Value          string      `json:"value"`
	SecondaryField string      `json:"secondary_field,omitempty"`
	SecondaryValue string      `json:"secondary_value,omitempty"`
	Cardinality    Cardinality `json:"cardinality"`
	Mutating       bool        `json:"mutating"`
	Raw            string      `json:"-"`
}

// ConfusionSignal reports that a query could not be resolved into a usable
// intent. It is an expected turn outcome, not a processing failure, and it
// must never reach the automation connector.
type ConfusionSignal struct {
	Query   string
	Missing string // what could not be resolved: "entity", "operator", "value"
	Message string // optional user-facing clarification from the completion path
}

func (c *ConfusionSignal) Error() string {
	return fmt.Sprintf("cannot resolve %s from query %q", c.Missing, c.Query)
}

// Clarification returns the user-facing text asking for a better query.
func (c *ConfusionSignal) Clarification() string {
	if c.Message != "" {
		return c.Message
	}
	switch c.Missing {
	case "entity":
		return "I need more specific information. Could you specify the type of record you're looking for, such as an account, contact, opportunity or lead?"
	case "value":
		return "I need more specific information. Could you specify a name, email or other value to search for?"
	default:
		return "I need more specific information. Could you rephrase your request?"
	}
}
