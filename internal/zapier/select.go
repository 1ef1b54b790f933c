package zapier

import (
	"strings"
	"unicode"
)

// Verb families tried in order; the first family with a keyword hit decides
// the tool name preferences for the call.
var toolFamilies = []struct {
	keywords []string
	names    []string
}{
	{
		keywords: []string{"find", "search", "get", "show", "list"},
		names:    []string{"find_record", "find_record_by_query", "find_record_s"},
	},
	{
		keywords: []string{"create", "add", "new"},
		names:    []string{"create_contact", "create_lead", "create_record"},
	},
	{
		keywords: []string{"update", "modify", "change", "convert"},
		names:    []string{"update_record", "update_contact", "update_lead"},
	},
	{
		keywords: []string{"log", "call", "task", "activity"},
		names:    []string{"create_note", "create_record"},
	},
}

var defaultToolNames = []string{"find_record", "create_record"}

// selectTool picks the connector tool for an instruction. Outside any verb
// family, or when no preferred name is in the catalog, the first catalog
// tool is used.
func selectTool(instruction string, tools []Tool) (Tool, bool) {
	if len(tools) == 0 {
		return Tool{}, false
	}

	words := tokenize(instruction)
	names := defaultToolNames
	for _, family := range toolFamilies {
		if containsAny(words, family.keywords) {
			names = family.names
			break
		}
	}

	for _, name := range names {
		for _, tool := range tools {
			if matchesTool(tool.Name, name) {
				return tool, true
			}
		}
	}
	return tools[0], true
}

// matchesTool compares catalog names against a preference, tolerating
// integration prefixes like "salesforce_".
func matchesTool(toolName, name string) bool {
	toolName = strings.ToLower(toolName)
	return toolName == name || strings.HasSuffix(toolName, "_"+name)
}

// tokenize lowercases and splits on non-alphanumeric runes. Keyword checks
// are whole-word: "renewal" must not signal "new", nor "address" "add".
func tokenize(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}

func containsAny(words map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if words[kw] {
			return true
		}
	}
	return false
}
