package instruction

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRender_Table(t *testing.T) {
	tests := []struct {
		name     string
		qi       *intent.QueryIntent
		wantText string
		wantKey  string
	}{
		{
			name: "single account by name",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "Name",
				Operator:    intent.OpEquals,
				Value:       "QA TESTING",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Find Account name: QA TESTING",
			wantKey:  "equals/single/any",
		},
		{
			name: "accounts containing a name fragment",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "Name",
				Operator:    intent.OpContains,
				Value:       "QA",
				Cardinality: intent.CardinalityMultiple,
			},
			wantText: "Show me accounts with the name QA in the account name",
			wantKey:  "contains/multiple/name",
		},
		{
			name: "record id uses the id template",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityContact,
				Field:       "Id",
				Operator:    intent.OpEquals,
				Value:       "003Ab00001XyZab",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Find Contact with Id 003Ab00001XyZab",
			wantKey:  "equals/single/id",
		},
		{
			name: "multiple equals on a camel-case field",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityOpportunity,
				Field:       "StageName",
				Operator:    intent.OpEquals,
				Value:       "Closed Won",
				Cardinality: intent.CardinalityMultiple,
			},
			wantText: "Show me opportunities with stage name: Closed Won",
			wantKey:  "equals/multiple/any",
		},
		{
			name: "contains on a non-name field",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityContact,
				Field:       "Title",
				Operator:    intent.OpContains,
				Value:       "Engineer",
				Cardinality: intent.CardinalityMultiple,
			},
			wantText: "Show me contacts with Engineer in the title",
			wantKey:  "contains/multiple/any",
		},
		{
			name: "starts with single",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityLead,
				Field:       "Company",
				Operator:    intent.OpStartsWith,
				Value:       "Acer",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Find Lead whose company starts with Acer",
			wantKey:  "starts_with/single/any",
		},
		{
			name: "greater than",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityOpportunity,
				Field:       "Amount",
				Operator:    intent.OpGreaterThan,
				Value:       "50000",
				Cardinality: intent.CardinalityMultiple,
			},
			wantText: "Show me opportunities with amount greater than 50000",
			wantKey:  "greater_than/multiple/any",
		},
		{
			name: "less than single falls back to the multiple template",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityOpportunity,
				Field:       "Amount",
				Operator:    intent.OpLessThan,
				Value:       "1000",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Show me opportunities with amount less than 1000",
			wantKey:  "less_than/multiple/any",
		},
		{
			name: "contains single flips to the name template",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAsset,
				Field:       "Name",
				Operator:    intent.OpContains,
				Value:       "Sierra",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Show me assets with the name Sierra in the asset name",
			wantKey:  "contains/multiple/name",
		},
		{
			name: "value casing survives rendering",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "Name",
				Operator:    intent.OpEquals,
				Value:       "qA TeStInG",
				Cardinality: intent.CardinalitySingle,
			},
			wantText: "Find Account name: qA TeStInG",
			wantKey:  "equals/single/any",
		},
		{
			name: "billing city humanized",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "BillingCity",
				Operator:    intent.OpEquals,
				Value:       "Austin",
				Cardinality: intent.CardinalityMultiple,
			},
			wantText: "Show me accounts with billing city: Austin",
			wantKey:  "equals/multiple/any",
		},
	}

	r := NewRenderer(DefaultTable(), discardLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := r.Render(tt.qi)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inst.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", inst.Text, tt.wantText)
			}
			if inst.TemplateKey != tt.wantKey {
				t.Errorf("TemplateKey = %q, want %q", inst.TemplateKey, tt.wantKey)
			}
			if inst.Mutating {
				t.Error("Mutating = true for a read intent")
			}
		})
	}
}

// The connector misreads phrasings that name the contains operator, capturing
// the literal word as the search value. No rendered contains instruction may
// include it.
func TestRender_ContainsNeverNamesOperator(t *testing.T) {
	r := NewRenderer(DefaultTable(), discardLogger())

	entities := []intent.EntityType{
		intent.EntityAccount,
		intent.EntityContact,
		intent.EntityOpportunity,
		intent.EntityLead,
		intent.EntityAsset,
	}
	fields := []string{"Name", "Title", "BillingCity", "StageName", "SerialNumber"}

	for _, entity := range entities {
		for _, field := range fields {
			inst, err := r.Render(&intent.QueryIntent{
				EntityType:  entity,
				Field:       field,
				Operator:    intent.OpContains,
				Value:       "QA",
				Cardinality: intent.CardinalityMultiple,
			})
			if err != nil {
				t.Fatalf("Render(%s, %s): %v", entity, field, err)
			}
			if strings.Contains(strings.ToLower(inst.Text), "contains") {
				t.Errorf("Render(%s, %s) = %q, names the operator", entity, field, inst.Text)
			}
		}
	}
}

func TestRender_MutatingPassThrough(t *testing.T) {
	r := NewRenderer(DefaultTable(), discardLogger())

	inst, err := r.Render(&intent.QueryIntent{
		EntityType: intent.EntityContact,
		Operator:   intent.OpEquals,
		Mutating:   true,
		Raw:        "  log a call   with John Smith about \t renewal  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Text != "log a call with John Smith about renewal" {
		t.Errorf("Text = %q", inst.Text)
	}
	if inst.TemplateKey != MutationKey {
		t.Errorf("TemplateKey = %q, want %q", inst.TemplateKey, MutationKey)
	}
	if !inst.Mutating {
		t.Error("Mutating flag not set")
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name string
		qi   *intent.QueryIntent
	}{
		{name: "nil intent", qi: nil},
		{
			name: "unresolved entity",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityUnknown,
				Field:       "Name",
				Operator:    intent.OpEquals,
				Value:       "Acme",
				Cardinality: intent.CardinalitySingle,
			},
		},
		{
			name: "unresolved operator",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "Name",
				Operator:    intent.OpUnknown,
				Value:       "Acme",
				Cardinality: intent.CardinalitySingle,
			},
		},
		{
			name: "blank value",
			qi: &intent.QueryIntent{
				EntityType:  intent.EntityAccount,
				Field:       "Name",
				Operator:    intent.OpEquals,
				Value:       "   ",
				Cardinality: intent.CardinalitySingle,
			},
		},
		{
			name: "mutating with empty raw text",
			qi:   &intent.QueryIntent{Mutating: true, Raw: "   "},
		},
	}

	r := NewRenderer(DefaultTable(), discardLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Render(tt.qi); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRender_MissingTemplate(t *testing.T) {
	r := NewRenderer(Table{}, discardLogger())

	_, err := r.Render(&intent.QueryIntent{
		EntityType:  intent.EntityAccount,
		Field:       "Name",
		Operator:    intent.OpEquals,
		Value:       "Acme",
		Cardinality: intent.CardinalitySingle,
	})
	if err == nil {
		t.Fatal("expected error for empty table")
	}
}

func TestLoadTable_EmptyPathReturnsDefaults(t *testing.T) {
	table, err := LoadTable("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defaults := DefaultTable()
	if len(table) != len(defaults) {
		t.Fatalf("expected %d templates, got %d", len(defaults), len(table))
	}
	if table["equals/single/any"] != defaults["equals/single/any"] {
		t.Errorf("default template changed: %q", table["equals/single/any"])
	}
}

func TestLoadTable_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	override := `{"contains/multiple/name": "Show me {entities} whose {entity} name mentions {value}"}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewRenderer(table, discardLogger())
	inst, err := r.Render(&intent.QueryIntent{
		EntityType:  intent.EntityAccount,
		Field:       "Name",
		Operator:    intent.OpContains,
		Value:       "QA",
		Cardinality: intent.CardinalityMultiple,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Text != "Show me accounts whose account name mentions QA" {
		t.Errorf("Text = %q", inst.Text)
	}

	// Keys the override file does not mention keep their defaults.
	if table["equals/single/id"] != DefaultTable()["equals/single/id"] {
		t.Errorf("untouched template changed: %q", table["equals/single/id"])
	}
}

func TestLoadTable_RejectsOperatorLiteral(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	override := `{"contains/multiple/any": "Show me {entities} that contains {value} in the {field}"}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadTable(path); err == nil {
		t.Fatal("expected error for a contains template naming the operator")
	}
}

func TestLoadTable_RejectsEmptyTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	if err := os.WriteFile(path, []byte(`{"equals/single/any": "   "}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadTable(path); err == nil {
		t.Fatal("expected error for an empty template")
	}
}

func TestLoadTable_BadFile(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "templates.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestFieldPhrase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Name", "name"},
		{"Id", "id"},
		{"Email", "email"},
		{"BillingCity", "billing city"},
		{"AccountId", "account id"},
		{"MobilePhone", "mobile phone"},
		{"StageName", "stage name"},
		{"CloseDate", "close date"},
		{"SerialNumber", "serial number"},
	}

	for _, tt := range tests {
		if got := FieldPhrase(tt.in); got != tt.want {
			t.Errorf("FieldPhrase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
