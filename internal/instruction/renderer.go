package instruction

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
)

// Instruction is a rendered connector instruction. TemplateKey identifies the
// phrasing that produced it so outcomes can be scored per template.
type Instruction struct {
	Text        string
	TemplateKey string
	Mutating    bool
}

// Renderer turns a resolved QueryIntent into connector phrasing.
type Renderer struct {
	table  Table
	logger *slog.Logger
}

func NewRenderer(table Table, logger *slog.Logger) *Renderer {
	return &Renderer{table: table, logger: logger}
}

// Render selects a template by operator, cardinality and field class and
// substitutes the intent into it. Mutating intents are not template-rendered;
// the connector parses write requests natively, so the cleaned raw text is
// passed through and gated behind confirmation by the caller.
func (r *Renderer) Render(qi *intent.QueryIntent) (Instruction, error) {
	if qi == nil {
		return Instruction{}, fmt.Errorf("nil intent")
	}

	if qi.Mutating {
		text := strings.Join(strings.Fields(qi.Raw), " ")
		if text == "" {
			return Instruction{}, fmt.Errorf("mutating intent with empty raw text")
		}
		return Instruction{Text: text, TemplateKey: MutationKey, Mutating: true}, nil
	}

	if qi.EntityType == intent.EntityUnknown || qi.Operator == intent.OpUnknown {
		return Instruction{}, fmt.Errorf("unresolved intent: entity %q operator %q", qi.EntityType, qi.Operator)
	}
	if strings.TrimSpace(qi.Value) == "" {
		return Instruction{}, fmt.Errorf("intent has no search value")
	}

	key, tpl, ok := r.lookup(qi)
	if !ok {
		return Instruction{}, fmt.Errorf("no template for operator %q cardinality %q field %q", qi.Operator, qi.Cardinality, qi.Field)
	}

	replacer := strings.NewReplacer(
		"{Entity}", string(qi.EntityType),
		"{entity}", qi.EntityType.Lower(),
		"{entities}", qi.EntityType.Plural(),
		"{field}", FieldPhrase(qi.Field),
		"{value}", qi.Value,
	)
	text := replacer.Replace(string(tpl))

	r.logger.Debug("instruction rendered",
		"template", key,
		"entity", qi.EntityType,
		"field", qi.Field,
	)

	return Instruction{Text: text, TemplateKey: key}, nil
}

// lookup walks from the most specific key to the most general one. The
// cardinality flip at the end keeps odd combinations (a contains query that
// somehow resolved single) renderable instead of erroring.
func (r *Renderer) lookup(qi *intent.QueryIntent) (string, Template, bool) {
	class := fieldClass(qi.Field)
	flipped := intent.CardinalitySingle
	if qi.Cardinality == intent.CardinalitySingle {
		flipped = intent.CardinalityMultiple
	}

	keys := []string{
		templateKey(qi.Operator, qi.Cardinality, class),
		templateKey(qi.Operator, qi.Cardinality, "any"),
		templateKey(qi.Operator, flipped, class),
		templateKey(qi.Operator, flipped, "any"),
	}
	for _, k := range keys {
		if tpl, ok := r.table[k]; ok {
			return k, tpl, true
		}
	}
	return "", "", false
}

func fieldClass(field string) string {
	switch field {
	case "Id":
		return "id"
	case "Name":
		return "name"
	default:
		return "other"
	}
}

// FieldPhrase humanizes a canonical field name for use inside an instruction:
// "Name" -> "name", "BillingCity" -> "billing city", "AccountId" -> "account id".
func FieldPhrase(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
