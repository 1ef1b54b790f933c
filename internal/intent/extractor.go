package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/bartleby/internal/openai"
)

// Extractor resolves free-form queries into QueryIntents. When a completion
// client is configured, extraction is delegated to it first; the keyword
// heuristics are the mandatory fallback and the only path in offline mode.
type Extractor struct {
	llm    *openai.Client
	logger *slog.Logger
}

// New creates an extractor. llm may be nil, in which case only the local
// heuristics run.
func New(llm *openai.Client, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

type llmIntent struct {
	EntityType     string `json:"entity_type"`
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	Value          string `json:"value"`
	SecondaryField string `json:"secondary_field"`
	SecondaryValue string `json:"secondary_value"`
	Cardinality    string `json:"cardinality"`
	Mutating       bool   `json:"mutating"`
	Clarification  string `json:"clarification"`
}

// Extract resolves rawQuery into a QueryIntent. A *ConfusionSignal error is
// the expected outcome for queries that cannot be resolved; any completion
// failure is recovered by the local heuristics and never surfaced.
func (e *Extractor) Extract(ctx context.Context, rawQuery string) (*QueryIntent, error) {
	if e.llm != nil {
		qi, err := e.extractViaCompletion(ctx, rawQuery)
		if err == nil {
			return qi, nil
		}
		var confusion *ConfusionSignal
		if errors.As(err, &confusion) {
			// The capability answered and asked for clarification. Its
			// verdict stands; falling back would second-guess it.
			return nil, err
		}
		e.logger.Warn("completion extraction unavailable, using local heuristics",
			"error", err,
		)
	}

	qi, confusion := extractLocal(rawQuery)
	if confusion != nil {
		return nil, confusion
	}
	return qi, nil
}

func (e *Extractor) extractViaCompletion(ctx context.Context, rawQuery string) (*QueryIntent, error) {
	prompt := fmt.Sprintf(extractionUserPrompt, rawQuery)

	raw, err := e.llm.Complete(ctx, systemPrompt, []openai.Message{
		{Role: "user", Content: prompt},
	}, 300)
	if err != nil {
		return nil, fmt.Errorf("completion call: %w", err)
	}

	// The model sometimes answers vague queries with prose instead of the
	// clarification field. Treat the known phrasings as a clarification.
	if strings.Contains(raw, "I need more specific information") || strings.Contains(raw, "Could you specify") {
		return nil, &ConfusionSignal{Query: rawQuery, Missing: "clarity", Message: strings.TrimSpace(raw)}
	}

	var resp llmIntent
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		e.logger.Debug("unparseable completion response", "raw", raw)
		return nil, fmt.Errorf("parse completion response: %w", err)
	}

	if resp.Clarification != "" {
		return nil, &ConfusionSignal{Query: rawQuery, Missing: "clarity", Message: resp.Clarification}
	}

	qi, err := resp.toQueryIntent(rawQuery)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("intent extracted via completion",
		"entity", qi.EntityType,
		"field", qi.Field,
		"operator", qi.Operator,
		"cardinality", qi.Cardinality,
		"mutating", qi.Mutating,
	)
	return qi, nil
}

// toQueryIntent validates the completion response against the intent
// invariants so downstream code is agnostic to which extraction path ran.
func (r llmIntent) toQueryIntent(rawQuery string) (*QueryIntent, error) {
	entity := ParseEntity(r.EntityType)
	if entity == EntityUnknown {
		return nil, fmt.Errorf("completion returned unknown entity_type %q", r.EntityType)
	}

	op := Operator(r.Operator)
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpGreaterThan, OpLessThan:
	default:
		return nil, fmt.Errorf("completion returned unknown operator %q", r.Operator)
	}

	if strings.TrimSpace(r.Value) == "" {
		return nil, fmt.Errorf("completion returned empty value")
	}

	card := Cardinality(r.Cardinality)
	if card != CardinalitySingle && card != CardinalityMultiple {
		card = CardinalitySingle
		if op == OpContains {
			card = CardinalityMultiple
		}
	}

	field := r.Field
	if field == "" {
		field = CanonicalField(entity, "name")
	}

	return &QueryIntent{
		EntityType:     entity,
		Field:          field,
		Operator:       op,
		Value:          r.Value,
		SecondaryField: r.SecondaryField,
		SecondaryValue: r.SecondaryValue,
		Cardinality:    card,
		Mutating:       r.Mutating,
		Raw:            strings.TrimSpace(rawQuery),
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
