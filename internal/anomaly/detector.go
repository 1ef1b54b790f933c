package anomaly

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/bartleby/internal/instruction"
	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
)

// Subject carries mis-parse signals to operators. The reliability tracker
// publishes score degradations on the same subject.
const Subject = "crm.bartleby.template.anomaly"

// TemplateScorer records a failure against the template that produced a
// mis-parsed instruction.
type TemplateScorer interface {
	RecordOutcome(ctx context.Context, templateKey string, success bool)
}

// EventPublisher carries anomaly signals to the event bus.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Detector watches connector traffic for signs that the connector's natural
// language parser misread an instruction. The classic failure: a template
// that spells out its operator gets the literal word captured as the search
// value, and every result echoes it back. Scores and events are optional.
type Detector struct {
	scores TemplateScorer
	events EventPublisher
	logger *slog.Logger
}

func NewDetector(scores TemplateScorer, events EventPublisher, logger *slog.Logger) *Detector {
	return &Detector{scores: scores, events: events, logger: logger}
}

// operatorWords are the literal phrasings that show up in record data when
// the connector captures an operator as a value.
var operatorWords = map[intent.Operator]string{
	intent.OpEquals:      "equals",
	intent.OpContains:    "contains",
	intent.OpStartsWith:  "starts with",
	intent.OpGreaterThan: "greater than",
	intent.OpLessThan:    "less than",
}

// InspectRecords checks a parsed result set against the intent that produced
// it. A hit counts as a template failure even though the call parsed, since
// the records answer a different question than the one asked.
func (d *Detector) InspectRecords(ctx context.Context, qi *intent.QueryIntent, instr instruction.Instruction, records normalize.RecordSet) {
	if qi == nil || len(records) == 0 {
		return
	}

	if field, id := operatorEcho(qi, records); field != "" {
		d.flag(ctx, instr, "operator_echo", map[string]any{
			"field":     field,
			"record_id": id,
		})
		return
	}
	if field, id := valueAsField(qi, records); field != "" {
		d.flag(ctx, instr, "value_as_field", map[string]any{
			"field":     field,
			"record_id": id,
			"value":     qi.Value,
		})
	}
}

// InspectFollowUp checks whether the connector asked for something the
// instruction already carried. A redundant question means the parser never
// read that part of the instruction.
func (d *Detector) InspectFollowUp(ctx context.Context, instr instruction.Instruction, question string) {
	if !redundantFollowUp(instr, question) {
		return
	}
	d.flag(ctx, instr, "redundant_follow_up", map[string]any{
		"question": question,
	})
}

// InspectRejection publishes rejected instructions with their template key so
// operators can spot a phrasing the connector has stopped accepting. The
// caller scores the failure; this only reports it.
func (d *Detector) InspectRejection(ctx context.Context, instr instruction.Instruction, code int) {
	d.logger.Warn("instruction rejected by connector",
		"template_key", instr.TemplateKey,
		"code", code,
	)
	d.publish("instruction_rejected", map[string]any{
		"signal":       "instruction_rejected",
		"template_key": instr.TemplateKey,
		"instruction":  instr.Text,
		"code":         code,
	})
}

// operatorEcho finds a record field whose whole value is the literal operator
// word, the signature of the parser capturing the operator as data.
func operatorEcho(qi *intent.QueryIntent, records normalize.RecordSet) (string, string) {
	word := operatorWords[qi.Operator]
	if word == "" {
		return "", ""
	}
	for _, rec := range records {
		for field, value := range rec.Fields {
			if strings.EqualFold(strings.TrimSpace(value), word) {
				return field, rec.ID
			}
		}
	}
	return "", ""
}

// valueAsField finds the search value used as a field name, the signature of
// the parser swapping field and value.
func valueAsField(qi *intent.QueryIntent, records normalize.RecordSet) (string, string) {
	value := strings.TrimSpace(qi.Value)
	if value == "" || strings.EqualFold(value, qi.Field) {
		return "", ""
	}
	for _, rec := range records {
		for field := range rec.Fields {
			if strings.EqualFold(field, value) {
				return field, rec.ID
			}
		}
	}
	return "", ""
}

// redundantFollowUp reports whether the question asks for the record type or
// the search value. Rendered instructions always carry both, so for them any
// such question is redundant. Mutating pass-through text is only flagged when
// it visibly names an entity the question asks for.
func redundantFollowUp(instr instruction.Instruction, question string) bool {
	q := strings.ToLower(question)

	asksType := strings.Contains(q, "record type") ||
		strings.Contains(q, "type of record") ||
		strings.Contains(q, "what type") ||
		strings.Contains(q, "which type")
	asksValue := strings.Contains(q, "what value") ||
		strings.Contains(q, "which value") ||
		strings.Contains(q, "search for")

	if !instr.Mutating && (asksType || asksValue) {
		return true
	}
	if asksType {
		text := strings.ToLower(instr.Text)
		for _, entity := range []string{"account", "contact", "opportunity", "lead", "asset"} {
			if strings.Contains(text, entity) {
				return true
			}
		}
	}
	return false
}

func (d *Detector) flag(ctx context.Context, instr instruction.Instruction, signal string, extra map[string]any) {
	d.logger.Warn("template anomaly detected",
		"signal", signal,
		"template_key", instr.TemplateKey,
		"instruction", instr.Text,
	)

	if d.scores != nil {
		d.scores.RecordOutcome(ctx, instr.TemplateKey, false)
	}

	event := map[string]any{
		"signal":       signal,
		"template_key": instr.TemplateKey,
		"instruction":  instr.Text,
	}
	for k, v := range extra {
		event[k] = v
	}
	d.publish(signal, event)
}

func (d *Detector) publish(signal string, event map[string]any) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(Subject, event); err != nil {
		d.logger.Error("failed to publish anomaly event",
			"signal", signal,
			"error", err)
	}
}
