package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/bartleby/internal/instruction"
	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
	"github.com/MikeSquared-Agency/bartleby/internal/present"
	"github.com/MikeSquared-Agency/bartleby/internal/zapier"
)

// Kind discriminates the outcomes a turn can surface.
type Kind string

const (
	KindClarification       Kind = "clarification"
	KindRecordDetail        Kind = "record_detail"
	KindRecordSelection     Kind = "record_selection"
	KindNoResults           Kind = "no_results"
	KindConfirmationRequest Kind = "confirmation_request"
	KindActionResult        Kind = "action_result"
)

// TurnResult is the single outcome of one processed turn.
type TurnResult struct {
	SessionID string          `json:"session_id"`
	Kind      Kind            `json:"kind"`
	Message   string          `json:"message"`
	State     State           `json:"state"`
	Detail    *RecordDetail   `json:"detail,omitempty"`
	Summaries []RecordSummary `json:"summaries,omitempty"`

	// Audit context for the turn log and events, not part of the reply.
	instr  instruction.Instruction
	entity intent.EntityType
}

// RecordDetail carries the presented record for a record_detail turn. The
// canonical record rides along so callers can save or export it.
type RecordDetail struct {
	Record normalize.CanonicalRecord `json:"record"`
	View   present.View              `json:"view"`
}

// RecordSummary is one selectable candidate in a record_selection turn.
type RecordSummary struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Display string `json:"display"`
}

// IntentExtractor resolves raw text into a query intent.
type IntentExtractor interface {
	Extract(ctx context.Context, raw string) (*intent.QueryIntent, error)
}

// InstructionRenderer phrases a query intent for the connector.
type InstructionRenderer interface {
	Render(qi *intent.QueryIntent) (instruction.Instruction, error)
}

// Connector executes one rendered instruction against the CRM.
type Connector interface {
	Invoke(ctx context.Context, instructionText string) ([]byte, string, error)
}

// PayloadNormalizer parses connector payloads into canonical records.
type PayloadNormalizer interface {
	Normalize(payload []byte) (normalize.RecordSet, error)
}

// TemplateScorer records per-template connector outcomes for the
// reliability loop.
type TemplateScorer interface {
	RecordOutcome(ctx context.Context, templateKey string, success bool)
}

// AnomalyInspector looks for template mis-parse signals around a connector
// call.
type AnomalyInspector interface {
	InspectRecords(ctx context.Context, qi *intent.QueryIntent, instr instruction.Instruction, records normalize.RecordSet)
	InspectFollowUp(ctx context.Context, instr instruction.Instruction, question string)
	InspectRejection(ctx context.Context, instr instruction.Instruction, code int)
}

// TurnRecorder persists processed turns for the history API.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, sessionID, raw, kind, instructionText, templateKey, entity string, recordCount int) error
}

// EventPublisher fans turn events out to the bus.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Hooks are the optional collaborators around a turn. Any field may be nil.
type Hooks struct {
	Scores    TemplateScorer
	Anomalies AnomalyInspector
	Turns     TurnRecorder
	Events    EventPublisher
}

// Engine drives the per-session conversation machine: it resolves raw text
// into intents, renders and executes instructions, and owns every state
// transition. One turn per session runs at a time.
type Engine struct {
	extractor  IntentExtractor
	renderer   InstructionRenderer
	connector  Connector
	normalizer PayloadNormalizer
	sessions   *Manager
	hooks      Hooks
	logger     *slog.Logger
}

func New(ext IntentExtractor, rend InstructionRenderer, conn Connector, norm PayloadNormalizer, hooks Hooks, historyLimit int, logger *slog.Logger) *Engine {
	return &Engine{
		extractor:  ext,
		renderer:   rend,
		connector:  conn,
		normalizer: norm,
		sessions:   NewManager(historyLimit),
		hooks:      hooks,
		logger:     logger,
	}
}

// Sessions exposes the session manager for history, save and status reads.
func (e *Engine) Sessions() *Manager {
	return e.sessions
}

// ProcessTurn runs one raw input through the conversation machine and
// returns exactly one outcome. Every failure maps to a user-facing result;
// nothing is retried automatically.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, raw string) *TurnResult {
	sess := e.sessions.Get(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeen = time.Now()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &TurnResult{
			SessionID: sess.ID,
			Kind:      KindClarification,
			Message:   "Tell me what you would like to find or do in the CRM.",
			State:     sess.state,
		}
	}

	res := e.route(ctx, sess, raw)
	res.SessionID = sess.ID
	res.State = sess.state
	e.finish(ctx, sess, raw, res)
	return res
}

func (e *Engine) route(ctx context.Context, sess *Session, raw string) *TurnResult {
	switch sess.state {
	case StateAwaitingSelection:
		return e.handleSelection(ctx, sess, raw)
	case StateDetailShown:
		return e.handleDetail(ctx, sess, raw)
	case StateAwaitingFollowUpInput:
		return e.handleFollowUpInput(ctx, sess, raw)
	case StateAwaitingConfirmation:
		return e.handleConfirmation(ctx, sess, raw)
	default:
		return e.handleQuery(ctx, sess, raw)
	}
}

// handleQuery processes raw text as a fresh query from Idle.
func (e *Engine) handleQuery(ctx context.Context, sess *Session, raw string) *TurnResult {
	if IsDismissal(raw) {
		sess.reset()
		return &TurnResult{Kind: KindClarification, Message: "Nothing is pending. Tell me what you would like to find."}
	}
	sess.history.Add(raw)

	qi, err := e.extractor.Extract(ctx, raw)
	if err != nil {
		var confusion *intent.ConfusionSignal
		if errors.As(err, &confusion) {
			return &TurnResult{Kind: KindClarification, Message: confusion.Clarification()}
		}
		e.logger.Error("extraction failed", "session", sess.ID, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not work out what to look for. Try naming the record type and a value, like \"find contact john@acme.com\"."}
	}

	instr, err := e.renderer.Render(qi)
	if err != nil {
		e.logger.Error("render failed", "session", sess.ID, "query", raw, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not phrase that for the CRM connector. Please rephrase your request."}
	}

	if instr.Mutating {
		return e.requestConfirmation(sess, instr)
	}
	return e.runSearch(ctx, sess, qi, instr, raw)
}

// handleSelection resolves input while a candidate list is pending. A pick
// issues a by-id lookup; anything that is not a pick or a dismissal discards
// the candidates and runs as a fresh query.
func (e *Engine) handleSelection(ctx context.Context, sess *Session, raw string) *TurnResult {
	if IsDismissal(raw) {
		sess.reset()
		return &TurnResult{Kind: KindClarification, Message: "Okay, I have set those results aside. What would you like to do next?"}
	}

	if n, ok := parseOrdinal(raw); ok {
		if n < 1 || n > len(sess.pendingSelection) {
			return &TurnResult{
				Kind:    KindClarification,
				Message: fmt.Sprintf("Reply with a number between 1 and %d, a record id, or 'cancel' to start over.", len(sess.pendingSelection)),
			}
		}
		return e.selectCandidate(ctx, sess, sess.pendingSelection[n-1])
	}

	if intent.LooksLikeRecordID(raw) {
		for _, rec := range sess.pendingSelection {
			if rec.ID == raw {
				return e.selectCandidate(ctx, sess, rec)
			}
		}
	}

	// New unrelated query. The candidates are discarded before it runs so
	// nothing from the dismissed selection leaks into its resolution.
	sess.reset()
	return e.handleQuery(ctx, sess, raw)
}

// selectCandidate confirms a picked candidate with a by-id lookup.
func (e *Engine) selectCandidate(ctx context.Context, sess *Session, cand normalize.CanonicalRecord) *TurnResult {
	entity := cand.EntityType
	if entity == intent.EntityUnknown {
		entity = sess.selectionEntity
	}
	qi := &intent.QueryIntent{
		EntityType:  entity,
		Field:       "Id",
		Operator:    intent.OpEquals,
		Value:       cand.ID,
		Cardinality: intent.CardinalitySingle,
	}

	instr, err := e.renderer.Render(qi)
	if err != nil {
		// Entity never resolved for this row; show the cached candidate.
		e.logger.Warn("by-id render failed, using cached record", "session", sess.ID, "record", cand.ID, "error", err)
		sess.showDetail(cand)
		return e.detailResult(cand, "Found "+cand.DisplayName)
	}
	return e.runSearch(ctx, sess, qi, instr, cand.ID)
}

// handleDetail resolves input while a record is shown: a follow-up pick, a
// dismissal, or a fresh query that replaces the record context.
func (e *Engine) handleDetail(ctx context.Context, sess *Session, raw string) *TurnResult {
	if IsDismissal(raw) {
		sess.reset()
		return &TurnResult{Kind: KindClarification, Message: "Okay. What would you like to find next?"}
	}

	rec := *sess.selected
	actions := present.FollowUps(rec)

	if n, ok := parseOrdinal(raw); ok {
		if n < 1 || n > len(actions) {
			return &TurnResult{
				Kind:    KindClarification,
				Message: fmt.Sprintf("Pick an action between 1 and %d, or type a new search.", len(actions)),
			}
		}
		return e.startAction(ctx, sess, rec, actions[n-1])
	}
	if action, ok := actionByID(actions, raw); ok {
		return e.startAction(ctx, sess, rec, action)
	}

	sess.reset()
	return e.handleQuery(ctx, sess, raw)
}

// startAction begins a chosen follow-up: collect input first if the action
// needs it, otherwise compose and resolve immediately.
func (e *Engine) startAction(ctx context.Context, sess *Session, rec normalize.CanonicalRecord, action present.Action) *TurnResult {
	if action.NeedsInput {
		sess.pendingAction = &action
		sess.state = StateAwaitingFollowUpInput
		return &TurnResult{Kind: KindClarification, Message: action.Prompt}
	}

	composed, err := present.Compose(action.ID, rec, "")
	if err != nil {
		e.logger.Error("compose follow-up failed", "session", sess.ID, "action", action.ID, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not build that action. Try phrasing it as a direct command."}
	}
	return e.resolveComposed(ctx, sess, composed)
}

// handleFollowUpInput collects the free text a follow-up action asked for
// and feeds the composed query back through intent resolution.
func (e *Engine) handleFollowUpInput(ctx context.Context, sess *Session, raw string) *TurnResult {
	if IsDismissal(raw) {
		sess.pendingAction = nil
		sess.state = StateDetailShown
		return &TurnResult{Kind: KindClarification, Message: "Okay, skipping that. The record is still open; pick another action or start a new search."}
	}

	action := *sess.pendingAction
	rec := *sess.selected
	sess.pendingAction = nil
	sess.state = StateDetailShown

	composed, err := present.Compose(action.ID, rec, raw)
	if err != nil {
		e.logger.Error("compose follow-up failed", "session", sess.ID, "action", action.ID, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not build that action. Try phrasing it as a direct command."}
	}
	return e.resolveComposed(ctx, sess, composed)
}

// handleConfirmation gates the pending mutating instruction on an explicit
// yes or no. An unclear reply re-prompts once, then cancels.
func (e *Engine) handleConfirmation(ctx context.Context, sess *Session, raw string) *TurnResult {
	instr := *sess.pendingInstr

	switch ParseConfirmation(raw) {
	case VerdictConfirmed:
		sess.pendingInstr = nil
		return e.executeAction(ctx, sess, instr)
	case VerdictDeclined:
		sess.reset()
		return &TurnResult{Kind: KindActionResult, Message: "Action cancelled. Nothing was sent to the CRM."}
	default:
		if sess.confirmPrompts >= 1 {
			sess.reset()
			return &TurnResult{Kind: KindActionResult, Message: "Action cancelled. Nothing was sent to the CRM."}
		}
		sess.confirmPrompts++
		return &TurnResult{
			Kind:    KindConfirmationRequest,
			Message: fmt.Sprintf("Please answer yes or no. You're about to perform the action: %q.", instr.Text),
			instr:   instr,
		}
	}
}

// resolveComposed runs a follow-up's composed query through extraction so
// mutating phrasings still hit the confirmation gate.
func (e *Engine) resolveComposed(ctx context.Context, sess *Session, composed string) *TurnResult {
	qi, err := e.extractor.Extract(ctx, composed)
	if err != nil {
		e.logger.Error("composed query extraction failed", "session", sess.ID, "composed", composed, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not process that action. Try phrasing it as a direct command."}
	}

	instr, err := e.renderer.Render(qi)
	if err != nil {
		e.logger.Error("composed query render failed", "session", sess.ID, "composed", composed, "error", err)
		return &TurnResult{Kind: KindClarification, Message: "I could not process that action. Try phrasing it as a direct command."}
	}

	if instr.Mutating {
		return e.requestConfirmation(sess, instr)
	}
	return e.runSearch(ctx, sess, qi, instr, composed)
}

func (e *Engine) requestConfirmation(sess *Session, instr instruction.Instruction) *TurnResult {
	sess.pendingInstr = &instr
	sess.confirmPrompts = 0
	sess.state = StateAwaitingConfirmation
	return &TurnResult{
		Kind:    KindConfirmationRequest,
		Message: fmt.Sprintf("You're about to perform the action: %q. Are you sure you want to proceed? (yes/no)", instr.Text),
		instr:   instr,
	}
}

// runSearch executes a read instruction and maps the record count onto the
// next state: zero ends the turn, one shows a detail, many park a selection.
func (e *Engine) runSearch(ctx context.Context, sess *Session, qi *intent.QueryIntent, instr instruction.Instruction, raw string) *TurnResult {
	payload, tool, err := e.connector.Invoke(ctx, instr.Text)
	if err != nil {
		return e.connectorFailure(ctx, sess, instr, err)
	}

	records, err := e.normalizer.Normalize(payload)
	if err != nil {
		e.logger.Error("connector payload unreadable", "session", sess.ID, "tool", tool, "instruction", instr.Text, "error", err)
		e.score(ctx, instr.TemplateKey, false)
		sess.reset()
		return &TurnResult{
			Kind:    KindClarification,
			Message: "I received a response I could not read from the CRM connector. Please try again.",
			instr:   instr,
			entity:  qi.EntityType,
		}
	}

	e.score(ctx, instr.TemplateKey, true)
	if e.hooks.Anomalies != nil {
		e.hooks.Anomalies.InspectRecords(ctx, qi, instr, records)
	}

	switch len(records) {
	case 0:
		sess.reset()
		return &TurnResult{
			Kind:    KindNoResults,
			Message: fmt.Sprintf("No records found matching your query: %q. Try broader search terms or check that the record exists in your CRM.", raw),
			instr:   instr,
			entity:  qi.EntityType,
		}
	case 1:
		rec := records[0]
		sess.showDetail(rec)
		res := e.detailResult(rec, "Found "+rec.DisplayName)
		res.instr = instr
		return res
	default:
		sess.showSelection(records)
		summaries := make([]RecordSummary, len(records))
		for i, rec := range records {
			summaries[i] = RecordSummary{Index: i + 1, ID: rec.ID, Display: present.Summary(rec)}
		}
		return &TurnResult{
			Kind:      KindRecordSelection,
			Message:   fmt.Sprintf("Found %d %s matching your query. Reply with a number (1-%d), a record id, or 'cancel' to start over.", len(records), sess.selectionEntity.Plural(), len(records)),
			Summaries: summaries,
			instr:     instr,
			entity:    qi.EntityType,
		}
	}
}

// executeAction sends a confirmed mutating instruction. Write results are
// often prose rather than records, so a payload that does not normalize is
// still a success.
func (e *Engine) executeAction(ctx context.Context, sess *Session, instr instruction.Instruction) *TurnResult {
	payload, tool, err := e.connector.Invoke(ctx, instr.Text)
	if err != nil {
		return e.connectorFailure(ctx, sess, instr, err)
	}
	e.score(ctx, instr.TemplateKey, true)

	message := "Action completed."
	if records, err := e.normalizer.Normalize(payload); err == nil && len(records) > 0 && records[0].DisplayName != "" {
		message = "Action completed: " + records[0].DisplayName + "."
	}
	e.logger.Info("action executed", "session", sess.ID, "tool", tool, "instruction", instr.Text)

	if sess.selected != nil {
		sess.state = StateDetailShown
	} else {
		sess.reset()
	}
	return &TurnResult{Kind: KindActionResult, Message: message, instr: instr}
}

// connectorFailure maps a failed connector call onto a user-facing result.
// Every branch lands back in Idle; nothing is retried.
func (e *Engine) connectorFailure(ctx context.Context, sess *Session, instr instruction.Instruction, err error) *TurnResult {
	res := &TurnResult{Kind: KindClarification, instr: instr}

	var rejection *zapier.TransportRejection
	var follow *zapier.FollowUpSignal
	switch {
	case errors.As(err, &rejection):
		e.logger.Error("connector rejected instruction",
			"session", sess.ID,
			"code", rejection.Code,
			"instruction", instr.Text,
			"template_key", instr.TemplateKey,
		)
		e.score(ctx, instr.TemplateKey, false)
		if e.hooks.Anomalies != nil {
			e.hooks.Anomalies.InspectRejection(ctx, instr, rejection.Code)
		}
		res.Message = "The CRM connector could not process that request. Please rephrase and try again."
	case errors.As(err, &follow):
		if e.hooks.Anomalies != nil {
			e.hooks.Anomalies.InspectFollowUp(ctx, instr, follow.Question)
		}
		res.Message = follow.Question
	default:
		e.logger.Error("connector call failed", "session", sess.ID, "instruction", instr.Text, "error", err)
		res.Message = "The CRM connector did not respond. Please try again."
	}

	sess.reset()
	return res
}

func (e *Engine) detailResult(rec normalize.CanonicalRecord, message string) *TurnResult {
	return &TurnResult{
		Kind:    KindRecordDetail,
		Message: message,
		Detail:  &RecordDetail{Record: rec, View: present.Record(rec)},
		entity:  rec.EntityType,
	}
}

func (e *Engine) score(ctx context.Context, templateKey string, success bool) {
	if e.hooks.Scores == nil || templateKey == "" {
		return
	}
	e.hooks.Scores.RecordOutcome(ctx, templateKey, success)
}

// finish records the turn and publishes the completion event.
func (e *Engine) finish(ctx context.Context, sess *Session, raw string, res *TurnResult) {
	count := len(res.Summaries)
	if res.Detail != nil {
		count = 1
	}

	if e.hooks.Turns != nil {
		err := e.hooks.Turns.RecordTurn(ctx, sess.ID, raw, string(res.Kind), res.instr.Text, res.instr.TemplateKey, string(res.entity), count)
		if err != nil {
			e.logger.Error("failed to record turn", "session", sess.ID, "error", err)
		}
	}

	if e.hooks.Events != nil {
		evt := map[string]any{
			"session_id": sess.ID,
			"kind":       string(res.Kind),
			"state":      string(sess.state),
			"records":    count,
		}
		if res.entity != "" && res.entity != intent.EntityUnknown {
			evt["entity_type"] = string(res.entity)
		}
		if err := e.hooks.Events.Publish("crm.bartleby.turn.completed", evt); err != nil {
			e.logger.Error("failed to publish turn event", "session", sess.ID, "error", err)
		}
	}
}

// actionByID finds a follow-up action by its id.
func actionByID(actions []present.Action, raw string) (present.Action, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range actions {
		if a.ID == key {
			return a, true
		}
	}
	return present.Action{}, false
}
