package present

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
)

// Follow-up action identifiers.
const (
	ActionLogCall           = "log_call"
	ActionCreateTask        = "create_task"
	ActionViewAccount       = "view_account"
	ActionFindContacts      = "find_contacts"
	ActionViewOpportunities = "view_opportunities"
	ActionLogActivity       = "log_activity"
	ActionUpdateStage       = "update_stage"
	ActionConvertLead       = "convert_lead"
	ActionNewSearch         = "new_search"
)

// Action is a contextual next step offered after a record is shown. Actions
// with NeedsInput collect free text before composing a query; Mutating marks
// actions whose composed query will require confirmation.
type Action struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	NeedsInput bool   `json:"needs_input"`
	Mutating   bool   `json:"mutating"`
	Prompt     string `json:"prompt,omitempty"`
}

// FollowUps derives the next-step actions for a record from its entity type
// alone. Labels embed the record's display name the way the chat surface
// shows them.
func FollowUps(rec normalize.CanonicalRecord) []Action {
	name := rec.DisplayName
	switch rec.EntityType {
	case intent.EntityContact:
		return []Action{
			{ID: ActionLogCall, Label: "Log a call for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the call notes say?"},
			{ID: ActionCreateTask, Label: "Create a follow-up task for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the task say?"},
			{ID: ActionViewAccount, Label: "View linked account details"},
		}
	case intent.EntityAccount:
		return []Action{
			{ID: ActionFindContacts, Label: "Find contacts at " + name},
			{ID: ActionViewOpportunities, Label: "View opportunities for " + name},
			{ID: ActionLogActivity, Label: "Log activity for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the activity note say?"},
		}
	case intent.EntityOpportunity:
		return []Action{
			{ID: ActionUpdateStage, Label: "Update opportunity stage", NeedsInput: true, Mutating: true, Prompt: "What stage should it move to?"},
			{ID: ActionLogActivity, Label: "Log activity for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the activity note say?"},
			{ID: ActionViewAccount, Label: "View related account"},
		}
	case intent.EntityLead:
		return []Action{
			{ID: ActionLogCall, Label: "Log a call for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the call notes say?"},
			{ID: ActionConvertLead, Label: "Convert this lead", Mutating: true},
			{ID: ActionCreateTask, Label: "Create a follow-up task for " + name, NeedsInput: true, Mutating: true, Prompt: "What should the task say?"},
		}
	default:
		return []Action{
			{ID: ActionCreateTask, Label: "Create a related task", NeedsInput: true, Mutating: true, Prompt: "What should the task say?"},
			{ID: ActionNewSearch, Label: "Start a new search", NeedsInput: true, Prompt: "What would you like to search for?"},
		}
	}
}

// ActionFor returns the definition of one follow-up action offered for the
// record, matched by id.
func ActionFor(rec normalize.CanonicalRecord, actionID string) (Action, bool) {
	for _, a := range FollowUps(rec) {
		if a.ID == actionID {
			return a, true
		}
	}
	return Action{}, false
}

// Compose turns a chosen follow-up action into a new raw query carrying the
// record's identity. Composed queries flow through intent resolution like any
// typed command, so mutating phrasings still hit the confirmation gate.
func Compose(actionID string, rec normalize.CanonicalRecord, input string) (string, error) {
	input = strings.TrimSpace(input)
	entity := rec.EntityType.Lower()

	switch actionID {
	case ActionLogCall:
		return fmt.Sprintf("log a call for %s %s: %s", entity, rec.ID, input), nil
	case ActionCreateTask:
		return fmt.Sprintf("create a task for %s %s: %s", entity, rec.ID, input), nil
	case ActionLogActivity:
		return fmt.Sprintf("log activity for %s %s: %s", entity, rec.ID, input), nil
	case ActionUpdateStage:
		return fmt.Sprintf("update opportunity %s stage to %s", rec.ID, input), nil
	case ActionViewAccount:
		accountID := rec.Fields["AccountId"]
		if accountID == "" {
			return "", fmt.Errorf("record %s has no linked account", rec.ID)
		}
		return "find account " + accountID, nil
	case ActionFindContacts:
		return "show contacts with account: " + rec.ID, nil
	case ActionViewOpportunities:
		return "show opportunities with account: " + rec.ID, nil
	case ActionConvertLead:
		return "convert lead " + rec.ID, nil
	case ActionNewSearch:
		if input == "" {
			return "", fmt.Errorf("new search needs a query")
		}
		return input, nil
	}
	return "", fmt.Errorf("unknown follow-up action %q", actionID)
}
