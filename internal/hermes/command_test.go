package hermes

import "testing"

func TestDecodeCommand(t *testing.T) {
	raw := `{
		"session_id": "sess-001",
		"command": "find account QA TESTING",
		"reply_to": "crm.acme.inbox"
	}`

	signal, err := DecodeCommand([]byte(raw))
	if err != nil {
		t.Fatalf("failed to decode command signal: %v", err)
	}

	if signal.SessionID != "sess-001" {
		t.Errorf("expected session_id 'sess-001', got '%s'", signal.SessionID)
	}
	if signal.Command != "find account QA TESTING" {
		t.Errorf("expected command 'find account QA TESTING', got '%s'", signal.Command)
	}
	if signal.ReplyTo != "crm.acme.inbox" {
		t.Errorf("expected reply_to 'crm.acme.inbox', got '%s'", signal.ReplyTo)
	}
}

func TestDecodeCommand_ReplyToOptional(t *testing.T) {
	raw := `{"session_id": "sess-002", "command": "contact dana@acme.example"}`

	signal, err := DecodeCommand([]byte(raw))
	if err != nil {
		t.Fatalf("failed to decode command signal: %v", err)
	}
	if signal.ReplyTo != "" {
		t.Errorf("expected empty reply_to, got '%s'", signal.ReplyTo)
	}
}

func TestDecodeCommand_Malformed(t *testing.T) {
	if _, err := DecodeCommand([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed signal")
	}
}

func TestDecodeCommand_EmptyCommandStillDecodes(t *testing.T) {
	// An empty command runs a turn and gets a clarification back, so it must
	// survive decoding rather than being dropped at the bus edge.
	signal, err := DecodeCommand([]byte(`{"session_id": "sess-003", "command": ""}`))
	if err != nil {
		t.Fatalf("failed to decode command signal: %v", err)
	}
	if signal.SessionID != "sess-003" {
		t.Errorf("expected session_id 'sess-003', got '%s'", signal.SessionID)
	}
}

func TestCommandSignalResultSubject(t *testing.T) {
	withReply := CommandSignal{SessionID: "sess-001", ReplyTo: "crm.acme.inbox"}
	if got := withReply.ResultSubject("sess-001"); got != "crm.acme.inbox" {
		t.Errorf("expected reply_to to win, got '%s'", got)
	}

	// A blank submitted session id resolves to a generated one during the
	// turn; the result subject follows the resolved id.
	blank := CommandSignal{}
	if got := blank.ResultSubject("9f4c2f1e"); got != "crm.bartleby.turn.result.9f4c2f1e" {
		t.Errorf("expected resolved-session subject, got '%s'", got)
	}
}

func TestSubjectCommandConstant(t *testing.T) {
	if SubjectCommand != "crm.bartleby.command.submitted" {
		t.Errorf("expected SubjectCommand 'crm.bartleby.command.submitted', got '%s'", SubjectCommand)
	}
}

func TestTurnResultSubject(t *testing.T) {
	got := TurnResultSubject("sess-001")
	if got != "crm.bartleby.turn.result.sess-001" {
		t.Errorf("expected 'crm.bartleby.turn.result.sess-001', got '%s'", got)
	}
}
