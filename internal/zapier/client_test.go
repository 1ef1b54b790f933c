package zapier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(url string) *Client {
	return NewClient(url, "test-token", 5*time.Second, discardLogger())
}

type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	} `json:"params"`
}

func TestInvoke_Success(t *testing.T) {
	var calledTool string
	var calledInstructions string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); !strings.Contains(got, "text/event-stream") {
			t.Errorf("Accept = %q", got)
		}

		var req rpcCall
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		switch req.Method {
		case "tools/list":
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"},{\"name\":\"salesforce_create_note\"}]}}\n\n"))
		case "tools/call":
			calledTool = req.Params.Name
			calledInstructions = req.Params.Arguments["instructions"]
			result := `{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"results\": [{\"Id\": \"001Ab00001QaZxy\", \"Name\": \"QA TESTING\"}]}"}]}}`
			w.Write([]byte("event: message\ndata: " + result + "\n\n"))
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
	}))
	defer server.Close()

	c := NewClient("http://connector.invalid", "test-token", 5*time.Second, discardLogger())
	c.SetTestTransport(server.URL)

	payload, tool, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool != "salesforce_find_record" {
		t.Errorf("tool = %q", tool)
	}
	if calledTool != "salesforce_find_record" {
		t.Errorf("connector saw tool %q", calledTool)
	}
	if calledInstructions != "Find Account name: QA TESTING" {
		t.Errorf("connector saw instructions %q", calledInstructions)
	}
	if !strings.Contains(string(payload), "QA TESTING") {
		t.Errorf("payload = %s", payload)
	}
}

func TestInvoke_SelectsByVerbFamily(t *testing.T) {
	var calledTool string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		switch req.Method {
		case "tools/list":
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"},{\"name\":\"salesforce_create_note\"},{\"name\":\"salesforce_update_record\"}]}}\n\n"))
		case "tools/call":
			calledTool = req.Params.Name
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"{\\\"results\\\": []}\"}]}}\n\n"))
		}
	}))
	defer server.Close()

	c := testClient(server.URL)

	if _, _, err := c.Invoke(context.Background(), "log a call for contact 003Ab00001XyZab: discussed renewal"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledTool != "salesforce_create_note" {
		t.Errorf("tool = %q, want salesforce_create_note", calledTool)
	}

	if _, _, err := c.Invoke(context.Background(), "update opportunity 006Ab00001OpQrs stage to Closed Won"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledTool != "salesforce_update_record" {
		t.Errorf("tool = %q, want salesforce_update_record", calledTool)
	}
}

func TestInvoke_TransportRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method == "tools/list" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"}]}}\n\n"))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "malformed instruction"}`))
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	var rejection *TransportRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("error %v is not a TransportRejection", err)
	}
	if rejection.Code != http.StatusBadRequest {
		t.Errorf("Code = %d", rejection.Code)
	}
	if rejection.Instruction != "Find Account name: QA TESTING" {
		t.Errorf("Instruction = %q", rejection.Instruction)
	}
}

func TestInvoke_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		if req.Method == "tools/list" {
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"}]}}\n\n"))
			return
		}
		w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":2,\"error\":{\"code\":-32602,\"message\":\"Invalid params\"}}\n\n"))
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	var rejection *TransportRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("error %v is not a TransportRejection", err)
	}
	if rejection.Code != -32602 {
		t.Errorf("Code = %d", rejection.Code)
	}
}

func TestInvoke_FollowUpQuestion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		if req.Method == "tools/list" {
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"}]}}\n\n"))
			return
		}
		result := `{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"followUpQuestion\": \"Which record type should I search?\"}"}]}}`
		w.Write([]byte("event: message\ndata: " + result + "\n\n"))
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	var follow *FollowUpSignal
	if !errors.As(err, &follow) {
		t.Fatalf("error %v is not a FollowUpSignal", err)
	}
	if follow.Question != "Which record type should I search?" {
		t.Errorf("Question = %q", follow.Question)
	}
}

func TestInvoke_ToolExecutionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		if req.Method == "tools/list" {
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"}]}}\n\n"))
			return
		}
		result := `{"jsonrpc":"2.0","id":2,"result":{"isError":true,"content":[{"type":"text","text":"could not run search"}]}}`
		w.Write([]byte("event: message\ndata: " + result + "\n\n"))
	}))
	defer server.Close()

	c := testClient(server.URL)

	_, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	var rejection *TransportRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("error %v is not a TransportRejection", err)
	}
	if rejection.Detail != "could not run search" {
		t.Errorf("Detail = %q", rejection.Detail)
	}
}

func TestInvoke_EmptyInstruction(t *testing.T) {
	c := testClient("http://connector.invalid")

	_, _, err := c.Invoke(context.Background(), "   ")
	var rejection *TransportRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("error %v is not a TransportRejection", err)
	}
	if rejection.Code != http.StatusBadRequest {
		t.Errorf("Code = %d", rejection.Code)
	}
}

func TestInvoke_PlainJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		if req.Method == "tools/list" {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"salesforce_find_record"}]}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"results\": []}"}]}}`))
	}))
	defer server.Close()

	c := testClient(server.URL)

	payload, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"results": []}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestInvoke_CachesToolCatalog(t *testing.T) {
	listCalls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcCall
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		if req.Method == "tools/list" {
			listCalls++
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[{\"name\":\"salesforce_find_record\"}]}}\n\n"))
			return
		}
		w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"{\\\"results\\\": []}\"}]}}\n\n"))
	}))
	defer server.Close()

	c := testClient(server.URL)

	for i := 0; i < 3; i++ {
		if _, _, err := c.Invoke(context.Background(), "Find Account name: QA TESTING"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if listCalls != 1 {
		t.Errorf("tools/list called %d times, want 1", listCalls)
	}
}

func TestListTools_EmptyCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[]}}\n\n"))
	}))
	defer server.Close()

	c := testClient(server.URL)

	if _, err := c.ListTools(context.Background()); err == nil {
		t.Fatal("expected error for an empty catalog")
	}
}

func TestSelectTool(t *testing.T) {
	catalog := []Tool{
		{Name: "salesforce_create_record"},
		{Name: "salesforce_find_record"},
		{Name: "salesforce_find_record_by_query"},
		{Name: "salesforce_update_record"},
		{Name: "salesforce_create_note"},
	}

	tests := []struct {
		instruction string
		want        string
	}{
		{"Find Account name: QA TESTING", "salesforce_find_record"},
		{"Show me accounts with the name QA in the account name", "salesforce_find_record"},
		{"create a task for contact 003Ab00001XyZab: call next week", "salesforce_create_record"},
		{"update opportunity 006Ab00001OpQrs stage to Closed Won", "salesforce_update_record"},
		{"convert lead 00QAb00001LdXyz", "salesforce_update_record"},
		{"log a call for contact 003Ab00001XyZab: discussed renewal", "salesforce_create_note"},
		{"something with no verb keyword at all", "salesforce_find_record"},
	}

	for _, tt := range tests {
		tool, ok := selectTool(tt.instruction, catalog)
		if !ok {
			t.Errorf("selectTool(%q): no tool", tt.instruction)
			continue
		}
		if tool.Name != tt.want {
			t.Errorf("selectTool(%q) = %s, want %s", tt.instruction, tool.Name, tt.want)
		}
	}

	if _, ok := selectTool("anything", nil); ok {
		t.Error("selectTool with an empty catalog should fail")
	}
}
