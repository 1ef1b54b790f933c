//go:build integration

package hermes

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

// Round-trips a command signal the way a sibling service would: submit on
// the command subject, handle it, publish the result on the signal's result
// subject, and receive it there.
func TestIntegration_CommandRoundTrip(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	handled := make(chan CommandSignal, 1)
	if err := client.SubscribeCommands(func(sig CommandSignal) {
		handled <- sig
	}); err != nil {
		t.Fatalf("subscribe commands failed: %v", err)
	}

	results := make(chan []byte, 1)
	sig := CommandSignal{SessionID: "it-sess", Command: "find account QA TESTING"}
	if err := client.Subscribe(sig.ResultSubject(sig.SessionID), func(_ string, data []byte) {
		results <- data
	}); err != nil {
		t.Fatalf("subscribe result subject failed: %v", err)
	}

	// Give subscriptions time to propagate
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(SubjectCommand, sig); err != nil {
		t.Fatalf("publish command failed: %v", err)
	}

	select {
	case got := <-handled:
		if got.Command != sig.Command || got.SessionID != sig.SessionID {
			t.Errorf("handler received %+v, want %+v", got, sig)
		}
		if err := client.Publish(got.ResultSubject(got.SessionID), map[string]string{"message": "done"}); err != nil {
			t.Fatalf("publish result failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command signal")
	}

	select {
	case data := <-results:
		if len(data) == 0 {
			t.Error("empty result payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for turn result")
	}
}

// Malformed signals must be dropped by the command subscription without
// reaching the handler or killing the connection.
func TestIntegration_MalformedCommandDropped(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	handled := make(chan CommandSignal, 1)
	if err := client.SubscribeCommands(func(sig CommandSignal) {
		handled <- sig
	}); err != nil {
		t.Fatalf("subscribe commands failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(SubjectCommand, "not a signal"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := client.Publish(SubjectCommand, CommandSignal{SessionID: "it-sess-2", Command: "find contact dana"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-handled:
		if got.SessionID != "it-sess-2" {
			t.Errorf("expected the well-formed signal, got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for well-formed signal")
	}
}
