package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStatStore struct {
	mu    sync.Mutex
	saved []TemplateStat
	err   error
}

func (f *fakeStatStore) UpsertTemplateStat(_ context.Context, stat TemplateStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, stat)
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	payloads []map[string]any
}

func (f *fakeBus) Publish(subject string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	if m, ok := payload.(map[string]any); ok {
		f.payloads = append(f.payloads, m)
	}
	return nil
}

func TestTracker_RecordOutcome(t *testing.T) {
	tr := NewTracker(nil, nil, discardLogger())
	ctx := context.Background()

	tr.RecordOutcome(ctx, "equals/single/any", true)
	if got := tr.Score("equals/single/any"); math.Abs(got-0.52) > 0.001 {
		t.Errorf("score after one success = %v, want 0.52", got)
	}

	tr.RecordOutcome(ctx, "equals/single/any", false)
	if got := tr.Score("equals/single/any"); math.Abs(got-0.48) > 0.001 {
		t.Errorf("score after success then failure = %v, want 0.48", got)
	}
}

func TestTracker_UnknownKeyIsNeutral(t *testing.T) {
	tr := NewTracker(nil, nil, discardLogger())
	if got := tr.Score("never/seen/key"); math.Abs(got-NeutralScore) > 0.001 {
		t.Errorf("unknown key score = %v, want %v", got, NeutralScore)
	}
}

func TestTracker_EmptyKeyIgnored(t *testing.T) {
	store := &fakeStatStore{}
	tr := NewTracker(store, nil, discardLogger())

	tr.RecordOutcome(context.Background(), "", true)

	if len(tr.Snapshot()) != 0 {
		t.Errorf("expected no tracked templates, got %d", len(tr.Snapshot()))
	}
	if len(store.saved) != 0 {
		t.Errorf("expected no store writes, got %d", len(store.saved))
	}
}

func TestTracker_SnapshotSortsLeastReliableFirst(t *testing.T) {
	tr := NewTracker(nil, nil, discardLogger())
	ctx := context.Background()

	tr.RecordOutcome(ctx, "worst", false)
	tr.RecordOutcome(ctx, "worst", false)
	tr.RecordOutcome(ctx, "best", true)
	tr.RecordOutcome(ctx, "best", true)
	tr.RecordOutcome(ctx, "mid", true)

	snap := tr.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(snap))
	}
	wantOrder := []string{"worst", "mid", "best"}
	for i, want := range wantOrder {
		if snap[i].TemplateKey != want {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].TemplateKey, want)
		}
	}
	if snap[0].Failures != 2 || snap[0].Successes != 0 {
		t.Errorf("worst counts = %d/%d, want 0/2",
			snap[0].Successes, snap[0].Failures)
	}
}

func TestTracker_PersistsEachOutcome(t *testing.T) {
	store := &fakeStatStore{}
	tr := NewTracker(store, nil, discardLogger())
	ctx := context.Background()

	tr.RecordOutcome(ctx, "equals/single/any", true)
	tr.RecordOutcome(ctx, "equals/single/any", false)

	if len(store.saved) != 2 {
		t.Fatalf("expected 2 store writes, got %d", len(store.saved))
	}
	last := store.saved[1]
	if last.TemplateKey != "equals/single/any" {
		t.Errorf("persisted key = %q", last.TemplateKey)
	}
	if last.Successes != 1 || last.Failures != 1 {
		t.Errorf("persisted counts = %d/%d, want 1/1", last.Successes, last.Failures)
	}
	if last.LastOutcome.IsZero() {
		t.Error("persisted stat has zero LastOutcome")
	}
}

func TestTracker_StoreErrorDoesNotBlockScoring(t *testing.T) {
	store := &fakeStatStore{err: errors.New("connection refused")}
	tr := NewTracker(store, nil, discardLogger())

	tr.RecordOutcome(context.Background(), "equals/single/any", true)

	if got := tr.Score("equals/single/any"); math.Abs(got-0.52) > 0.001 {
		t.Errorf("score after store failure = %v, want 0.52", got)
	}
}

func TestTracker_PublishesOnThresholdCrossing(t *testing.T) {
	bus := &fakeBus{}
	tr := NewTracker(nil, bus, discardLogger())
	ctx := context.Background()

	tr.Load([]TemplateStat{{TemplateKey: "contains/multi/text", Score: 0.32}})

	tr.RecordOutcome(ctx, "contains/multi/text", false)
	if len(bus.subjects) != 1 {
		t.Fatalf("expected 1 event after crossing, got %d", len(bus.subjects))
	}
	if bus.subjects[0] != "crm.bartleby.template.anomaly" {
		t.Errorf("subject = %q", bus.subjects[0])
	}
	event := bus.payloads[0]
	if event["signal"] != "reliability_degraded" {
		t.Errorf("signal = %v", event["signal"])
	}
	if event["template_key"] != "contains/multi/text" {
		t.Errorf("template_key = %v", event["template_key"])
	}

	tr.RecordOutcome(ctx, "contains/multi/text", false)
	if len(bus.subjects) != 1 {
		t.Errorf("expected no event below threshold, got %d", len(bus.subjects))
	}
}

func TestTracker_LoadSeedsScores(t *testing.T) {
	tr := NewTracker(nil, nil, discardLogger())
	tr.Load([]TemplateStat{
		{TemplateKey: "equals/single/any", Score: 0.8, Successes: 40, Failures: 2},
		{TemplateKey: "contains/multi/text", Score: 1.7},
	})

	if got := tr.Score("equals/single/any"); math.Abs(got-0.8) > 0.001 {
		t.Errorf("loaded score = %v, want 0.8", got)
	}
	// Out-of-range persisted values are clamped on the way in.
	if got := tr.Score("contains/multi/text"); math.Abs(got-1.0) > 0.001 {
		t.Errorf("clamped score = %v, want 1.0", got)
	}
}

func TestTracker_DecayDriftsTowardNeutral(t *testing.T) {
	tr := NewTracker(nil, nil, discardLogger())
	tr.Load([]TemplateStat{
		{TemplateKey: "high", Score: 0.9},
		{TemplateKey: "low", Score: 0.1},
	})

	tr.Decay(0.1, 1)

	if got := tr.Score("high"); math.Abs(got-0.86) > 0.001 {
		t.Errorf("high after decay = %v, want 0.86", got)
	}
	if got := tr.Score("low"); math.Abs(got-0.14) > 0.001 {
		t.Errorf("low after decay = %v, want 0.14", got)
	}
}
