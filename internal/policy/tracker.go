package policy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TemplateStat is one template's reliability record.
type TemplateStat struct {
	TemplateKey string    `json:"template_key"`
	Score       float64   `json:"score"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	LastOutcome time.Time `json:"last_outcome"`
}

// StatStore persists per-template stats across restarts.
type StatStore interface {
	UpsertTemplateStat(ctx context.Context, stat TemplateStat) error
}

// EventPublisher carries degradation alerts to the event bus.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Tracker keeps a reliability score for every instruction template key the
// renderer has produced. Both the store and the publisher are optional.
type Tracker struct {
	store  StatStore
	events EventPublisher
	logger *slog.Logger

	mu    sync.Mutex
	stats map[string]*TemplateStat
}

func NewTracker(store StatStore, events EventPublisher, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		events: events,
		logger: logger,
		stats:  make(map[string]*TemplateStat),
	}
}

// Load seeds the tracker, usually from rows persisted by a previous run.
// Later outcomes for the same key build on the loaded stat.
func (t *Tracker) Load(stats []TemplateStat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, stat := range stats {
		s := stat
		s.Score = clamp(s.Score)
		t.stats[s.TemplateKey] = &s
	}
}

// RecordOutcome folds one connector outcome into the template's score.
// Crossing below the degraded threshold publishes a single alert; the
// template must recover above the threshold before it can alert again.
func (t *Tracker) RecordOutcome(ctx context.Context, templateKey string, success bool) {
	if templateKey == "" {
		return
	}

	t.mu.Lock()
	stat, ok := t.stats[templateKey]
	if !ok {
		stat = &TemplateStat{TemplateKey: templateKey, Score: NeutralScore}
		t.stats[templateKey] = stat
	}
	before := stat.Score
	stat.Score = UpdateScore(stat.Score, success)
	if success {
		stat.Successes++
	} else {
		stat.Failures++
	}
	stat.LastOutcome = time.Now().UTC()
	snapshot := *stat
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpsertTemplateStat(ctx, snapshot); err != nil {
			t.logger.Error("failed to persist template stat",
				"template_key", templateKey,
				"error", err)
		}
	}

	if t.events != nil && before >= DegradedThreshold && snapshot.Score < DegradedThreshold {
		event := map[string]any{
			"signal":       "reliability_degraded",
			"template_key": templateKey,
			"score":        snapshot.Score,
			"failures":     snapshot.Failures,
		}
		if err := t.events.Publish("crm.bartleby.template.anomaly", event); err != nil {
			t.logger.Error("failed to publish degradation event",
				"template_key", templateKey,
				"error", err)
		}
	}
}

// Score returns the current score for a template key, or the neutral prior
// when the key has never been used.
func (t *Tracker) Score(templateKey string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stat, ok := t.stats[templateKey]; ok {
		return stat.Score
	}
	return NeutralScore
}

// Snapshot returns all tracked templates sorted by ascending score, the
// least reliable first.
func (t *Tracker) Snapshot() []TemplateStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TemplateStat, 0, len(t.stats))
	for _, stat := range t.stats {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].TemplateKey < out[j].TemplateKey
	})
	return out
}

// Decay applies one decay step per elapsed day to every tracked template.
// Callers run it on a ticker.
func (t *Tracker) Decay(decayRate float64, days int) {
	if days <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, stat := range t.stats {
		stat.Score = DecayScore(stat.Score, decayRate, days)
	}
}
