package session

import (
	"sync"
	"time"

	"github.com/MikeSquared-Agency/bartleby/internal/instruction"
	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
	"github.com/MikeSquared-Agency/bartleby/internal/present"
	"github.com/google/uuid"
)

// State names a position in the per-conversation machine.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingSelection     State = "awaiting_selection"
	StateDetailShown           State = "detail_shown"
	StateAwaitingFollowUpInput State = "awaiting_follow_up_input"
	StateAwaitingConfirmation  State = "awaiting_confirmation"
)

// Session is the conversational state owned by one conversation. The engine
// holds mu for the whole turn, so at most one turn is in flight per session.
type Session struct {
	ID string

	mu               sync.Mutex
	state            State
	pendingSelection normalize.RecordSet
	selectionEntity  intent.EntityType
	selected         *normalize.CanonicalRecord
	pendingAction    *present.Action
	pendingInstr     *instruction.Instruction
	confirmPrompts   int
	history          *History
	lastSeen         time.Time
}

func newSession(id string, historyLimit int) *Session {
	return &Session{
		ID:       id,
		state:    StateIdle,
		history:  newHistory(historyLimit),
		lastSeen: time.Now(),
	}
}

// State returns the session's current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Selected returns the record currently shown, if any.
func (s *Session) Selected() (normalize.CanonicalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return normalize.CanonicalRecord{}, false
	}
	return *s.selected, true
}

// History returns a copy of the session's recorded commands, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// reset clears every pending structure and returns the machine to Idle.
// Callers must hold mu.
func (s *Session) reset() {
	s.state = StateIdle
	s.pendingSelection = nil
	s.selectionEntity = intent.EntityUnknown
	s.selected = nil
	s.pendingAction = nil
	s.pendingInstr = nil
	s.confirmPrompts = 0
}

// showDetail makes rec the shown record and discards any pending selection.
// Callers must hold mu.
func (s *Session) showDetail(rec normalize.CanonicalRecord) {
	s.reset()
	s.state = StateDetailShown
	s.selected = &rec
}

// showSelection parks the candidate set and waits for the user to pick.
// Callers must hold mu.
func (s *Session) showSelection(records normalize.RecordSet) {
	s.reset()
	s.state = StateAwaitingSelection
	s.pendingSelection = records
	s.selectionEntity = records[0].EntityType
}

// HistoryEntry is one remembered command.
type HistoryEntry struct {
	Command string    `json:"command"`
	At      time.Time `json:"at"`
}

// History is a bounded command log. When full, adding evicts the oldest
// entry. Selection ordinals, confirmation replies and follow-up action ids
// never reach it; only full queries are recorded.
type History struct {
	limit   int
	entries []HistoryEntry
}

func newHistory(limit int) *History {
	if limit <= 0 {
		limit = 10
	}
	return &History{limit: limit}
}

func (h *History) Add(command string) {
	h.entries = append(h.entries, HistoryEntry{Command: command, At: time.Now()})
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Manager hands out sessions by id, creating them on first use.
type Manager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	historyLimit int
}

func NewManager(historyLimit int) *Manager {
	return &Manager{
		sessions:     make(map[string]*Session),
		historyLimit: historyLimit,
	}
}

// Get returns the session for id, creating it if needed. An empty id gets a
// fresh generated session.
func (m *Manager) Get(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		sess = newSession(id, m.historyLimit)
		m.sessions[id] = sess
	}
	return sess
}

// Peek returns the session for id without creating one.
func (m *Manager) Peek(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than idleFor and reports how many
// were removed.
func (m *Manager) Sweep(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		sess.mu.Lock()
		stale := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
