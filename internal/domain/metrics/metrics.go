// Package metrics tracks per-turn and lifetime token accounting for a
// coordinator run.
package metrics

import "sync"

// TokenUsage is one turn's token accounting.
type TokenUsage struct {
	Input           int64
	CachedInput     int64
	Output          int64
	ReasoningOutput int64
	Total           int64
}

// Add accumulates rhs into u and returns the result.
func (u TokenUsage) Add(rhs TokenUsage) TokenUsage {
	return TokenUsage{
		Input:           u.Input + rhs.Input,
		CachedInput:     u.CachedInput + rhs.CachedInput,
		Output:          u.Output + rhs.Output,
		ReasoningOutput: u.ReasoningOutput + rhs.ReasoningOutput,
		Total:           u.Total + rhs.Total,
	}
}

// SessionMetrics is the coordinator-lifetime accounting object: running
// totals, the last turn's usage, turn count, and the duplicate/replay
// counters.
type SessionMetrics struct {
	mu sync.Mutex

	total     TokenUsage
	lastTurn  TokenUsage
	turnCount int

	duplicateItems int64
	replayUpdates  int64
}

// New returns a zeroed SessionMetrics.
func New() *SessionMetrics {
	return &SessionMetrics{}
}

// RecordTurn folds a turn's usage into the running totals and advances
// the turn counter.
func (m *SessionMetrics) RecordTurn(usage TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = m.total.Add(usage)
	m.lastTurn = usage
	m.turnCount++
}

// RecordDuplicateItem increments the count of SSE deltas dropped as
// duplicates by the model client's dedup logic.
func (m *SessionMetrics) RecordDuplicateItem() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicateItems++
}

// RecordReplayUpdate increments the count of UpdateConversation commands
// replayed after an ACK.
func (m *SessionMetrics) RecordReplayUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayUpdates++
}

// Snapshot is an immutable point-in-time read of the metrics, shaped for
// the TokenMetrics UI event.
type Snapshot struct {
	Total          TokenUsage
	LastTurn       TokenUsage
	TurnCount      int
	DuplicateItems int64
	ReplayUpdates  int64
}

// Snapshot returns the current state.
func (m *SessionMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:          m.total,
		LastTurn:       m.lastTurn,
		TurnCount:      m.turnCount,
		DuplicateItems: m.duplicateItems,
		ReplayUpdates:  m.replayUpdates,
	}
}
