// Package coordinator implements the single-threaded orchestration state
// machine at the center of Auto Drive: it owns the history pointer,
// issues model requests, absorbs worker transcript updates, applies
// compaction, and drives sub-agent batches, emitting one ACK-gated
// decision per turn.
package coordinator

import "github.com/autodrive/autodrive/internal/domain/metrics"

// EventKind discriminates the UI event envelope, following the same
// flat-struct sum-type idiom as history.ResponseItem.
type EventKind string

const (
	EventDecision             EventKind = "decision"
	EventThinking             EventKind = "thinking"
	EventAction               EventKind = "action"
	EventUserReply            EventKind = "user_reply"
	EventTokenMetrics         EventKind = "token_metrics"
	EventCompactedHistory     EventKind = "compacted_history"
	EventStopAck              EventKind = "stop_ack"
	EventCheckpointSaved      EventKind = "checkpoint_saved"
	EventCheckpointRestored   EventKind = "checkpoint_restored"
	EventDiagnosticAlert      EventKind = "diagnostic_alert"
	EventBudgetAlert          EventKind = "budget_alert"
	EventInterventionRequired EventKind = "intervention_required"
)

// Event is the discriminated union sent to the UI. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Decision
	Decision *PendingDecision

	// Thinking
	ThinkingDelta        string
	ThinkingSummaryIndex *int

	// Action
	ActionMessage string

	// UserReply
	UserResponse string
	CLICommand   string

	// TokenMetrics
	Metrics metrics.Snapshot

	// CompactedHistory
	Conversation []ResponseItemView
	ShowNotice   bool

	// DiagnosticAlert / BudgetAlert / InterventionRequired
	AlertMessage string
}

// ResponseItemView is the minimal, UI-safe projection of a history item
// the CompactedHistory event carries; full ResponseItem is a domain type
// and the UI only ever needs role+text for a notice banner.
type ResponseItemView struct {
	Role string
	Text string
}

// EventSink is the polymorphic UI backend capability. Concrete sinks
// (terminal renderer, a recorded-event test double, a remote bridge)
// all satisfy this one interface; the coordinator never references a
// concrete UI type.
type EventSink interface {
	Emit(Event)
}

// NopSink discards every event; useful for tests and headless runs.
type NopSink struct{}

func (NopSink) Emit(Event) {}
