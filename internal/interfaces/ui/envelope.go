// Package ui carries the coordinator's event stream to its consumers: a
// terminal renderer for interactive runs, and a gin/websocket surface
// for a detached UI process, which pushes AckDecision/Stop commands
// back onto the coordinator's queue.
package ui

import (
	"encoding/json"
	"time"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
)

// Envelope is the JSON wire form of a coordinator event, shared by the
// websocket bridge and the SSE stream.
type Envelope struct {
	Kind      string        `json:"kind"`
	Timestamp int64         `json:"timestamp"`
	Decision  *DecisionWire `json:"decision,omitempty"`

	ThinkingDelta        string `json:"thinking_delta,omitempty"`
	ThinkingSummaryIndex *int   `json:"thinking_summary_index,omitempty"`

	ActionMessage string `json:"action_message,omitempty"`

	UserResponse string `json:"user_response,omitempty"`
	CLICommand   string `json:"cli_command,omitempty"`

	Metrics *MetricsWire `json:"metrics,omitempty"`

	Conversation []ConversationLine `json:"conversation,omitempty"`
	ShowNotice   bool               `json:"show_notice,omitempty"`

	AlertMessage string `json:"alert_message,omitempty"`
}

// DecisionWire flattens PendingDecision for the wire.
type DecisionWire struct {
	Seq              uint64          `json:"seq"`
	Status           string          `json:"status"`
	StatusTitle      string          `json:"status_title,omitempty"`
	StatusSentToUser string          `json:"status_sent_to_user,omitempty"`
	CLIPrompt        string          `json:"cli_prompt,omitempty"`
	CLIContext       string          `json:"cli_context,omitempty"`
	AgentsTiming     string          `json:"agents_timing,omitempty"`
	Agents           []AgentWire     `json:"agents,omitempty"`
	Goal             string          `json:"goal,omitempty"`
}

// AgentWire is one requested sub-agent spawn on the wire.
type AgentWire struct {
	Prompt         string   `json:"prompt"`
	Context        string   `json:"context,omitempty"`
	Write          bool     `json:"write"`
	RequestedWrite bool     `json:"requested_write"`
	Models         []string `json:"models,omitempty"`
}

// MetricsWire mirrors the TokenMetrics event payload.
type MetricsWire struct {
	Total          int64 `json:"total"`
	LastTurn       int64 `json:"last_turn"`
	TurnCount      int   `json:"turn_count"`
	DuplicateItems int64 `json:"duplicate_items"`
	ReplayUpdates  int64 `json:"replay_updates"`
}

// ConversationLine is one role/text pair of a CompactedHistory notice.
type ConversationLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToEnvelope projects a coordinator event into its wire form.
func ToEnvelope(ev coordinator.Event) Envelope {
	env := Envelope{
		Kind:                 string(ev.Kind),
		Timestamp:            time.Now().Unix(),
		ThinkingDelta:        ev.ThinkingDelta,
		ThinkingSummaryIndex: ev.ThinkingSummaryIndex,
		ActionMessage:        ev.ActionMessage,
		UserResponse:         ev.UserResponse,
		CLICommand:           ev.CLICommand,
		ShowNotice:           ev.ShowNotice,
		AlertMessage:         ev.AlertMessage,
	}

	if ev.Kind == coordinator.EventTokenMetrics {
		env.Metrics = &MetricsWire{
			Total:          ev.Metrics.Total.Total,
			LastTurn:       ev.Metrics.LastTurn.Total,
			TurnCount:      ev.Metrics.TurnCount,
			DuplicateItems: ev.Metrics.DuplicateItems,
			ReplayUpdates:  ev.Metrics.ReplayUpdates,
		}
	}

	for _, line := range ev.Conversation {
		env.Conversation = append(env.Conversation, ConversationLine{Role: line.Role, Text: line.Text})
	}

	if ev.Decision != nil {
		env.Decision = decisionWire(ev.Decision)
	}
	return env
}

func decisionWire(pd *coordinator.PendingDecision) *DecisionWire {
	d := pd.Decision
	w := &DecisionWire{
		Seq:              pd.Seq,
		Status:           string(d.Status),
		StatusTitle:      d.StatusTitle,
		StatusSentToUser: d.StatusSentToUser,
		AgentsTiming:     string(d.AgentsTiming),
		Goal:             d.Goal,
	}
	if d.CLI != nil {
		w.CLIPrompt = d.CLI.Prompt
		w.CLIContext = d.CLI.Context
	}
	for _, a := range d.Agents {
		w.Agents = append(w.Agents, AgentWire{
			Prompt:         a.Prompt,
			Context:        a.Context,
			Write:          a.Write,
			RequestedWrite: a.OriginalWrite,
			Models:         a.Models,
		})
	}
	return w
}

// InboundKind discriminates messages a UI client sends back over the
// websocket or HTTP surface.
type InboundKind string

const (
	InboundAck    InboundKind = "ack"
	InboundStop   InboundKind = "stop"
	InboundPrompt InboundKind = "prompt"
	InboundPing   InboundKind = "ping"
)

// Inbound is one client-to-coordinator message.
type Inbound struct {
	Kind InboundKind `json:"kind"`
	Seq  uint64      `json:"seq,omitempty"`
	Text string      `json:"text,omitempty"`
}

// ToCommand translates an inbound message to a coordinator command.
// Ping, prompt (which callers turn into a HandleUserPrompt command
// themselves) and anything unrecognized yield ok=false.
func (in Inbound) ToCommand() (coordinator.Command, bool) {
	switch in.Kind {
	case InboundAck:
		return coordinator.Command{Kind: coordinator.CmdAckDecision, Seq: in.Seq}, true
	case InboundStop:
		return coordinator.Command{Kind: coordinator.CmdStop}, true
	default:
		return coordinator.Command{}, false
	}
}

// MarshalEnvelope serializes an event for the websocket hub. The SSE
// writer encodes the same ToEnvelope projection, so both surfaces carry
// the same fields.
func MarshalEnvelope(ev coordinator.Event) ([]byte, error) {
	return json.Marshal(ToEnvelope(ev))
}
