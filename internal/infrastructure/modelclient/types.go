// Package modelclient performs a single streaming decision request
// against the Responses-style model HTTP wire and surfaces a typed SSE
// event stream, with item-keyed delta deduplication and in-place
// recovery for auth and model-slug failures.
package modelclient

import (
	"github.com/autodrive/autodrive/internal/domain/history"
)

// Reasoning carries the optional `reasoning` request field.
type Reasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// TextFormat carries the optional `text` request field (verbosity etc).
type TextFormat struct {
	Verbosity string `json:"verbosity,omitempty"`
}

// Tool is a single entry of the request's `tools` array.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is the Responses-style request body.
type Request struct {
	Model             string                `json:"model"`
	Instructions      string                `json:"instructions,omitempty"`
	Input             []history.ResponseItem `json:"input"`
	Tools             []Tool                `json:"tools,omitempty"`
	ToolChoice        string                `json:"tool_choice,omitempty"`
	ParallelToolCalls bool                  `json:"parallel_tool_calls"`
	Reasoning         *Reasoning            `json:"reasoning,omitempty"`
	Text              *TextFormat           `json:"text,omitempty"`
	Store             bool                  `json:"store"`
	Stream            bool                  `json:"stream"`
	Include           []string              `json:"include,omitempty"`
	PromptCacheKey    string                `json:"prompt_cache_key,omitempty"`

	// ConversationID/SessionID/AccountID are sent as correlation HTTP
	// headers, never as part of the JSON body.
	ConversationID string `json:"-"`
	SessionID      string `json:"-"`
	AccountID      string `json:"-"`
}

// TokenUsage mirrors the usage object the provider reports on Completed.
type TokenUsage struct {
	InputTokens     int64 `json:"input_tokens"`
	CachedTokens    int64 `json:"cached_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

// RateLimitSnapshot is emitted once per stream, parsed from the
// x-codex-* rate-limit response headers.
type RateLimitSnapshot struct {
	PrimaryUsedPercent            float64
	SecondaryUsedPercent          float64
	PrimaryOverSecondaryLimitPct  float64
	PrimaryWindowMinutes          float64
	SecondaryWindowMinutes        float64
	PrimaryResetAfterSeconds      *float64
	SecondaryResetAfterSeconds    *float64
}

// EventKind discriminates Event, following the same flat-struct
// sum-type idiom as history.ResponseItem.
type EventKind string

const (
	EventCreated               EventKind = "created"
	EventOutputTextDelta       EventKind = "output_text_delta"
	EventReasoningSummaryDelta EventKind = "reasoning_summary_delta"
	EventReasoningContentDelta EventKind = "reasoning_content_delta"
	EventOutputItemDone        EventKind = "output_item_done"
	EventWebSearchCallBegin    EventKind = "web_search_call_begin"
	EventWebSearchCallDone     EventKind = "web_search_call_completed"
	EventRateLimits            EventKind = "rate_limits"
	EventCompleted             EventKind = "completed"
)

// Event is the typed SSE event stream item ModelClient.Stream emits.
type Event struct {
	Kind EventKind

	// OutputTextDelta / ReasoningSummaryDelta / ReasoningContentDelta
	Delta        string
	ItemID       string
	OutputIndex  int
	SummaryIndex int
	ContentIndex int
	Seq          int64

	// OutputItemDone
	Item *history.ResponseItem

	// WebSearchCallBegin/Completed
	CallID string

	// RateLimits
	RateLimits *RateLimitSnapshot

	// Completed
	ResponseID string
	Usage      *TokenUsage
}
