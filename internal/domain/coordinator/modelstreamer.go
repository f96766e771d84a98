package coordinator

import (
	"context"

	"github.com/autodrive/autodrive/internal/domain/history"
)

// ModelEventKind mirrors modelclient.EventKind's discriminants the
// coordinator cares about. Kept local (rather than importing the
// infrastructure/modelclient package directly) so this domain package
// has no infrastructure dependency.
type ModelEventKind string

const (
	ModelEventOutputTextDelta       ModelEventKind = "output_text_delta"
	ModelEventReasoningSummaryDelta ModelEventKind = "reasoning_summary_delta"
	ModelEventReasoningContentDelta ModelEventKind = "reasoning_content_delta"
	ModelEventOutputItemDone        ModelEventKind = "output_item_done"
	ModelEventCompleted            ModelEventKind = "completed"
)

// ModelUsage mirrors the provider's reported token usage on Completed.
type ModelUsage struct {
	Input           int64
	CachedInput     int64
	Output          int64
	ReasoningOutput int64
	Total           int64
}

// ModelEvent is the subset of modelclient.Event the coordinator consumes
// while accumulating a turn's streamed output.
type ModelEvent struct {
	Kind         ModelEventKind
	Delta        string
	SummaryIndex int
	Item         *history.ResponseItem
	Usage        *ModelUsage
}

// ModelRequest is the subset of modelclient.Request the coordinator
// needs to build each turn.
type ModelRequest struct {
	Model           string
	Instructions    string
	Input           history.History
	ReasoningEffort string
	PromptCacheKey  string
}

// ModelStreamer performs one streaming decision request. The concrete
// implementation (an adapter over infrastructure/modelclient.Client) is
// wired in by the application layer; errors it returns are expected to
// already be classified as *retry.TransportError / *retry.ProviderError
// so the coordinator's retry.Engine can drive the backoff loop.
type ModelStreamer interface {
	Stream(ctx context.Context, req ModelRequest, emit func(ModelEvent)) error
}
