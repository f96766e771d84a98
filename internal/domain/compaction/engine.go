package compaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/history"
)

// Engine drives the full decide/slice/summarize/rebuild pipeline.
type Engine struct {
	summarizer RemoteSummarizer
	logger     *zap.Logger
}

func NewEngine(summarizer RemoteSummarizer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{summarizer: summarizer, logger: logger}
}

// emergencyWarning is installed when even a minimal remote request keeps
// overflowing the context window.
const emergencyWarning = "Conversation history was too large to summarize and has been reset to the original goal. Some context was lost."

// Compact runs the pipeline end-to-end. initialContext is the
// portion of history (system prompt, environment context) that always
// survives untouched; it is typically history[:goalIdx+1].
func (e *Engine) Compact(ctx context.Context, h history.History) (history.History, error) {
	bounds, ok := ComputeSliceBounds(h)
	if !ok {
		return h, nil
	}

	slice := h[bounds.Start:bounds.End]
	sanitized := Sanitize(slice)

	summary, overflowed, err := e.summarizeWithOverflowRetry(ctx, sanitized)
	if overflowed {
		return e.emergencyFallback(h), nil
	}
	if err != nil {
		e.logger.Warn("remote summarizer failed, using deterministic summary", zap.Error(err))
		summary = ""
	}
	if summary == "" {
		summary = DeterministicSummary(slice)
	}

	bridge := MakeCompactionSummaryMessage(TailSnippets(slice), summary)
	rebuilt := ApplyCompaction(h, bounds, nil, bridge)

	e.logger.Info("history compacted",
		zap.Int("before", len(h)),
		zap.Int("after", len(rebuilt)),
		zap.Int("slice_start", bounds.Start),
		zap.Int("slice_end", bounds.End),
	)
	return rebuilt, nil
}

// summarizeWithOverflowRetry sends progressively smaller slices to the
// remote summarizer, dropping the oldest item each time the provider
// reports a context-overflow error, until either it succeeds or the
// slice is down to a single item. overflowed=true means even the
// minimal slice overflowed and the caller must install the emergency
// fallback history.
func (e *Engine) summarizeWithOverflowRetry(ctx context.Context, sanitized history.History) (summary string, overflowed bool, err error) {
	items := sanitized
	for {
		summary, err = e.summarizer.Summarize(ctx, items)
		if err == nil {
			return summary, false, nil
		}
		if !IsContextOverflow(err.Error()) {
			return "", false, err
		}
		if len(items) <= 1 {
			return "", true, fmt.Errorf("compaction overflow: minimal slice still overflows: %w", err)
		}
		items = items[1:]
		e.logger.Warn("remote summarizer overflow, dropping oldest item and retrying", zap.Int("remaining", len(items)))
	}
}

// emergencyFallback installs the minimal history used when even a
// minimal remote request overflows: the initial context (everything up
// to and including the goal anchor, i.e. system prompt plus environment
// context plus goal) and one explicit warning message, breaking the
// loop.
func (e *Engine) emergencyFallback(h history.History) history.History {
	out := history.History{}
	if goalIdx := h.GoalAnchorIndex(); goalIdx >= 0 {
		out = append(out, h[:goalIdx+1]...)
	}
	out = append(out, history.NewMessage(history.RoleDeveloper, history.InputText(emergencyWarning)))
	e.logger.Error("compaction overflow: installed emergency fallback history")
	return out
}

// StreamingSummarize runs the checkpoint-chunked summarization path for
// very long transcripts: the flattened text is chunked at
// MaxTranscriptBytes boundaries, and each chunk's stream is seeded with
// the previous chunk's aggregated summary as the "previous checkpoint".
func StreamingSummarize(ctx context.Context, summarizer StreamingRemoteSummarizer, flattenedText string) (string, error) {
	chunks := ChunkText(flattenedText)
	checkpoint := ""
	for _, chunk := range chunks {
		summary, err := summarizer.SummarizeChunk(ctx, checkpoint, chunk)
		if err != nil {
			return checkpoint, err
		}
		checkpoint = summary
	}
	return checkpoint, nil
}
