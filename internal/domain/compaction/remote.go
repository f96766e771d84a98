package compaction

import (
	"context"
	"strings"

	"github.com/autodrive/autodrive/internal/domain/history"
)

// RemoteSummarizer sends a sanitized slice to the provider's compact
// endpoint and returns the summary text. Implementations stream the
// response internally; Summarize returns once the stream completes.
type RemoteSummarizer interface {
	Summarize(ctx context.Context, items []history.ResponseItem) (string, error)
}

// StreamingRemoteSummarizer additionally exposes the chunked checkpoint
// path used for very long transcripts: each chunk is
// sent as a new stream, seeded with the previous chunk's summary as
// "previous checkpoint".
type StreamingRemoteSummarizer interface {
	SummarizeChunk(ctx context.Context, previousCheckpoint, chunk string) (string, error)
}

// sanitization limits for the remote summarizer.
const (
	maxTextBytes     = 8 * 1024
	maxArgsBytes     = 4 * 1024
	maxOutputBytes   = 4 * 1024
	maxImageURLBytes = 512
	imageURLThresh   = 512
)

// Sanitize prepares a slice for the remote summarizer: oversized text is
// middle-truncated, reasoning items lose their content/encrypted content
// (keeping summaries), image URLs over the threshold or data URIs become
// text placeholders, and orphan tool outputs are pruned.
func Sanitize(items history.History) history.History {
	out := make(history.History, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case history.KindMessage:
			item.Content = sanitizeContent(item.Content)
		case history.KindReasoning:
			item.ReasoningContent = nil
			item.EncryptedContent = ""
		case history.KindFunctionCall:
			item.Arguments = truncateMiddle(item.Arguments, maxArgsBytes)
		case history.KindCustomToolCall:
			item.Input = truncateMiddle(item.Input, maxArgsBytes)
		case history.KindFunctionCallOutput, history.KindCustomToolCallOutput:
			item.Output = truncateMiddle(item.Output, maxOutputBytes)
		}
		out = append(out, item)
	}
	return out.PruneOrphanOutputs()
}

func sanitizeContent(chunks []history.ContentChunk) []history.ContentChunk {
	out := make([]history.ContentChunk, 0, len(chunks))
	for _, c := range chunks {
		switch c.Type {
		case history.ChunkInputImage:
			if len(c.URL) > imageURLThresh || strings.HasPrefix(c.URL, "data:") {
				out = append(out, history.InputText("[image omitted: "+truncateMiddle(c.URL, maxImageURLBytes)+"]"))
				continue
			}
			out = append(out, c)
		default:
			c.Text = truncateMiddle(c.Text, maxTextBytes)
			out = append(out, c)
		}
	}
	return out
}

// truncateMiddle keeps the head and tail of s, replacing the middle with
// an ellipsis marker, once s exceeds limit bytes.
func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := (limit - len("...")) / 2
	if half < 0 {
		half = 0
	}
	return s[:half] + "..." + s[len(s)-half:]
}

// contextOverflowPatterns are the provider phrases that mark a
// context-window overflow on the remote-summarizer path.
var contextOverflowPatterns = []string{
	"context_length_exceeded",
	"maximum context length",
	"exceeds the context window",
}

// IsContextOverflow reports whether an error message matches one of the
// provider's context-overflow phrases.
func IsContextOverflow(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range contextOverflowPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
