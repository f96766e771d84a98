package modelclient

import (
	"context"
	"strings"
	"time"

	"github.com/autodrive/autodrive/internal/domain/history"
)

// compactTimeout bounds one remote compaction request.
const compactTimeout = 45 * time.Second

const summarizeInstructions = `Summarize the conversation below for a coding agent that is about to lose it from its context window. Keep: the goal, decisions made, files touched, commands run, unresolved problems, and anything the agent promised to do later. Be specific; drop pleasantries.`

const chunkInstructions = `You are building a running checkpoint summary of a very long transcript, one chunk at a time. Merge the previous checkpoint with the new chunk into one updated summary. Keep concrete details (files, commands, decisions); drop anything superseded.`

// CompactionSummarizer implements compaction.RemoteSummarizer and
// compaction.StreamingRemoteSummarizer over a Client: the slice is sent
// as an unstored streaming request and the output-text deltas are
// accumulated into the summary.
type CompactionSummarizer struct {
	client *Client
	model  string
}

// NewCompactionSummarizer wraps client. model falls back to the
// client's default when empty.
func NewCompactionSummarizer(client *Client, model string) *CompactionSummarizer {
	if model == "" {
		model = client.defaultModel
	}
	return &CompactionSummarizer{client: client, model: model}
}

// Summarize implements compaction.RemoteSummarizer.
func (s *CompactionSummarizer) Summarize(ctx context.Context, items []history.ResponseItem) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, compactTimeout)
	defer cancel()

	req := Request{
		Model:        s.model,
		Instructions: summarizeInstructions,
		Input:        items,
		Store:        false,
		Stream:       true,
	}
	return s.collect(ctx, req)
}

// SummarizeChunk implements compaction.StreamingRemoteSummarizer: each
// chunk opens a new stream seeded with the previous checkpoint.
func (s *CompactionSummarizer) SummarizeChunk(ctx context.Context, previousCheckpoint, chunk string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, compactTimeout)
	defer cancel()

	var sb strings.Builder
	if previousCheckpoint != "" {
		sb.WriteString("Previous checkpoint:\n")
		sb.WriteString(previousCheckpoint)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcript chunk:\n")
	sb.WriteString(chunk)

	req := Request{
		Model:        s.model,
		Instructions: chunkInstructions,
		Input:        []history.ResponseItem{history.NewUserMessage(sb.String())},
		Store:        false,
		Stream:       true,
	}
	return s.collect(ctx, req)
}

func (s *CompactionSummarizer) collect(ctx context.Context, req Request) (string, error) {
	var out strings.Builder
	err := s.client.Stream(ctx, req, func(ev Event) {
		if ev.Kind == EventOutputTextDelta {
			out.WriteString(ev.Delta)
		}
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
