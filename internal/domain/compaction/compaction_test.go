package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/autodrive/autodrive/internal/domain/history"
)

func utf8ValidString(s string) bool { return utf8.ValidString(s) }

func sampleHistory() history.History {
	return history.History{
		history.NewMessage(history.RoleSystem, history.InputText("System")),
		history.NewUserMessage("Goal"),
		history.NewMessage(history.RoleAssistant, history.OutputText("Step 1")),
		history.NewUserMessage("Step 2"),
		history.NewMessage(history.RoleAssistant, history.OutputText("Step 2 done")),
		history.NewUserMessage("Step 3"),
	}
}

// TestComputeSliceBoundsMidpoint pins the midpoint/boundary example.
func TestComputeSliceBoundsMidpoint(t *testing.T) {
	bounds, ok := ComputeSliceBounds(sampleHistory())
	if !ok {
		t.Fatalf("expected bounds to be found")
	}
	if bounds.Start != 2 || bounds.End != 5 {
		t.Fatalf("expected (2,5), got (%d,%d)", bounds.Start, bounds.End)
	}
}

// TestApplyCompactionPreservesGoal: the goal anchor survives.
func TestApplyCompactionPreservesGoal(t *testing.T) {
	h := sampleHistory()
	bounds, ok := ComputeSliceBounds(h)
	if !ok {
		t.Fatalf("expected bounds")
	}
	bridge := MakeCompactionSummaryMessage(nil, "Summary")
	rebuilt := ApplyCompaction(h, bounds, nil, bridge)

	found := false
	for _, item := range rebuilt {
		if item.IsUserMessage() && item.TextContent() == "Goal" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected goal anchor preserved in rebuilt history: %+v", rebuilt)
	}
}

func TestComputeSliceBoundsNoneWhenNothingAfterGoal(t *testing.T) {
	h := history.History{history.NewUserMessage("Goal")}
	if _, ok := ComputeSliceBounds(h); ok {
		t.Fatalf("expected no bounds for a history with nothing after the goal")
	}
}

// TestEnsureGoalIsPresentIdempotent: reinsertion plus the idempotence
// round-trip property.
func TestEnsureGoalIsPresentIdempotent(t *testing.T) {
	goal := history.NewUserMessage("Rewrite parser")
	compacted := history.History{history.NewMessage(history.RoleAssistant, history.OutputText("Checkpoint"))}

	once := EnsureGoalIsPresent(compacted, goal, 1)
	if len(once) != 2 {
		t.Fatalf("expected goal reinserted, got %d items", len(once))
	}
	userCount := 0
	for _, item := range once {
		if item.IsUserMessage() {
			userCount++
		}
	}
	if userCount != 1 {
		t.Fatalf("expected exactly one user message, got %d", userCount)
	}

	twice := EnsureGoalIsPresent(once, goal, 1)
	if len(twice) != len(once) {
		t.Fatalf("expected idempotence, got %d vs %d", len(twice), len(once))
	}
}

func TestShouldCompactThreshold(t *testing.T) {
	budget := ModelBudget{AutoCompactTokenLimit: 200_000, ContextWindow: 250_000}
	if !ShouldCompact(budget, 220_000, 10_000, 0, true) {
		t.Fatalf("expected should-compact true at 220k+10k >= 0.8*200k")
	}
	if ShouldCompact(budget, 100_000, 10_000, 0, true) {
		t.Fatalf("expected should-compact false at 100k+10k < 0.8*200k")
	}
}

func TestShouldCompactUnknownModelFallback(t *testing.T) {
	budget := ModelBudget{}
	if !ShouldCompact(budget, 0, 0, 150, false) {
		t.Fatalf("expected fallback to trigger once message count exceeds 120")
	}
	if ShouldCompact(budget, 0, 0, 150, true) {
		t.Fatalf("expected fallback disabled once real turns have been recorded")
	}
}

// TestChunkTextCompleteness: concatenating the chunks reproduces the
// input exactly.
func TestChunkTextCompleteness(t *testing.T) {
	text := strings.Repeat("héllo wörld 世界 ", 5000)
	chunks := ChunkText(text)

	var rebuilt strings.Builder
	for _, c := range chunks {
		if len(c) > MaxTranscriptBytes {
			t.Fatalf("chunk exceeds MaxTranscriptBytes: %d", len(c))
		}
		if !utf8ValidString(c) {
			t.Fatalf("chunk is not valid UTF-8: %q", c)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Fatalf("chunks do not reconstruct the original text")
	}
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, items []history.ResponseItem) (string, error) {
	return f.summary, f.err
}

func TestEngineCompactUsesRemoteSummary(t *testing.T) {
	e := NewEngine(&fakeSummarizer{summary: "remote summary"}, nil)
	out, err := e.Compact(context.Background(), sampleHistory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.GoalAnchor(); !ok {
		t.Fatalf("expected goal anchor preserved")
	}
}

func TestEngineCompactFallsBackDeterministically(t *testing.T) {
	e := NewEngine(&fakeSummarizer{summary: ""}, nil)
	out, err := e.Compact(context.Background(), sampleHistory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty rebuilt history")
	}
}

func TestEngineEmergencyFallbackOnOverflow(t *testing.T) {
	e := NewEngine(&fakeSummarizer{err: errors.New("maximum context length exceeded")}, nil)
	out, err := e.Compact(context.Background(), history.History{
		history.NewUserMessage("Goal"),
		history.NewMessage(history.RoleAssistant, history.OutputText("huge transcript")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, item := range out {
		if strings.Contains(item.TextContent(), "too large to summarize") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected emergency warning message, got %+v", out)
	}
}
