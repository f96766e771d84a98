package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/autodrive/autodrive/internal/domain/compaction"
	"github.com/autodrive/autodrive/internal/domain/decision"
	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/metrics"
	"github.com/autodrive/autodrive/internal/domain/retry"
)

// fakeModel streams a scripted sequence of raw decision JSON strings,
// one per Stream call, each delivered as a single OutputTextDelta.
type fakeModel struct {
	responses []string
	calls     int
}

func (f *fakeModel) Stream(ctx context.Context, req ModelRequest, emit func(ModelEvent)) error {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	emit(ModelEvent{Kind: ModelEventOutputTextDelta, Delta: f.responses[idx]})
	emit(ModelEvent{Kind: ModelEventCompleted, Usage: &ModelUsage{Total: 10}})
	return nil
}

// recordingSink stores every event it receives, for assertions.
type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(e Event) { s.events = append(s.events, e) }

func (s *recordingSink) decisions() []Event {
	var out []Event
	for _, e := range s.events {
		if e.Kind == EventDecision {
			out = append(out, e)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, model ModelStreamer, sink EventSink) *Coordinator {
	t.Helper()
	retryCfg := retry.DefaultConfig()
	retryCfg.SleepFunc = func(ctx context.Context, d time.Duration) error { return nil }
	re := retry.NewEngine(retryCfg, nil)

	cfg := Config{
		Model:            "test-model",
		GitRepoPresent:   true,
		BaseInstructions: "you are the coordinator",
		ModelBudget:      compaction.ModelBudget{}, // unknown model, fallback path
	}
	return New(cfg, model, re, nil, nil, metrics.New(), sink, nil)
}

func continueJSON(prompt string) string {
	b, _ := json.Marshal(map[string]any{
		"finish_status":     "continue",
		"prompt_sent_to_cli": prompt,
	})
	return string(b)
}

// TestACKGating verifies that at most one
// Decision is pending at a time, and UpdateConversation commands that
// arrive while a decision is pending are queued rather than processed.
func TestACKGating(t *testing.T) {
	model := &fakeModel{responses: []string{continueJSON("first step, please run the build")}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	c.Submit(Command{Kind: CmdUpdateConversation, Transcript: history.History{history.NewUserMessage("do the thing")}})
	time.Sleep(20 * time.Millisecond)

	// A second update arrives before the first decision is ACKed: it
	// must be queued, not processed immediately (no second decision yet).
	c.Submit(Command{Kind: CmdUpdateConversation, Transcript: history.History{history.NewUserMessage("do the thing"), history.NewMessage(history.RoleAssistant, history.OutputText("ran it"))}})
	time.Sleep(20 * time.Millisecond)

	if got := len(sink.decisions()); got != 1 {
		t.Fatalf("expected exactly 1 pending decision before ack, got %d", got)
	}

	first := sink.decisions()[0].Decision
	c.Submit(Command{Kind: CmdAckDecision, Seq: first.Seq})
	time.Sleep(20 * time.Millisecond)

	if got := len(sink.decisions()); got != 2 {
		t.Fatalf("expected second decision to be emitted after ack+replay, got %d", got)
	}
	second := sink.decisions()[1].Decision
	if second.Seq != first.Seq+1 {
		t.Fatalf("expected monotonically increasing seq, got %d then %d", first.Seq, second.Seq)
	}
}

// TestWriteGuard: an agent may only write when the workspace is a git repo.
func TestWriteGuard(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"finish_status":      "continue",
		"prompt_sent_to_cli": "please continue with the next step",
		"agents": []map[string]any{
			{"prompt": "investigate the failing test thoroughly", "write": true},
		},
	})
	model := &fakeModel{responses: []string{string(raw)}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)
	c.cfg.GitRepoPresent = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Submit(Command{Kind: CmdUpdateConversation, Transcript: history.History{history.NewUserMessage("goal")}})
	time.Sleep(20 * time.Millisecond)

	ds := sink.decisions()
	if len(ds) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(ds))
	}
	agents := ds[0].Decision.Decision.Agents
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent action, got %d", len(agents))
	}
	if agents[0].Write {
		t.Errorf("write-guard failed: Write should be forced false outside a git repo")
	}
	if !agents[0].OriginalWrite {
		t.Errorf("OriginalWrite should preserve the model's requested value")
	}
}

// TestGoalPreservation checks the goal anchor at the coordinator
// level: adopting a transcript whose first user message differs from a
// frozen goal still keeps the frozen goal present in history.
func TestGoalPreservation(t *testing.T) {
	model := &fakeModel{responses: []string{continueJSON("keep going with the refactor")}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)
	c.goal = history.NewUserMessage("Rewrite the parser")
	c.goalKnown = true
	c.goalFrozen = true

	c.adoptTranscript(history.History{
		history.NewMessage(history.RoleAssistant, history.OutputText("checkpoint, no goal message here")),
	})

	anchor, ok := c.hist.GoalAnchor()
	if !ok || anchor.TextContent() != "Rewrite the parser" {
		t.Fatalf("expected frozen goal to be reinserted, got %+v ok=%v", anchor, ok)
	}
}

// TestPopularCommandsStripped: the legacy HUD artifact never reaches the model.
func TestPopularCommandsStripped(t *testing.T) {
	model := &fakeModel{responses: []string{continueJSON("continue please, run it")}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)

	c.adoptTranscript(history.History{
		history.NewUserMessage("goal"),
		history.NewUserMessage("Popular commands: /help /stop"),
	})

	for _, item := range c.hist {
		if item.ContainsPopularCommands() {
			t.Errorf("expected Popular commands message to be stripped")
		}
	}
}

// TestDecisionRecoveryLoop verifies the coordinator recovers from a
// malformed response by appending a developer note and retrying,
// eventually succeeding without ever touching the retry engine budget.
func TestDecisionRecoveryLoop(t *testing.T) {
	model := &fakeModel{responses: []string{
		"not json at all",
		continueJSON("now a valid continue prompt for the worker"),
	}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Submit(Command{Kind: CmdUpdateConversation, Transcript: history.History{history.NewUserMessage("goal")}})
	time.Sleep(30 * time.Millisecond)

	ds := sink.decisions()
	if len(ds) != 1 {
		t.Fatalf("expected exactly 1 decision after recovery, got %d", len(ds))
	}
	if ds[0].Decision.Decision.Status != decision.StatusContinue {
		t.Fatalf("expected recovered decision to be continue, got %v", ds[0].Decision.Decision.Status)
	}
}

// TestDecisionRecoveryExhausted verifies exceeding
// decision.MaxDecisionRecoveryAttempts emits a terminal Failed decision
// and stops the loop.
func TestDecisionRecoveryExhausted(t *testing.T) {
	model := &fakeModel{responses: []string{"still not json", "nor this", "nor this either", "still no"}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Submit(Command{Kind: CmdUpdateConversation, Transcript: history.History{history.NewUserMessage("goal")}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not terminate after exhausting decision recovery attempts")
	}

	ds := sink.decisions()
	if len(ds) != 1 || ds[0].Decision.Decision.Status != decision.StatusFailed {
		t.Fatalf("expected exactly 1 terminal failed decision, got %+v", ds)
	}
}

// TestStop verifies Stop drains and emits StopAck.
func TestStop(t *testing.T) {
	model := &fakeModel{responses: []string{continueJSON("continue please, keep going")}}
	sink := &recordingSink{}
	c := newTestCoordinator(t, model, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Submit(Command{Kind: CmdStop})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop on Stop command")
	}

	found := false
	for _, e := range sink.events {
		if e.Kind == EventStopAck {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a StopAck event")
	}
}
