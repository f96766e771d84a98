package agentmgr

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedRunner completes with a fixed result (or error) after
// emitting one progress line.
type scriptedRunner struct {
	result string
	err    error
}

func (r *scriptedRunner) Run(ctx context.Context, agent *Agent, progress func(string)) (string, error) {
	progress("working")
	return r.result, r.err
}

func TestManagerLifecycleCompleted(t *testing.T) {
	m := NewManager(&scriptedRunner{result: "done"}, nil, nil)

	a, err := m.Create(context.Background(), Agent{Name: "fixParser", Prompt: "fix the parser", Model: "gpt-5"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Name != "Fix Parser" {
		t.Errorf("name not normalized: %q", a.Name)
	}
	if a.Family != FamilyCode {
		t.Errorf("family not inferred: %q", a.Family)
	}

	snap, err := m.Wait(context.Background(), a.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.Status != StatusCompleted || snap.Result != "done" {
		t.Fatalf("unexpected terminal snapshot: %+v", snap)
	}
	if len(snap.Progress) == 0 {
		t.Errorf("expected progress lines recorded")
	}

	result, errText, ok := m.Collect(a.ID)
	if !ok || result != "done" || errText != "" {
		t.Errorf("collect: got (%q, %q, %v)", result, errText, ok)
	}
}

func TestManagerLifecycleFailed(t *testing.T) {
	m := NewManager(&scriptedRunner{err: errors.New("boom")}, nil, nil)

	a, err := m.Create(context.Background(), Agent{Prompt: "doomed task"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err := m.Wait(context.Background(), a.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.Status != StatusFailed || snap.Error != "boom" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestManagerReadOnlyPromptPrefix(t *testing.T) {
	m := NewManager(&scriptedRunner{result: "ok"}, nil, nil)
	a, _ := m.Create(context.Background(), Agent{Prompt: "look around", ReadOnly: true})
	if got := a.Prompt; got[:1] != "[" {
		t.Fatalf("expected read-only prefix, got %q", got)
	}
}

func TestManagerStatusUpdateCarriesSharedPair(t *testing.T) {
	type update struct {
		count   int
		context string
		task    string
	}
	updates := make(chan update, 16)
	m := NewManager(&scriptedRunner{result: "ok"}, nil, func(snaps []StatusSnapshot, sharedContext, sharedTask string) {
		updates <- update{len(snaps), sharedContext, sharedTask}
	})

	a, _ := m.Create(context.Background(), Agent{Prompt: "first agent prompt", Context: "repo background"})
	if _, err := m.Wait(context.Background(), a.ID, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case u := <-updates:
			if u.count == 1 && u.context == "repo background" && u.task == "first agent prompt" {
				return
			}
		case <-deadline:
			t.Fatal("no status update carried the shared (context, task) pair")
		}
	}
}

func TestManagerWaitBatchReturnAll(t *testing.T) {
	m := NewManager(&scriptedRunner{result: "ok"}, nil, nil)
	a1, _ := m.Create(context.Background(), Agent{Prompt: "one of two"})
	a2, _ := m.Create(context.Background(), Agent{Prompt: "two of two"})

	snaps, err := m.WaitBatch(context.Background(), []string{a1.ID, a2.ID}, 2*time.Second, true)
	if err != nil {
		t.Fatalf("wait batch: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	for _, s := range snaps {
		if !s.Status.IsTerminal() {
			t.Errorf("agent %s not terminal: %s", s.ID, s.Status)
		}
	}
}
