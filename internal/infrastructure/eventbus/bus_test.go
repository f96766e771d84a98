package eventbus

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// === Publish/Subscribe ===

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 100)
	defer bus.Close()

	var received atomic.Int32
	bus.Subscribe(string(coordinator.EventDecision), func(ev coordinator.Event) {
		received.Add(1)
	})

	bus.Emit(coordinator.Event{Kind: coordinator.EventDecision})
	bus.Emit(coordinator.Event{Kind: coordinator.EventDecision})
	bus.Emit(coordinator.Event{Kind: coordinator.EventDecision})

	// Wait for async dispatch
	time.Sleep(50 * time.Millisecond)

	if got := received.Load(); got != 3 {
		t.Errorf("expected 3 events received, got %d", got)
	}
}

// === Wildcard subscriber ===

func TestBus_WildcardSubscriber(t *testing.T) {
	bus := NewBus(testLogger(), 100)
	defer bus.Close()

	var received atomic.Int32
	bus.Subscribe(Wildcard, func(ev coordinator.Event) {
		received.Add(1)
	})

	bus.Emit(coordinator.Event{Kind: coordinator.EventThinking})
	bus.Emit(coordinator.Event{Kind: coordinator.EventAction})
	bus.Emit(coordinator.Event{Kind: coordinator.EventStopAck})

	time.Sleep(50 * time.Millisecond)

	if got := received.Load(); got != 3 {
		t.Errorf("wildcard should receive all events, got %d", got)
	}
}

// === Kind filtering ===

func TestBus_KindFiltering(t *testing.T) {
	bus := NewBus(testLogger(), 100)
	defer bus.Close()

	var decisions, thinking atomic.Int32
	bus.Subscribe(string(coordinator.EventDecision), func(coordinator.Event) { decisions.Add(1) })
	bus.Subscribe(string(coordinator.EventThinking), func(coordinator.Event) { thinking.Add(1) })

	bus.Emit(coordinator.Event{Kind: coordinator.EventDecision})
	bus.Emit(coordinator.Event{Kind: coordinator.EventThinking})
	bus.Emit(coordinator.Event{Kind: coordinator.EventThinking})

	time.Sleep(50 * time.Millisecond)

	if got := decisions.Load(); got != 1 {
		t.Errorf("decision handler: got %d, want 1", got)
	}
	if got := thinking.Load(); got != 2 {
		t.Errorf("thinking handler: got %d, want 2", got)
	}
}

// === Ordering ===

func TestBus_OrderPreserved(t *testing.T) {
	bus := NewBus(testLogger(), 100)

	var got []string
	bus.Subscribe(Wildcard, func(ev coordinator.Event) {
		got = append(got, ev.ActionMessage)
	})

	for _, msg := range []string{"a", "b", "c", "d"} {
		bus.Emit(coordinator.Event{Kind: coordinator.EventAction, ActionMessage: msg})
	}
	bus.Close() // drains before returning

	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// === Panicking handler does not break dispatch ===

func TestBus_HandlerPanicIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop(), 100)

	var received atomic.Int32
	bus.Subscribe(Wildcard, func(coordinator.Event) { panic("boom") })
	bus.Subscribe(Wildcard, func(coordinator.Event) { received.Add(1) })

	bus.Emit(coordinator.Event{Kind: coordinator.EventAction})
	bus.Close()

	if got := received.Load(); got != 1 {
		t.Errorf("second handler should still run, got %d", got)
	}
}

// === Emit after Close is a no-op ===

func TestBus_EmitAfterClose(t *testing.T) {
	bus := NewBus(zap.NewNop(), 10)
	bus.Close()
	bus.Emit(coordinator.Event{Kind: coordinator.EventAction}) // must not panic
}
