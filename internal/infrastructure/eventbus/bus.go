// Package eventbus fans the coordinator's UI event stream out to any
// number of attached sinks (terminal renderer, websocket bridge,
// telegram notifier). The coordinator itself only ever sees a single
// EventSink; the bus is that sink.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
)

// Handler consumes one coordinator event.
type Handler func(coordinator.Event)

// Wildcard subscribes a handler to every event kind.
const Wildcard = "*"

// Bus is an in-memory publish/subscribe fan-out over coordinator
// events. Publishing is non-blocking: when the buffer is full the event
// is dropped with a warning rather than stalling the coordinator's
// single thread.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	events   chan coordinator.Event
	closed   bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		handlers: make(map[string][]Handler),
		events:   make(chan coordinator.Event, bufferSize),
		logger:   logger,
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Emit implements coordinator.EventSink.
func (b *Bus) Emit(ev coordinator.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.events <- ev:
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Subscribe registers a handler for one event kind, or for every kind
// via Wildcard.
func (b *Bus) Subscribe(kind string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Close stops dispatch after draining buffered events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for ev := range b.events {
		b.dispatchEvent(ev)
	}
}

func (b *Bus) dispatchEvent(ev coordinator.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)
	if h, ok := b.handlers[string(ev.Kind)]; ok {
		handlers = append(handlers, h...)
	}
	if h, ok := b.handlers[Wildcard]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	// Handlers run sequentially on the dispatch goroutine so sinks
	// observe decisions in emit order;
	// a panicking sink must not take the bus down with it.
	for _, handler := range handlers {
		func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked",
						zap.String("kind", string(ev.Kind)),
						zap.Any("panic", r),
					)
				}
			}()
			h(ev)
		}(handler)
	}
}
