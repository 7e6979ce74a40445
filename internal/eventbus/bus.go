package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

var ErrBusClosed = errors.New("event bus is closed")

// Handler consumes one event. Returned errors are logged, never retried.
type Handler func(ctx context.Context, event domain.Event) error

// Bus is an in-process publisher. Handlers run asynchronously on a bounded
// number of goroutines so a slow read model never blocks a send.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[domain.EventType][]namedHandler
	allHandlers []namedHandler
	workerPool  chan struct{}
	logger      *slog.Logger
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

type namedHandler struct {
	name string
	fn   Handler
}

var _ domain.EventPublisher = (*Bus)(nil)

// New creates a bus running at most workers handlers at a time
func New(workers int, logger *slog.Logger) *Bus {
	if workers <= 0 {
		workers = 10
	}
	return &Bus{
		handlers:   make(map[domain.EventType][]namedHandler),
		workerPool: make(chan struct{}, workers),
		logger:     logger,
		closeCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType domain.EventType, name string, h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], namedHandler{name: name, fn: h})
	b.logger.Debug("subscribed handler", "event_type", eventType, "handler", name)
	return nil
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(name string, h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.allHandlers = append(b.allHandlers, namedHandler{name: name, fn: h})
	b.logger.Debug("subscribed global handler", "handler", name)
	return nil
}

// Publish hands the event to its handlers and returns immediately.
// Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Warn("event dropped, bus closed", "event_type", event.EventType(), "aggregate_id", event.AggregateID())
		return
	}
	handlers := make([]namedHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	// registered under the read lock so Close waits for these goroutines
	b.wg.Add(len(handlers))
	b.mu.RUnlock()

	// handlers outlive the request that published the event
	ctx = context.WithoutCancel(ctx)
	for _, h := range handlers {
		go b.execute(ctx, event, h)
	}
}

func (b *Bus) execute(ctx context.Context, event domain.Event, h namedHandler) {
	defer b.wg.Done()

	select {
	case b.workerPool <- struct{}{}:
		defer func() { <-b.workerPool }()
	case <-b.closeCh:
		b.logger.Warn("event handler skipped on shutdown", "event_type", event.EventType(), "handler", h.name)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"handler", h.name,
				"panic", r,
			)
		}
	}()

	start := time.Now()
	if err := h.fn(ctx, event); err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"handler", h.name,
			"duration", time.Since(start),
			"error", err,
		)
	}
}

// Close stops accepting events and waits for running handlers.
// Handlers still waiting for a worker slot are skipped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}
