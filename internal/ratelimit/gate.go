package ratelimit

import (
	"context"
	"slices"
	"sync"
)

// gate is a FIFO mutex: waiters acquire in arrival order and ownership is
// handed directly to the next waiter on release
type gate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (g *gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if i := slices.Index(g.waiters, ready); i >= 0 {
			g.waiters = slices.Delete(g.waiters, i, i+1)
			g.mu.Unlock()
			return ctx.Err()
		}
		g.mu.Unlock()
		// ownership was handed over concurrently with the cancellation
		g.release()
		return ctx.Err()
	}
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.held = false
		return
	}
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	close(next)
}
