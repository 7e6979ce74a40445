package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowState is a read-only view of one service's window
type WindowState struct {
	Known  bool
	Count  int
	Oldest time.Time
}

// WindowStore keeps per-service slot timestamps.
// Admit must check and record atomically so that no more than limit.MaxRequests
// slots ever fall inside one window.
type WindowStore interface {
	// Admit records a slot at now when the window has room; otherwise it returns
	// the oldest live slot so the caller knows how long to wait
	Admit(ctx context.Context, service string, now time.Time, limit Limit) (admitted bool, oldest time.Time, err error)
	// State returns the live slots for the window ending at now
	State(ctx context.Context, service string, now time.Time, window time.Duration) (WindowState, error)
	Reset(ctx context.Context, service string) error
	ResetAll(ctx context.Context) error
}

// MemoryStore is a process-local WindowStore
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory window store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Admit(_ context.Context, service string, now time.Time, limit Limit) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := prune(s.windows[service], now, limit.Window)
	if len(slots) < limit.MaxRequests {
		s.windows[service] = append(slots, now)
		return true, time.Time{}, nil
	}
	s.windows[service] = slots

	var oldest time.Time
	if len(slots) > 0 {
		oldest = slots[0]
	}
	return false, oldest, nil
}

func (s *MemoryStore) State(_ context.Context, service string, now time.Time, window time.Duration) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots, known := s.windows[service]
	if !known {
		return WindowState{}, nil
	}
	slots = prune(slots, now, window)
	s.windows[service] = slots

	state := WindowState{Known: true, Count: len(slots)}
	if len(slots) > 0 {
		state.Oldest = slots[0]
	}
	return state, nil
}

func (s *MemoryStore) Reset(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, service)
	return nil
}

func (s *MemoryStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.windows)
	return nil
}

// prune drops slots at or before now-window. Slots are kept in arrival order.
func prune(slots []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(slots) && !slots[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return slots
	}
	return append(slots[:0:0], slots[i:]...)
}
