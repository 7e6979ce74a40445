package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Unlimited is reported for services that have never been throttled
const Unlimited = math.MaxInt

// RateLimitInfo describes the live window of one service
type RateLimitInfo struct {
	MaxRequests    int           `json:"max_requests"`
	Remaining      int           `json:"remaining"`
	Window         time.Duration `json:"window"`
	TimeUntilReset time.Duration `json:"time_until_reset"`
}

// Unlimited reports whether the service has no window yet
func (i RateLimitInfo) Unlimited() bool {
	return i.MaxRequests == Unlimited
}

// Observer receives the time each admitted call spent waiting
type Observer interface {
	ObserveRateLimitWait(service string, waited time.Duration)
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithObserver reports admission waits to o
func WithObserver(o Observer) Option {
	return func(l *RateLimiter) { l.observer = o }
}

// WithLogger sets the limiter logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *RateLimiter) { l.logger = logger }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *RateLimiter) { l.now = now }
}

// RateLimiter throttles outbound calls per named service using a sliding window.
// Admission for one service is serialized through a FIFO gate, so the check and
// the slot recording happen as one step and no caller overtakes an earlier one.
type RateLimiter struct {
	store    WindowStore
	cfg      Config
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	gates map[string]*gate
}

// New creates a RateLimiter over store
func New(store WindowStore, cfg Config, opts ...Option) (*RateLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	l := &RateLimiter{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		gates:  make(map[string]*gate),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LimitFor returns the limit applied to service
func (l *RateLimiter) LimitFor(service string) Limit {
	if o, ok := l.cfg.Overrides[service]; ok {
		return o
	}
	return l.cfg.Default
}

func (l *RateLimiter) gateFor(service string) *gate {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.gates[service]
	if !ok {
		g = &gate{}
		l.gates[service] = g
	}
	return g
}

// CheckAndWaitIfNeeded records a slot for service, waiting for the oldest slot
// to leave the window when the window is full
func (l *RateLimiter) CheckAndWaitIfNeeded(ctx context.Context, service string) error {
	limit := l.LimitFor(service)
	if limit.MaxRequests == 0 {
		return fmt.Errorf("%w: %s allows no requests", domain.ErrRateLimitSaturated, service)
	}

	g := l.gateFor(service)
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	start := l.now()
	for {
		now := l.now()
		admitted, oldest, err := l.store.Admit(ctx, service, now, limit)
		if err != nil {
			return fmt.Errorf("failed to record rate limit slot: %w", err)
		}
		if admitted {
			if l.observer != nil {
				l.observer.ObserveRateLimitWait(service, now.Sub(start))
			}
			return nil
		}

		wait := oldest.Add(limit.Window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		l.logger.Debug("rate limit reached, waiting", "service", service, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// GetRemainingRequests returns the free slots in the current window, never negative
func (l *RateLimiter) GetRemainingRequests(ctx context.Context, service string) (int, error) {
	limit := l.LimitFor(service)
	state, err := l.store.State(ctx, service, l.now(), limit.Window)
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	return max(0, limit.MaxRequests-state.Count), nil
}

// GetTimeUntilReset returns how long until the oldest live slot expires
func (l *RateLimiter) GetTimeUntilReset(ctx context.Context, service string) (time.Duration, error) {
	limit := l.LimitFor(service)
	now := l.now()
	state, err := l.store.State(ctx, service, now, limit.Window)
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	return untilReset(state, now, limit.Window), nil
}

// GetRateLimitInfo returns the live window for service. A service that has no
// window yet and no configured override is reported as unlimited.
func (l *RateLimiter) GetRateLimitInfo(ctx context.Context, service string) (RateLimitInfo, error) {
	limit := l.LimitFor(service)
	now := l.now()
	state, err := l.store.State(ctx, service, now, limit.Window)
	if err != nil {
		return RateLimitInfo{}, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if !state.Known && !l.configured(service) {
		return RateLimitInfo{MaxRequests: Unlimited, Remaining: Unlimited}, nil
	}

	return RateLimitInfo{
		MaxRequests:    limit.MaxRequests,
		Remaining:      max(0, limit.MaxRequests-state.Count),
		Window:         limit.Window,
		TimeUntilReset: untilReset(state, now, limit.Window),
	}, nil
}

// configured reports whether service has its own limit or admits nothing
func (l *RateLimiter) configured(service string) bool {
	if _, ok := l.cfg.Overrides[service]; ok {
		return true
	}
	return l.cfg.Default.MaxRequests == 0
}

// ResetState clears the named services, or every service when none is given
func (l *RateLimiter) ResetState(ctx context.Context, services ...string) error {
	if len(services) == 0 {
		if err := l.store.ResetAll(ctx); err != nil {
			return fmt.Errorf("failed to reset rate limits: %w", err)
		}
		l.logger.Info("rate limits reset")
		return nil
	}

	for _, service := range services {
		if err := l.store.Reset(ctx, service); err != nil {
			return fmt.Errorf("failed to reset rate limit for %s: %w", service, err)
		}
		l.logger.Info("rate limit reset", "service", service)
	}
	return nil
}

func untilReset(state WindowState, now time.Time, window time.Duration) time.Duration {
	if state.Count == 0 || state.Oldest.IsZero() {
		return 0
	}
	return max(0, window-now.Sub(state.Oldest))
}
