package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/ratelimit"
)

func newTestClient(t *testing.T, mr *miniredis.Miniredis) *Client {
	t.Helper()
	c := &Client{client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWindowStore_Admit(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewWindowStore(newTestClient(t, mr))
	ctx := context.Background()
	limit := ratelimit.Limit{MaxRequests: 3, Window: time.Second}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, _, err := store.Admit(ctx, "whatsapp", start.Add(time.Duration(i)*10*time.Millisecond), limit)
		require.NoError(t, err)
		require.True(t, ok, "slot %d", i)
	}

	ok, oldest, err := store.Admit(ctx, "whatsapp", start.Add(30*time.Millisecond), limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, start.Equal(oldest), "oldest %v, want %v", oldest, start)

	members, err := mr.ZMembers(windowKey("whatsapp"))
	require.NoError(t, err)
	assert.Len(t, members, 3, "a refused call must not record a slot")
	assert.Positive(t, mr.TTL(windowKey("whatsapp")))

	ok, _, err = store.Admit(ctx, "whatsapp", start.Add(time.Second), limit)
	require.NoError(t, err)
	assert.True(t, ok, "oldest slot left the window")

	ok, _, err = store.Admit(ctx, "email", start.Add(30*time.Millisecond), limit)
	require.NoError(t, err)
	assert.True(t, ok, "services have separate windows")
}

func TestWindowStore_StateAndReset(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewWindowStore(newTestClient(t, mr))
	ctx := context.Background()
	limit := ratelimit.Limit{MaxRequests: 5, Window: time.Second}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state, err := store.State(ctx, "email", start, limit.Window)
	require.NoError(t, err)
	assert.False(t, state.Known)

	for _, svc := range []string{"email", "email", "whatsapp"} {
		ok, _, err := store.Admit(ctx, svc, start, limit)
		require.NoError(t, err)
		require.True(t, ok)
	}

	state, err = store.State(ctx, "email", start.Add(100*time.Millisecond), limit.Window)
	require.NoError(t, err)
	assert.True(t, state.Known)
	assert.Equal(t, 2, state.Count)
	assert.True(t, start.Equal(state.Oldest))

	require.NoError(t, store.Reset(ctx, "email"))
	assert.False(t, mr.Exists(windowKey("email")))
	assert.True(t, mr.Exists(windowKey("whatsapp")))

	require.NoError(t, mr.Set("unrelated", "x"))
	require.NoError(t, store.ResetAll(ctx))
	assert.False(t, mr.Exists(windowKey("whatsapp")))
	assert.True(t, mr.Exists("unrelated"))
}

func TestWindowStore_SharedAcrossInstances(t *testing.T) {
	const (
		maxRequests = 5
		callers     = 8
	)
	mr := miniredis.RunT(t)
	cfg := ratelimit.Config{Default: ratelimit.Limit{MaxRequests: maxRequests, Window: time.Hour}}

	// two limiters with their own clients behave like two service instances
	limiters := make([]*ratelimit.RateLimiter, 2)
	for i := range limiters {
		l, err := ratelimit.New(NewWindowStore(newTestClient(t, mr)), cfg)
		require.NoError(t, err)
		limiters[i] = l
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)
	for _, l := range limiters {
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(l *ratelimit.RateLimiter) {
				defer wg.Done()
				if err := l.CheckAndWaitIfNeeded(ctx, "whatsapp"); err == nil {
					admitted.Add(1)
				}
			}(l)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(maxRequests), admitted.Load())
	members, err := mr.ZMembers(windowKey("whatsapp"))
	require.NoError(t, err)
	assert.Len(t, members, maxRequests)
}

func TestStatsRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := NewStatsRepository(newTestClient(t, mr))
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

	for _, c := range []domain.StatsCounter{domain.CounterSent, domain.CounterSent, domain.CounterFailed, domain.CounterDelivered} {
		require.NoError(t, repo.Increment(ctx, domain.ChannelEmail, day, c))
	}

	stats, err := repo.Get(ctx, domain.ChannelEmail, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Positive(t, mr.TTL(statsKey(domain.ChannelEmail, domain.StatsDate(day))))

	empty, err := repo.Get(ctx, domain.ChannelWhatsApp, day)
	require.NoError(t, err)
	assert.Zero(t, empty.Sent)
}
