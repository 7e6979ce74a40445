package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/insider-one/notification-dispatcher/internal/ratelimit"
)

const windowKeyPrefix = "ratelimit:"

// Scores are unix microseconds so they stay exact in a Redis double.
// The window is pruned, counted and recorded in one script so concurrent
// instances cannot admit more than the limit.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, math.ceil(window / 1000) * 2)
	return {1, ''}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, oldest[2] or ''}
`)

// WindowStore implements ratelimit.WindowStore on sorted sets so the window
// is shared by every instance of the service
type WindowStore struct {
	client *Client
}

var _ ratelimit.WindowStore = (*WindowStore)(nil)

// NewWindowStore creates a new WindowStore
func NewWindowStore(client *Client) *WindowStore {
	return &WindowStore{client: client}
}

// windowKey returns the Redis key for a service window
func windowKey(service string) string {
	return windowKeyPrefix + service
}

func (s *WindowStore) Admit(ctx context.Context, service string, now time.Time, limit ratelimit.Limit) (bool, time.Time, error) {
	res, err := admitScript.Run(ctx, s.client.client,
		[]string{windowKey(service)},
		now.UnixMicro(),
		limit.Window.Microseconds(),
		limit.MaxRequests,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to run admit script: %w", err)
	}
	return parseAdmitReply(res)
}

func (s *WindowStore) State(ctx context.Context, service string, now time.Time, window time.Duration) (ratelimit.WindowState, error) {
	key := windowKey(service)
	cutoff := "(" + strconv.FormatInt(now.Add(-window).UnixMicro(), 10)

	pipe := s.client.client.Pipeline()
	existsCmd := pipe.Exists(ctx, key)
	countCmd := pipe.ZCount(ctx, key, cutoff, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   cutoff,
		Max:   "+inf",
		Count: 1,
	})

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return ratelimit.WindowState{}, fmt.Errorf("failed to read window: %w", err)
	}

	state := ratelimit.WindowState{
		Known: existsCmd.Val() > 0,
		Count: int(countCmd.Val()),
	}
	if z := oldestCmd.Val(); len(z) > 0 {
		state.Oldest = time.UnixMicro(int64(z[0].Score))
	}
	return state, nil
}

func (s *WindowStore) Reset(ctx context.Context, service string) error {
	if err := s.client.client.Del(ctx, windowKey(service)).Err(); err != nil {
		return fmt.Errorf("failed to delete window: %w", err)
	}
	return nil
}

func (s *WindowStore) ResetAll(ctx context.Context) error {
	iter := s.client.client.Scan(ctx, 0, windowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete window %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan windows: %w", err)
	}
	return nil
}

// parseAdmitReply decodes {admitted, oldestScore} from the admit script
func parseAdmitReply(res []any) (bool, time.Time, error) {
	if len(res) != 2 {
		return false, time.Time{}, fmt.Errorf("unexpected admit reply: %v", res)
	}
	admitted, ok := res[0].(int64)
	if !ok {
		return false, time.Time{}, fmt.Errorf("unexpected admit flag: %v", res[0])
	}
	if admitted == 1 {
		return true, time.Time{}, nil
	}

	raw, _ := res[1].(string)
	if raw == "" {
		return false, time.Time{}, nil
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid oldest score %q: %w", raw, err)
	}
	return false, time.UnixMicro(int64(score)), nil
}
