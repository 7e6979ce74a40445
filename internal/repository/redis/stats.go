package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

const (
	statsKeyPrefix = "stats:"
	statsTTL       = 90 * 24 * time.Hour
)

// StatsRepository implements domain.StatsRepository with one hash per channel and day
type StatsRepository struct {
	client *Client
}

var _ domain.StatsRepository = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(client *Client) *StatsRepository {
	return &StatsRepository{client: client}
}

// statsKey returns the Redis key for a channel's daily counters
func statsKey(channel domain.Channel, day string) string {
	return statsKeyPrefix + string(channel) + ":" + day
}

// Increment bumps one daily counter
func (r *StatsRepository) Increment(ctx context.Context, channel domain.Channel, day time.Time, counter domain.StatsCounter) error {
	key := statsKey(channel, domain.StatsDate(day))

	pipe := r.client.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(counter), 1)
	pipe.Expire(ctx, key, statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment %s stats: %w", counter, err)
	}
	return nil
}

// Get returns the counters for a channel and day; missing days are all zero
func (r *StatsRepository) Get(ctx context.Context, channel domain.Channel, day time.Time) (*domain.DailyStats, error) {
	date := domain.StatsDate(day)
	fields, err := r.client.client.HGetAll(ctx, statsKey(channel, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return decodeStats(channel, date, fields)
}

func decodeStats(channel domain.Channel, day string, fields map[string]string) (*domain.DailyStats, error) {
	stats := &domain.DailyStats{Channel: channel, Date: day}
	for field, target := range map[domain.StatsCounter]*int64{
		domain.CounterSent:      &stats.Sent,
		domain.CounterFailed:    &stats.Failed,
		domain.CounterDelivered: &stats.Delivered,
	} {
		raw, ok := fields[string(field)]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s counter %q: %w", field, raw, err)
		}
		*target = v
	}
	return stats, nil
}
