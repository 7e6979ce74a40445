package projection

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/ratelimit"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

// MockHistoryRepository is a mock implementation of domain.HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Upsert(ctx context.Context, entry domain.HistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetByNotificationID(ctx context.Context, id domain.NotificationID) (*domain.HistoryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HistoryEntry), args.Error(1)
}

// MockStatsRepository is a mock implementation of domain.StatsRepository
type MockStatsRepository struct {
	mock.Mock
}

func (m *MockStatsRepository) Increment(ctx context.Context, channel domain.Channel, day time.Time, counter domain.StatsCounter) error {
	args := m.Called(ctx, channel, day, counter)
	return args.Error(0)
}

func (m *MockStatsRepository) Get(ctx context.Context, channel domain.Channel, day time.Time) (*domain.DailyStats, error) {
	args := m.Called(ctx, channel, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DailyStats), args.Error(1)
}

var occurred = time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)

func testEvents() (domain.NotificationSentEvent, domain.NotificationFailedEvent, domain.NotificationDeliveredEvent) {
	id, recipient := domain.NewNotificationID(), domain.NewUserID()
	sent := domain.NotificationSentEvent{
		NotificationID: id, RecipientID: recipient, Channel: domain.ChannelWhatsApp,
		Title: "Hi", Body: "Hello", SentAt: occurred,
	}
	failed := domain.NotificationFailedEvent{
		NotificationID: id, RecipientID: recipient, Channel: domain.ChannelWhatsApp,
		Title: "Hi", Body: "Hello", ErrorMessage: "number not on whatsapp", FailedAt: occurred,
	}
	delivered := domain.NotificationDeliveredEvent{
		NotificationID: id, RecipientID: recipient, Channel: domain.ChannelWhatsApp, DeliveredAt: occurred,
	}
	return sent, failed, delivered
}

func TestHistoryProjection_Handle(t *testing.T) {
	ctx := context.Background()
	sent, failed, delivered := testEvents()

	tests := []struct {
		name  string
		event domain.Event
		check func(t *testing.T, e domain.HistoryEntry)
	}{
		{
			name:  "sent",
			event: sent,
			check: func(t *testing.T, e domain.HistoryEntry) {
				assert.Equal(t, domain.StatusSent, e.Status)
				assert.Equal(t, "Hello", e.Body)
				require.NotNil(t, e.SentAt)
				assert.Equal(t, occurred, *e.SentAt)
				assert.Nil(t, e.FailedAt)
			},
		},
		{
			name:  "failed",
			event: failed,
			check: func(t *testing.T, e domain.HistoryEntry) {
				assert.Equal(t, domain.StatusFailed, e.Status)
				assert.Equal(t, "number not on whatsapp", e.ErrorMessage)
				require.NotNil(t, e.FailedAt)
			},
		},
		{
			name:  "delivered",
			event: delivered,
			check: func(t *testing.T, e domain.HistoryEntry) {
				assert.Equal(t, domain.StatusDelivered, e.Status)
				require.NotNil(t, e.DeliveredAt)
				assert.Nil(t, e.SentAt)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockHistoryRepository{}
			var got domain.HistoryEntry
			repo.On("Upsert", ctx, mock.Anything).
				Run(func(args mock.Arguments) { got = args.Get(1).(domain.HistoryEntry) }).
				Return(nil).Once()

			require.NoError(t, NewHistoryProjection(repo, testLogger).Handle(ctx, tt.event))
			assert.Equal(t, sent.NotificationID, got.NotificationID)
			assert.Equal(t, domain.ChannelWhatsApp, got.Channel)
			tt.check(t, got)
		})
	}
}

func TestHistoryProjection_IgnoresOtherEvents(t *testing.T) {
	repo := &MockHistoryRepository{}
	err := NewHistoryProjection(repo, testLogger).Handle(context.Background(), domain.BatchCompletedEvent{})
	require.NoError(t, err)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestHistoryProjection_RepositoryError(t *testing.T) {
	sent, _, _ := testEvents()
	repo := &MockHistoryRepository{}
	repo.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	err := NewHistoryProjection(repo, testLogger).Handle(context.Background(), sent)
	assert.ErrorContains(t, err, "connection reset")
	assert.ErrorContains(t, err, sent.NotificationID.String())
}

func TestStatsProjection_Handle(t *testing.T) {
	ctx := context.Background()
	sent, failed, delivered := testEvents()

	tests := []struct {
		event   domain.Event
		counter domain.StatsCounter
	}{
		{sent, domain.CounterSent},
		{failed, domain.CounterFailed},
		{delivered, domain.CounterDelivered},
	}

	for _, tt := range tests {
		t.Run(string(tt.counter), func(t *testing.T) {
			repo := &MockStatsRepository{}
			repo.On("Increment", ctx, domain.ChannelWhatsApp, occurred, tt.counter).Return(nil).Once()

			require.NoError(t, NewStatsProjection(repo).Handle(ctx, tt.event))
			repo.AssertExpectations(t)
		})
	}
}

func TestStatsProjection_IgnoresOtherEvents(t *testing.T) {
	repo := &MockStatsRepository{}
	require.NoError(t, NewStatsProjection(repo).Handle(context.Background(), domain.BatchCompletedEvent{}))
	repo.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type fakeQueue struct{ depth, inFlight int }

func (q fakeQueue) QueueDepth() int { return q.depth }
func (q fakeQueue) InFlight() int   { return q.inFlight }

func TestMetrics(t *testing.T) {
	var _ ratelimit.Observer = (*Metrics)(nil)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RegisterQueue(reg, fakeQueue{depth: 3, inFlight: 5})

	sent, failed, delivered := testEvents()
	ctx := context.Background()
	for _, e := range []domain.Event{sent, sent, failed, delivered} {
		require.NoError(t, m.Handle(ctx, e))
	}
	require.NoError(t, m.Handle(ctx, domain.BatchCompletedEvent{
		Channel: domain.ChannelEmail, Status: domain.BatchStatusCompleted, Total: 10,
	}))
	m.ObserveRateLimitWait("whatsapp", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("whatsapp", "SENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("whatsapp", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("whatsapp", "DELIVERED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("email", "COMPLETED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rateLimitWait))

	families, err := reg.Gather()
	require.NoError(t, err)
	gauges := map[string]float64{}
	for _, f := range families {
		if f.GetType().String() == "GAUGE" {
			gauges[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, gauges["batch_processor_queue_depth"])
	assert.Equal(t, 5.0, gauges["batch_processor_in_flight"])
}
