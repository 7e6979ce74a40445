package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/insider-one/notification-dispatcher/internal/delivery"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

// MockBatchRepository is a mock implementation of domain.BatchRepository
type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) Save(ctx context.Context, b *domain.NotificationBatch) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockBatchRepository) Update(ctx context.Context, b *domain.NotificationBatch) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockBatchRepository) GetByID(ctx context.Context, id domain.BatchID) (*domain.NotificationBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationBatch), args.Error(1)
}

func (m *MockBatchRepository) Claim(ctx context.Context, id domain.BatchID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockBatchRepository) ListStale(ctx context.Context, status domain.BatchStatus, createdBefore time.Time, limit int) ([]*domain.NotificationBatch, error) {
	args := m.Called(ctx, status, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NotificationBatch), args.Error(1)
}

// MockNotificationRepository is a mock implementation of domain.NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Save(ctx context.Context, n *domain.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotificationRepository) GetByID(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

// MockStrategy is a mock implementation of delivery.Strategy
type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) Channel() domain.Channel { return domain.ChannelEmail }

func (m *MockStrategy) Capabilities() domain.Capabilities {
	return domain.DefaultCapabilities(domain.ChannelEmail)
}

func (m *MockStrategy) SupportsBatch() bool { return true }

func (m *MockStrategy) DeliverSingle(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockStrategy) DeliverBatch(ctx context.Context, b *domain.NotificationBatch) (*delivery.BatchResult, error) {
	args := m.Called(ctx, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.BatchResult), args.Error(1)
}

// MockSubmitter is a mock implementation of Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(b *domain.NotificationBatch) error {
	return m.Called(b).Error(0)
}

type staticResolver struct {
	strategy delivery.Strategy
	err      error
}

func (r staticResolver) Get(domain.Channel) (delivery.Strategy, error) {
	return r.strategy, r.err
}

// recordingPublisher keeps published events and signals batch completion
type recordingPublisher struct {
	mu        sync.Mutex
	events    []domain.Event
	completed chan domain.BatchCompletedEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{completed: make(chan domain.BatchCompletedEvent, 16)}
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()

	if e, ok := event.(domain.BatchCompletedEvent); ok {
		p.completed <- e
	}
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// memoryBatchRepository keeps batch status rows so claims behave like the database
type memoryBatchRepository struct {
	mu       sync.Mutex
	statuses map[domain.BatchID]domain.BatchStatus
	stale    []*domain.NotificationBatch
}

func newMemoryBatchRepository() *memoryBatchRepository {
	return &memoryBatchRepository{statuses: make(map[domain.BatchID]domain.BatchStatus)}
}

func (r *memoryBatchRepository) Save(_ context.Context, b *domain.NotificationBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[b.ID()] = b.Status()
	return nil
}

func (r *memoryBatchRepository) Update(_ context.Context, b *domain.NotificationBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statuses[b.ID()]; !ok {
		return domain.ErrNotFound
	}
	r.statuses[b.ID()] = b.Status()
	return nil
}

func (r *memoryBatchRepository) GetByID(context.Context, domain.BatchID) (*domain.NotificationBatch, error) {
	return nil, domain.ErrNotFound
}

func (r *memoryBatchRepository) Claim(_ context.Context, id domain.BatchID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses[id] != domain.BatchStatusPending {
		return false, nil
	}
	r.statuses[id] = domain.BatchStatusProcessing
	return true, nil
}

func (r *memoryBatchRepository) ListStale(context.Context, domain.BatchStatus, time.Time, int) ([]*domain.NotificationBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale, nil
}

func (r *memoryBatchRepository) status(id domain.BatchID) domain.BatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}
