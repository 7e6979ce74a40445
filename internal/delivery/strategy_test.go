package delivery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// MockVendor is a mock implementation of domain.Vendor
type MockVendor struct {
	mock.Mock
}

func (m *MockVendor) Send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

// MockBatchVendor is a mock implementation of domain.BatchVendor
type MockBatchVendor struct {
	MockVendor
}

func (m *MockBatchVendor) SendBatch(ctx context.Context, ns []*domain.Notification) ([]domain.VendorOutcome, error) {
	args := m.Called(ctx, ns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VendorOutcome), args.Error(1)
}

// MockLimiter is a mock implementation of Limiter
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) CheckAndWaitIfNeeded(ctx context.Context, service string) error {
	args := m.Called(ctx, service)
	return args.Error(0)
}

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func newEmailBatch(t *testing.T, n int) *domain.NotificationBatch {
	t.Helper()
	members := make([]*domain.Notification, n)
	for i := range members {
		content, err := domain.NewNotificationContent("Title", "Body", nil)
		require.NoError(t, err)
		info, err := domain.NewEmailContact("user@example.com")
		require.NoError(t, err)
		members[i], err = domain.NewNotification(domain.NewUserID(), content, info)
		require.NoError(t, err)
	}
	b, err := domain.NewNotificationBatch(domain.ChannelEmail, members)
	require.NoError(t, err)
	return b
}

func rateLimitedEmail() domain.Capabilities {
	return domain.Capabilities{SupportsBatchDelivery: true, RequiresRateLimiting: true}
}

func TestNewChannelStrategy(t *testing.T) {
	_, err := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), &MockVendor{}, nil, testLogger)
	assert.Error(t, err, "rate limited channel without limiter")

	_, err = NewChannelStrategy(domain.ChannelEmail, domain.Capabilities{}, nil, nil, testLogger)
	assert.Error(t, err)

	_, err = NewChannelStrategy(domain.Channel("fax"), domain.Capabilities{}, &MockVendor{}, nil, testLogger)
	assert.Error(t, err)

	s, err := NewChannelStrategy(domain.ChannelSystem, domain.Capabilities{}, &MockVendor{}, nil, testLogger)
	require.NoError(t, err)
	assert.False(t, s.SupportsBatch())
}

func TestDeliverSingle(t *testing.T) {
	ctx := context.Background()
	n := newEmailBatch(t, 1).Notifications()[0]

	t.Run("rate limits then sends", func(t *testing.T) {
		vendor, limiter := &MockVendor{}, &MockLimiter{}
		limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(nil).Once()
		vendor.On("Send", ctx, n).Return(&domain.Receipt{MessageID: "m-1"}, nil).Once()

		s, err := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), vendor, limiter, testLogger)
		require.NoError(t, err)

		receipt, err := s.DeliverSingle(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, "m-1", receipt.MessageID)
		assert.Equal(t, domain.StatusPending, n.Status())
		vendor.AssertExpectations(t)
		limiter.AssertExpectations(t)
	})

	t.Run("vendor rejection is a delivery error", func(t *testing.T) {
		vendor, limiter := &MockVendor{}, &MockLimiter{}
		cause := domain.NewVendorError(400, "bad address", false)
		limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(nil).Once()
		vendor.On("Send", ctx, n).Return(nil, cause).Once()

		s, _ := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), vendor, limiter, testLogger)
		_, err := s.DeliverSingle(ctx, n)

		var derr *domain.DeliveryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, n.ID(), derr.NotificationID)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("limiter failure skips vendor", func(t *testing.T) {
		vendor, limiter := &MockVendor{}, &MockLimiter{}
		limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(domain.ErrRateLimitSaturated).Once()

		s, _ := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), vendor, limiter, testLogger)
		_, err := s.DeliverSingle(ctx, n)

		assert.ErrorIs(t, err, domain.ErrRateLimitSaturated)
		vendor.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})
}

func TestDeliverBatch_ContinuesPastItemFailures(t *testing.T) {
	ctx := context.Background()
	b := newEmailBatch(t, 5)
	members := b.Notifications()

	vendor, limiter := &MockVendor{}, &MockLimiter{}
	limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(nil).Times(5)
	for i, n := range members {
		if i == 2 {
			vendor.On("Send", ctx, n).Return(nil, errors.New("mailbox full")).Once()
			continue
		}
		vendor.On("Send", ctx, n).Return(&domain.Receipt{MessageID: n.ID().String()}, nil).Once()
	}

	s, err := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), vendor, limiter, testLogger)
	require.NoError(t, err)

	result, err := s.DeliverBatch(ctx, b)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 5)

	for i, o := range result.Outcomes {
		assert.Same(t, members[i], o.Notification, "outcomes follow batch order")
		assert.Equal(t, i != 2, o.Succeeded())
	}
	succeeded, failed := result.Counts()
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 1, failed)
	vendor.AssertExpectations(t)
}

func TestDeliverBatch_SystemicFailureReturnsPartialResult(t *testing.T) {
	ctx := context.Background()
	b := newEmailBatch(t, 4)
	members := b.Notifications()

	vendor, limiter := &MockVendor{}, &MockLimiter{}
	limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(nil).Twice()
	limiter.On("CheckAndWaitIfNeeded", ctx, "email").Return(errors.New("redis down")).Once()
	vendor.On("Send", ctx, members[0]).Return(&domain.Receipt{}, nil).Once()
	vendor.On("Send", ctx, members[1]).Return(&domain.Receipt{}, nil).Once()

	s, _ := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), vendor, limiter, testLogger)
	result, err := s.DeliverBatch(ctx, b)

	var serr *domain.SystemicBatchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, b.ID(), serr.BatchID)
	require.NotNil(t, result)
	assert.Len(t, result.Outcomes, 2)
	vendor.AssertNotCalled(t, "Send", ctx, members[2])
}

func TestDeliverBatch_Unsupported(t *testing.T) {
	s, err := NewChannelStrategy(domain.ChannelEmail, domain.Capabilities{}, &MockVendor{}, nil, testLogger)
	require.NoError(t, err)

	_, err = s.DeliverBatch(context.Background(), newEmailBatch(t, 1))
	assert.ErrorIs(t, err, domain.ErrBatchNotSupported)
}

func TestDeliverBatch_UsesVendorBulkSend(t *testing.T) {
	ctx := context.Background()
	b := newEmailBatch(t, 3)
	members := b.Notifications()

	vendor := &MockBatchVendor{}
	vendor.On("SendBatch", ctx, members).Return([]domain.VendorOutcome{
		{Receipt: &domain.Receipt{MessageID: "a"}},
		{Err: domain.NewVendorError(406, "inactive", false)},
		{Receipt: &domain.Receipt{MessageID: "c"}},
	}, nil).Once()

	caps := domain.Capabilities{SupportsBatchDelivery: true}
	s, err := NewChannelStrategy(domain.ChannelEmail, caps, vendor, nil, testLogger)
	require.NoError(t, err)

	result, err := s.DeliverBatch(ctx, b)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	var derr *domain.DeliveryError
	require.ErrorAs(t, result.Outcomes[1].Err, &derr)
	assert.Equal(t, members[1].ID(), derr.NotificationID)
	assert.Equal(t, "c", result.Outcomes[2].Receipt.MessageID)
	vendor.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDeliverBatch_BulkSendShortReply(t *testing.T) {
	ctx := context.Background()
	b := newEmailBatch(t, 2)

	vendor := &MockBatchVendor{}
	vendor.On("SendBatch", ctx, b.Notifications()).Return([]domain.VendorOutcome{{Receipt: &domain.Receipt{}}}, nil).Once()

	s, _ := NewChannelStrategy(domain.ChannelEmail, domain.Capabilities{SupportsBatchDelivery: true}, vendor, nil, testLogger)
	result, err := s.DeliverBatch(ctx, b)

	var serr *domain.SystemicBatchError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, result.Outcomes, 1)
}

func TestDeliverBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := NewChannelStrategy(domain.ChannelEmail, rateLimitedEmail(), &MockVendor{}, &MockLimiter{}, testLogger)
	result, err := s.DeliverBatch(ctx, newEmailBatch(t, 2))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Outcomes)
}
