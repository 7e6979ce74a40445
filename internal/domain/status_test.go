package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotificationStatus_CanTransitionTo(t *testing.T) {
	allowed := map[[2]NotificationStatus]bool{
		{StatusPending, StatusSent}:   true,
		{StatusPending, StatusFailed}: true,
		{StatusSent, StatusDelivered}: true,
		{StatusSent, StatusFailed}:    true,
	}
	all := []NotificationStatus{StatusPending, StatusSent, StatusDelivered, StatusFailed}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]NotificationStatus{from, to}], from.CanTransitionTo(to))
			})
		}
	}
}

func TestNotificationStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status NotificationStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusSent, false},
		{StatusDelivered, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestBatchStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from BatchStatus
		to   BatchStatus
		want bool
	}{
		{"pending to processing", BatchStatusPending, BatchStatusProcessing, true},
		{"processing to completed", BatchStatusProcessing, BatchStatusCompleted, true},
		{"processing to failed", BatchStatusProcessing, BatchStatusFailed, true},
		{"pending to completed", BatchStatusPending, BatchStatusCompleted, false},
		{"pending to failed", BatchStatusPending, BatchStatusFailed, false},
		{"completed to processing", BatchStatusCompleted, BatchStatusProcessing, false},
		{"failed to processing", BatchStatusFailed, BatchStatusProcessing, false},
		{"completed to failed", BatchStatusCompleted, BatchStatusFailed, false},
		{"processing to pending", BatchStatusProcessing, BatchStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}
