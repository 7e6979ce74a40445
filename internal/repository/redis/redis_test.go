package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

func TestParseAdmitReply(t *testing.T) {
	oldest := time.Date(2026, 3, 1, 10, 0, 0, 123000, time.UTC)

	tests := []struct {
		name       string
		reply      []any
		wantOK     bool
		wantOldest time.Time
		wantErr    bool
	}{
		{"admitted", []any{int64(1), ""}, true, time.Time{}, false},
		{"full", []any{int64(0), "1772359200000123"}, false, oldest, false},
		{"full with empty window", []any{int64(0), ""}, false, time.Time{}, false},
		{"short reply", []any{int64(1)}, false, time.Time{}, true},
		{"bad flag", []any{"yes", ""}, false, time.Time{}, true},
		{"bad score", []any{int64(0), "abc"}, false, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, got, err := parseAdmitReply(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.wantOldest.Equal(got), "oldest %v, want %v", got, tt.wantOldest)
		})
	}
}

func TestDecodeStats(t *testing.T) {
	stats, err := decodeStats(domain.ChannelEmail, "2026-03-01", map[string]string{
		"sent":   "8",
		"failed": "2",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(8), stats.Sent)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Zero(t, stats.Delivered)
	assert.InDelta(t, 80.0, stats.SuccessRate(), 0.001)

	_, err = decodeStats(domain.ChannelEmail, "2026-03-01", map[string]string{"sent": "many"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ratelimit:whatsapp", windowKey("whatsapp"))
	assert.Equal(t, "stats:email:2026-03-01", statsKey(domain.ChannelEmail, "2026-03-01"))
}
