package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.True(t, cfg.Channels.EmailBatch)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "250ms")
	t.Setenv("RATE_LIMIT_OVERRIDES", "whatsapp:80/1s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("WORKER_POOL_SIZE", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.Window)
	assert.Equal(t, "whatsapp:80/1s", cfg.RateLimit.Overrides)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 8, cfg.Worker.PoolSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown store", "RATE_LIMIT_STORE", "etcd"},
		{"unknown email provider", "EMAIL_PROVIDER", "pigeon"},
		{"zero workers", "WORKER_POOL_SIZE", "0"},
		{"bad duration", "RATE_LIMIT_WINDOW", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
