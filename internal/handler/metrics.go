package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/projection"
)

// MetricsHandler handles metrics endpoints
type MetricsHandler struct {
	gatherer prometheus.Gatherer
	queue    projection.QueueStats
	limiter  RateLimitInspector
	channels []domain.Channel
	logger   *slog.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(
	gatherer prometheus.Gatherer,
	queue projection.QueueStats,
	limiter RateLimitInspector,
	channels []domain.Channel,
	logger *slog.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		gatherer: gatherer,
		queue:    queue,
		limiter:  limiter,
		channels: channels,
		logger:   logger,
	}
}

// Handler returns the Prometheus HTTP handler
func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

// RealtimeMetrics is a snapshot of processor load and rate limit windows
type RealtimeMetrics struct {
	QueueDepth int                                  `json:"queue_depth"`
	InFlight   int                                  `json:"in_flight"`
	RateLimits map[domain.Channel]RateLimitResponse `json:"rate_limits"`
}

// RealtimeMetrics handles real-time metrics requests
// @Summary Real-time metrics
// @Description Get processor queue depth and per-channel rate limit windows
// @Tags metrics
// @Produce json
// @Success 200 {object} RealtimeMetrics
// @Failure 500 {object} Response
// @Router /metrics/realtime [get]
func (h *MetricsHandler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	metrics := RealtimeMetrics{
		QueueDepth: h.queue.QueueDepth(),
		InFlight:   h.queue.InFlight(),
		RateLimits: make(map[domain.Channel]RateLimitResponse, len(h.channels)),
	}

	for _, ch := range h.channels {
		info, err := h.limiter.GetRateLimitInfo(ctx, string(ch))
		if err != nil {
			h.logger.Error("failed to read rate limit", "channel", ch, "error", err)
			JSONError(w, http.StatusInternalServerError, "METRICS_ERROR", "Failed to read rate limits", nil)
			return
		}
		metrics.RateLimits[ch] = newRateLimitResponse(string(ch), info)
	}

	JSON(w, http.StatusOK, metrics)
}
