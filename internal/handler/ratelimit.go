package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insider-one/notification-dispatcher/internal/middleware"
	"github.com/insider-one/notification-dispatcher/internal/ratelimit"
)

// RateLimitInspector reads and resets limiter windows
type RateLimitInspector interface {
	GetRateLimitInfo(ctx context.Context, service string) (ratelimit.RateLimitInfo, error)
	ResetState(ctx context.Context, services ...string) error
}

// RateLimitHandler exposes limiter state for operators
type RateLimitHandler struct {
	limiter RateLimitInspector
	logger  *slog.Logger
}

// NewRateLimitHandler creates a new RateLimitHandler
func NewRateLimitHandler(limiter RateLimitInspector, logger *slog.Logger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, logger: logger}
}

// RegisterRoutes registers rate limit routes
func (h *RateLimitHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rate-limits", func(r chi.Router) {
		r.Get("/{service}", h.Get)
		r.Delete("/", h.ResetAll)
		r.Delete("/{service}", h.Reset)
	})
}

// RateLimitResponse is the live window of a service
type RateLimitResponse struct {
	Service          string `json:"service"`
	Unlimited        bool   `json:"unlimited"`
	MaxRequests      int    `json:"max_requests"`
	Remaining        int    `json:"remaining"`
	WindowMs         int64  `json:"window_ms"`
	TimeUntilResetMs int64  `json:"time_until_reset_ms"`
}

func newRateLimitResponse(service string, info ratelimit.RateLimitInfo) RateLimitResponse {
	resp := RateLimitResponse{
		Service:          service,
		Unlimited:        info.Unlimited(),
		TimeUntilResetMs: info.TimeUntilReset.Milliseconds(),
	}
	if !resp.Unlimited {
		resp.MaxRequests = info.MaxRequests
		resp.Remaining = info.Remaining
		resp.WindowMs = info.Window.Milliseconds()
	}
	return resp
}

// Get returns the rate limit window of a service
// @Summary Get rate limit
// @Tags rate-limits
// @Produce json
// @Param service path string true "Service key, e.g. whatsapp"
// @Success 200 {object} Response{data=RateLimitResponse}
// @Router /api/v1/rate-limits/{service} [get]
func (h *RateLimitHandler) Get(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	info, err := h.limiter.GetRateLimitInfo(r.Context(), service)
	if err != nil {
		HandleError(w, middleware.Logger(r.Context(), h.logger), err)
		return
	}

	JSON(w, http.StatusOK, newRateLimitResponse(service, info))
}

// Reset clears the window of one service
// @Summary Reset rate limit
// @Tags rate-limits
// @Param service path string true "Service key"
// @Success 204
// @Router /api/v1/rate-limits/{service} [delete]
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.limiter.ResetState(r.Context(), chi.URLParam(r, "service")); err != nil {
		HandleError(w, middleware.Logger(r.Context(), h.logger), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetAll clears every window
// @Summary Reset all rate limits
// @Tags rate-limits
// @Success 204
// @Router /api/v1/rate-limits [delete]
func (h *RateLimitHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.limiter.ResetState(r.Context()); err != nil {
		HandleError(w, middleware.Logger(r.Context(), h.logger), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
