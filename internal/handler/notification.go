package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/middleware"
	"github.com/insider-one/notification-dispatcher/internal/service"
)

// Dispatcher is the write side used by the HTTP layer
type Dispatcher interface {
	SendMessage(ctx context.Context, cmd service.SendIndividual) (service.SendResult, error)
	SendBatchMessages(ctx context.Context, cmd service.SendBatch) (service.SendResult, error)
	ConfirmDelivery(ctx context.Context, id domain.NotificationID) error
	GetNotification(ctx context.Context, id domain.NotificationID) (*domain.Notification, error)
	GetBatch(ctx context.Context, id domain.BatchID) (*domain.NotificationBatch, error)
}

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	dispatcher Dispatcher
	history    domain.HistoryRepository
	stats      domain.StatsRepository
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(
	dispatcher Dispatcher,
	history domain.HistoryRepository,
	stats domain.StatsRepository,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: dispatcher,
		history:    history,
		stats:      stats,
		validate:   validator.New(),
		logger:     logger,
	}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Send)
		r.Post("/batch", h.SendBatch)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/history", h.GetHistory)
		r.Post("/{id}/delivered", h.ConfirmDelivery)
	})
	r.Get("/batches/{id}", h.GetBatch)
	r.Get("/stats/{channel}", h.GetStats)
}

// Send sends a single notification synchronously
// @Summary Send notification
// @Description Validate, persist and deliver one notification
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body service.SendIndividual true "Notification request"
// @Success 201 {object} Response{data=service.SendResult}
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 502 {object} Response
// @Router /api/v1/notifications [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	var req service.SendIndividual
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		validationFailed(w, err)
		return
	}

	result, err := h.dispatcher.SendMessage(r.Context(), req)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusCreated, result)
}

// SendBatch accepts a batch for background delivery
// @Summary Send batch
// @Description Persist a batch and queue it for delivery (max 1000 recipients)
// @Tags notifications
// @Accept json
// @Produce json
// @Param batch body service.SendBatch true "Batch request"
// @Success 202 {object} Response{data=service.SendResult}
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Failure 503 {object} Response
// @Router /api/v1/notifications/batch [post]
func (h *NotificationHandler) SendBatch(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	var req service.SendBatch
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		validationFailed(w, err)
		return
	}

	result, err := h.dispatcher.SendBatchMessages(r.Context(), req)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusAccepted, result)
}

// GetByID returns one notification
// @Summary Get notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response{data=domain.NotificationSnapshot}
// @Failure 404 {object} Response
// @Router /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	id, err := domain.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	n, err := h.dispatcher.GetNotification(r.Context(), id)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusOK, n.Snapshot())
}

// GetHistory returns the history read model of one notification
// @Summary Get notification history
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response{data=domain.HistoryEntry}
// @Failure 404 {object} Response
// @Router /api/v1/notifications/{id}/history [get]
func (h *NotificationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	id, err := domain.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	entry, err := h.history.GetByNotificationID(r.Context(), id)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusOK, entry)
}

// ConfirmDelivery records a vendor delivery receipt
// @Summary Confirm delivery
// @Description Vendor callback moving a SENT notification to DELIVERED
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /api/v1/notifications/{id}/delivered [post]
func (h *NotificationHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	id, err := domain.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	if err := h.dispatcher.ConfirmDelivery(r.Context(), id); err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": string(domain.StatusDelivered),
	})
}

// GetBatch returns a batch with its notifications
// @Summary Get batch
// @Tags batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} Response{data=domain.BatchSnapshot}
// @Failure 404 {object} Response
// @Router /api/v1/batches/{id} [get]
func (h *NotificationHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	id, err := domain.ParseBatchID(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	b, err := h.dispatcher.GetBatch(r.Context(), id)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusOK, b.Snapshot())
}

// StatsResponse is the daily stats of one channel
type StatsResponse struct {
	*domain.DailyStats
	SuccessRate float64 `json:"success_rate"`
}

// GetStats returns the daily counters of a channel
// @Summary Get channel stats
// @Tags stats
// @Produce json
// @Param channel path string true "Channel"
// @Param date query string false "UTC day, YYYY-MM-DD (default today)"
// @Success 200 {object} Response{data=StatsResponse}
// @Failure 400 {object} Response
// @Router /api/v1/stats/{channel} [get]
func (h *NotificationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	channel, err := domain.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			HandleError(w, logger, domain.NewValidationError("date", "date must be YYYY-MM-DD"))
			return
		}
	}

	stats, err := h.stats.Get(r.Context(), channel, day)
	if err != nil {
		HandleError(w, logger, err)
		return
	}

	JSON(w, http.StatusOK, StatsResponse{DailyStats: stats, SuccessRate: stats.SuccessRate()})
}

// FieldError describes one failed validation rule
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationFailed(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	details := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		details[i] = FieldError{Field: fe.Namespace(), Rule: fe.Tag()}
	}
	JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", details)
}
