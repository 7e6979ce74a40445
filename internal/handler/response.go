package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an API error
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

// JSONError writes an error response
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// HandleError maps domain errors to HTTP responses. Unexpected errors are logged.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr    domain.ValidationError
		configurationErr domain.ConfigurationError
		deliveryErr      *domain.DeliveryError
	)

	switch {
	case errors.As(err, &validationErr):
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, map[string]string{
			"field": validationErr.Field,
		})

	case errors.Is(err, domain.ErrBatchSizeExceeded):
		JSONError(w, http.StatusBadRequest, "BATCH_SIZE_EXCEEDED", err.Error(), nil)

	case errors.Is(err, domain.ErrNotFound):
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)

	case errors.Is(err, domain.ErrInvalidTransition):
		JSONError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)

	case errors.Is(err, domain.ErrBatchNotSupported):
		JSONError(w, http.StatusUnprocessableEntity, "BATCH_NOT_SUPPORTED", err.Error(), nil)

	case errors.Is(err, domain.ErrProcessorBusy), errors.Is(err, domain.ErrProcessorStopped):
		JSONError(w, http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", err.Error(), nil)

	case errors.Is(err, domain.ErrRateLimitSaturated):
		JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error(), nil)

	case errors.As(err, &configurationErr):
		logger.Error("channel not configured", "channel", configurationErr.Channel)
		JSONError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", err.Error(), nil)

	case errors.As(err, &deliveryErr):
		JSONError(w, http.StatusBadGateway, "DELIVERY_FAILED", err.Error(), map[string]string{
			"notification_id": deliveryErr.NotificationID.String(),
		})

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		JSONError(w, http.StatusServiceUnavailable, "REQUEST_ABORTED", err.Error(), nil)

	default:
		logger.Error("internal error", "error", err)
		JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred", nil)
	}
}

// DecodeJSON decodes JSON request body
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.NewValidationError("body", "request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}

	return nil
}
