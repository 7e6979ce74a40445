package domain

import (
	"errors"
	"fmt"
)

// Domain Const errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCorruptState       = errors.New("corrupt persisted state")
	ErrRateLimitSaturated = errors.New("rate limit admits no requests")
	ErrBatchNotSupported  = errors.New("channel does not support batch delivery")
	ErrProcessorBusy      = errors.New("batch processor queue is full")
	ErrProcessorStopped   = errors.New("batch processor is not running")
	ErrBatchSizeExceeded  = errors.New("batch size exceeded maximum limit")
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// ConfigurationError means no delivery strategy is registered for a channel
type ConfigurationError struct {
	Channel Channel
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("No delivery strategy found for channel: %s", e.Channel)
}

// DeliveryError wraps a vendor rejection of one notification
type DeliveryError struct {
	NotificationID NotificationID
	Channel        Channel
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s via %s failed: %v", e.NotificationID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func NewDeliveryError(n *Notification, err error) *DeliveryError {
	return &DeliveryError{NotificationID: n.ID(), Channel: n.Channel(), Err: err}
}

// SystemicBatchError is a failure of batch delivery as a whole,
// as opposed to the rejection of a single item.
type SystemicBatchError struct {
	BatchID BatchID
	Err     error
}

func (e *SystemicBatchError) Error() string {
	return fmt.Sprintf("batch %s failed: %v", e.BatchID, e.Err)
}

func (e *SystemicBatchError) Unwrap() error { return e.Err }

// VendorError is returned by channel vendors
type VendorError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e VendorError) Error() string {
	return fmt.Sprintf("vendor error (status %d): %s", e.StatusCode, e.Message)
}

func NewVendorError(statusCode int, message string, retryable bool) VendorError {
	return VendorError{
		StatusCode: statusCode,
		Message:    message,
		Retryable:  retryable,
	}
}
