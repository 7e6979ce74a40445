package domain

import (
	"regexp"

	"github.com/google/uuid"
)

var uuidV4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// NotificationID identifies a Notification aggregate
type NotificationID string

// BatchID identifies a NotificationBatch aggregate
type BatchID string

// UserID identifies a notification recipient
type UserID string

func NewNotificationID() NotificationID { return NotificationID(uuid.NewString()) }

func NewBatchID() BatchID { return BatchID(uuid.NewString()) }

func NewUserID() UserID { return UserID(uuid.NewString()) }

// ParseNotificationID validates an externally supplied notification id
func ParseNotificationID(s string) (NotificationID, error) {
	if err := validateID("notification_id", s); err != nil {
		return "", err
	}
	return NotificationID(s), nil
}

// ParseBatchID validates an externally supplied batch id
func ParseBatchID(s string) (BatchID, error) {
	if err := validateID("batch_id", s); err != nil {
		return "", err
	}
	return BatchID(s), nil
}

// ParseUserID validates an externally supplied user id
func ParseUserID(s string) (UserID, error) {
	if err := validateID("recipient_id", s); err != nil {
		return "", err
	}
	return UserID(s), nil
}

func validateID(field, s string) error {
	if !uuidV4Pattern.MatchString(s) {
		return NewValidationError(field, "must be a valid UUID")
	}
	return nil
}

func (id NotificationID) String() string { return string(id) }
func (id BatchID) String() string        { return string(id) }
func (id UserID) String() string         { return string(id) }
