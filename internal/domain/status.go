package domain

// NotificationStatus is the delivery state of a notification
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "PENDING"
	StatusSent      NotificationStatus = "SENT"
	StatusDelivered NotificationStatus = "DELIVERED"
	StatusFailed    NotificationStatus = "FAILED"
)

var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending: {StatusSent, StatusFailed},
	StatusSent:    {StatusDelivered, StatusFailed},
}

func (s NotificationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanTransitionTo reports whether the transition is in the status table
func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	for _, allowed := range notificationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BatchStatus is the processing state of a batch
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPending:    {BatchStatusProcessing},
	BatchStatusProcessing: {BatchStatusCompleted, BatchStatusFailed},
}

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
