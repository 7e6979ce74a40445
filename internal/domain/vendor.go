package domain

import (
	"context"
	"time"
)

// Receipt is the vendor acknowledgement of a send
type Receipt struct {
	MessageID string
	// Delivered is true when the vendor confirms delivery synchronously
	Delivered bool
	Timestamp time.Time
}

// Vendor is the transport of one channel
type Vendor interface {
	Send(ctx context.Context, n *Notification) (*Receipt, error)
}

// VendorOutcome is the per-item result of a vendor batch call
type VendorOutcome struct {
	Receipt *Receipt
	Err     error
}

// BatchVendor is implemented by vendors with a native bulk API.
// Outcomes are returned in the order of the input.
type BatchVendor interface {
	Vendor
	SendBatch(ctx context.Context, ns []*Notification) ([]VendorOutcome, error)
}
