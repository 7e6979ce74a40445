package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength = 255
	MaxBodyLength  = 5000
)

// NotificationContent is the immutable payload of a notification
type NotificationContent struct {
	title    string
	body     string
	metadata map[string]any
}

// NewNotificationContent trims and validates the title and body.
// A blank title is normalized to the empty string; some channels render no title.
func NewNotificationContent(title, body string, metadata map[string]any) (NotificationContent, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)

	if utf8.RuneCountInString(title) > MaxTitleLength {
		return NotificationContent{}, NewValidationError("title",
			fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	if body == "" {
		return NotificationContent{}, NewValidationError("body", "body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return NotificationContent{}, NewValidationError("body",
			fmt.Sprintf("body must be at most %d characters", MaxBodyLength))
	}

	return NotificationContent{
		title:    title,
		body:     body,
		metadata: maps.Clone(metadata),
	}, nil
}

func (c NotificationContent) Title() string { return c.title }
func (c NotificationContent) Body() string  { return c.body }

// Metadata returns a copy of the metadata map
func (c NotificationContent) Metadata() map[string]any {
	return maps.Clone(c.metadata)
}

// Equal compares title, body and the serialized metadata
func (c NotificationContent) Equal(other NotificationContent) bool {
	if c.title != other.title || c.body != other.body {
		return false
	}
	a, errA := json.Marshal(c.metadata)
	b, errB := json.Marshal(other.metadata)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
