package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ContactInfo is the channel-specific address of a recipient.
// Implementations are limited to this package.
type ContactInfo interface {
	// Channel returns the channel this address belongs to
	Channel() Channel
	// Format returns the address in the form expected by the channel vendor
	Format() string
	// Validate re-checks the structural shape of the address
	Validate() error

	contactInfo()
}

const (
	minPhoneDigits = 10
	maxPhoneDigits = 13
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// PhoneContact addresses a WhatsApp recipient.
// The number is stored as country+area+subscriber digits.
type PhoneContact struct {
	digits string
}

// NewPhoneContact normalizes and validates a phone number
func NewPhoneContact(raw string) (PhoneContact, error) {
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	digits = strings.TrimPrefix(digits, "00")
	p := PhoneContact{digits: digits}
	if err := p.Validate(); err != nil {
		return PhoneContact{}, err
	}
	return p, nil
}

func (p PhoneContact) Channel() Channel { return ChannelWhatsApp }
func (p PhoneContact) Format() string   { return p.digits }

func (p PhoneContact) Validate() error {
	if n := len(p.digits); n < minPhoneDigits || n > maxPhoneDigits {
		return NewValidationError("contact_info",
			fmt.Sprintf("phone number must have between %d and %d digits", minPhoneDigits, maxPhoneDigits))
	}
	return nil
}

func (PhoneContact) contactInfo() {}

// EmailContact addresses an email recipient
type EmailContact struct {
	address string
}

// NewEmailContact normalizes and validates an email address
func NewEmailContact(raw string) (EmailContact, error) {
	e := EmailContact{address: strings.ToLower(strings.TrimSpace(raw))}
	if err := e.Validate(); err != nil {
		return EmailContact{}, err
	}
	return e, nil
}

func (e EmailContact) Channel() Channel { return ChannelEmail }
func (e EmailContact) Format() string   { return e.address }

func (e EmailContact) Validate() error {
	if len(e.address) > 254 || !emailPattern.MatchString(e.address) {
		return NewValidationError("contact_info", "invalid email address")
	}
	return nil
}

func (EmailContact) contactInfo() {}

// SystemContact addresses an in-app inbox, identified by the user id
type SystemContact struct {
	userID UserID
}

func NewSystemContact(raw string) (SystemContact, error) {
	id, err := ParseUserID(strings.TrimSpace(raw))
	if err != nil {
		return SystemContact{}, NewValidationError("contact_info", "system contact must be a user id")
	}
	return SystemContact{userID: id}, nil
}

func (s SystemContact) Channel() Channel { return ChannelSystem }
func (s SystemContact) Format() string   { return s.userID.String() }

func (s SystemContact) Validate() error {
	return validateID("contact_info", string(s.userID))
}

func (SystemContact) contactInfo() {}

// ParseContactInfo builds the ContactInfo variant matching the channel
func ParseContactInfo(channel Channel, raw string) (ContactInfo, error) {
	var (
		info ContactInfo
		err  error
	)
	switch channel {
	case ChannelWhatsApp:
		info, err = NewPhoneContact(raw)
	case ChannelEmail:
		info, err = NewEmailContact(raw)
	case ChannelSystem:
		info, err = NewSystemContact(raw)
	default:
		return nil, NewValidationError("channel", "unsupported channel: "+string(channel))
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}
