package domain

// Channel represents the notification delivery channel
type Channel string

const (
	ChannelSystem   Channel = "system"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Channels lists every supported channel in a stable order.
// ParseContactInfo and DefaultCapabilities must handle each of them.
func Channels() []Channel {
	return []Channel{ChannelSystem, ChannelWhatsApp, ChannelEmail}
}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSystem, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// ParseChannel converts raw input into a Channel
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", NewValidationError("channel", "unsupported channel: "+s)
	}
	return c, nil
}

// Capabilities describes how a channel may be dispatched
type Capabilities struct {
	SupportsBatchDelivery bool
	RequiresRateLimiting  bool
}

// DefaultCapabilities returns the built-in capability flags of a channel.
// Deployments may override them through configuration.
func DefaultCapabilities(c Channel) Capabilities {
	switch c {
	case ChannelWhatsApp:
		return Capabilities{SupportsBatchDelivery: true, RequiresRateLimiting: true}
	case ChannelEmail:
		return Capabilities{SupportsBatchDelivery: true, RequiresRateLimiting: true}
	case ChannelSystem:
		return Capabilities{}
	}
	return Capabilities{}
}
