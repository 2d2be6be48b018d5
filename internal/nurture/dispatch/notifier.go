// internal/nurture/dispatch/notifier.go
package dispatch

import (
	"context"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

// Message is one rendered follow-up ready for transport.
type Message struct {
	LeadID  string
	To      string
	Subject string
	Body    string
	Channel models.Channel
}

// DeliveryResult reports a successful send.
type DeliveryResult struct {
	ProviderMessageID string
	Channel           models.Channel
}

// Notifier sends one message over a single channel.
type Notifier interface {
	Send(ctx context.Context, msg *Message) (*DeliveryResult, error)
	Channel() models.Channel
}

// Factory holds the configured notifiers keyed by channel.
type Factory struct {
	notifiers map[models.Channel]Notifier
}

func NewFactory(notifiers ...Notifier) *Factory {
	byChannel := make(map[models.Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		byChannel[n.Channel()] = n
	}
	return &Factory{notifiers: byChannel}
}

// ForChannel returns the notifier for the channel, or a configuration error
// when the channel was never wired.
func (f *Factory) ForChannel(c models.Channel) (Notifier, error) {
	notifier, ok := f.notifiers[c]
	if !ok {
		return nil, errors.NewChannelNotConfiguredError(string(c))
	}
	return notifier, nil
}

// Channels lists the configured channels.
func (f *Factory) Channels() []models.Channel {
	channels := make([]models.Channel, 0, len(f.notifiers))
	for c := range f.notifiers {
		channels = append(channels, c)
	}
	return channels
}
