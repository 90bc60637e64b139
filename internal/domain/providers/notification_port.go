package providers

import (
	"context"
	"errors"

	"github.com/zatekoja/carebook/internal/domain/entities"
)

// NotificationPort receives booking lifecycle events. Notify must not block
// on delivery and has no failure result: delivery problems are the
// implementation's to log.
type NotificationPort interface {
	Notify(ctx context.Context, event *entities.BookingEvent)
}

// NotificationSender delivers one event over one channel
type NotificationSender interface {
	Channel() entities.NotificationChannel

	// Send returns the channel's message id and the recipient address used
	Send(ctx context.Context, event *entities.BookingEvent) (messageID string, recipient string, err error)
}

// ErrNoRecipient is returned by a sender that has no address for an event.
// It is recorded as a skipped delivery rather than a failure.
var ErrNoRecipient = errors.New("no recipient address for event")

// NopNotifier discards every event
type NopNotifier struct{}

// Notify implements NotificationPort
func (NopNotifier) Notify(context.Context, *entities.BookingEvent) {}
