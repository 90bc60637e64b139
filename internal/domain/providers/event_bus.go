package providers

import (
	"context"

	"github.com/zatekoja/carebook/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.BookingEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for different event types
const (
	// EventChannelBookingUpdates carries every booking event
	EventChannelBookingUpdates = "booking:updates"

	// EventChannelAppointmentPrefix is the prefix for appointment-specific channels
	EventChannelAppointmentPrefix = "appointment:"

	// EventChannelProviderPrefix is the prefix for provider-specific channels
	EventChannelProviderPrefix = "provider:"
)

// GetAppointmentChannel returns the channel name for a specific appointment
func GetAppointmentChannel(appointmentID string) string {
	return EventChannelAppointmentPrefix + appointmentID
}

// GetProviderChannel returns the channel name for a specific provider
func GetProviderChannel(providerID string) string {
	return EventChannelProviderPrefix + providerID
}
