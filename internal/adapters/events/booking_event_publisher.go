package events

import (
	"context"
	"fmt"

	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
)

// BookingEventPublisher fans a booking event out to the bus channels that
// live views subscribe to
type BookingEventPublisher struct {
	bus providers.EventBus
}

// NewBookingEventPublisher creates a publisher over bus
func NewBookingEventPublisher(bus providers.EventBus) *BookingEventPublisher {
	return &BookingEventPublisher{bus: bus}
}

var _ providers.NotificationSender = (*BookingEventPublisher)(nil)

// Channel implements NotificationSender
func (p *BookingEventPublisher) Channel() entities.NotificationChannel {
	return entities.ChannelEventBus
}

// Send publishes event on the global, appointment and provider channels
func (p *BookingEventPublisher) Send(ctx context.Context, event *entities.BookingEvent) (string, string, error) {
	channels := []string{
		providers.EventChannelBookingUpdates,
		providers.GetAppointmentChannel(event.AppointmentID),
		providers.GetProviderChannel(event.ProviderID),
	}
	for _, channel := range channels {
		if err := p.bus.Publish(ctx, channel, event); err != nil {
			return "", channel, fmt.Errorf("publish to %s: %w", channel, err)
		}
	}
	return event.ID, providers.EventChannelBookingUpdates, nil
}
