package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
)

// EventBus is an in-process providers.EventBus for single-node runs
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.BookingEvent]struct{}
	closed      bool
}

// NewEventBus creates an empty in-process bus
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]map[chan *entities.BookingEvent]struct{})}
}

var _ providers.EventBus = (*EventBus)(nil)

// Publish delivers event to every current subscriber of channel. Full
// subscriber buffers drop the event.
func (b *EventBus) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subscriber := range b.subscribers[channel] {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, skipping event")
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx ends or the bus closes
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error) {
	eventChan := make(chan *entities.BookingEvent, 100)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(eventChan)
		return eventChan, nil
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.BookingEvent]struct{})
	}
	b.subscribers[channel][eventChan] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, eventChan)
	}()
	return eventChan, nil
}

func (b *EventBus) remove(channel string, eventChan chan *entities.BookingEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[channel][eventChan]; !ok {
		return
	}
	delete(b.subscribers[channel], eventChan)
	close(eventChan)
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
}

// Unsubscribe closes every subscriber of channel
func (b *EventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subscriber := range b.subscribers[channel] {
		close(subscriber)
	}
	delete(b.subscribers, channel)
	return nil
}

// Close closes every subscription
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, subscribers := range b.subscribers {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}
	b.closed = true
	return nil
}
