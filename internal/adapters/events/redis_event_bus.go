package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	redisclient "github.com/zatekoja/carebook/internal/infrastructure/clients/redis"
)

const subscriberBuffer = 100

// RedisEventBus implements the EventBus interface using Redis Pub/Sub
type RedisEventBus struct {
	client        *redisclient.Client
	subscriptions map[string]*redis.PubSub
	subscribers   map[string]map[chan *entities.BookingEvent]struct{}
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) *RedisEventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		subscribers:   make(map[string]map[chan *entities.BookingEvent]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

var _ providers.EventBus = (*RedisEventBus)(nil)

// Publish publishes an event to all subscribers
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Client().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("channel", channel).Str("event_id", event.ID).Str("kind", string(event.Kind)).Msg("published booking event")
	return nil
}

// Subscribe subscribes to events on a channel. The returned channel is
// closed when ctx ends or the bus is closed. The Redis round-trip for a new
// channel runs outside b.mu.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error) {
	b.mu.Lock()
	if _, exists := b.subscriptions[channel]; exists {
		eventChan := b.addSubscriber(channel)
		b.mu.Unlock()
		b.watchSubscriber(ctx, channel, eventChan)
		return eventChan, nil
	}
	b.mu.Unlock()

	pubsub := b.client.Client().Subscribe(b.ctx, channel)
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		_ = pubsub.Close()
		return nil, errors.New("event bus is closed")
	}
	duplicate := false
	if _, exists := b.subscriptions[channel]; exists {
		// another caller subscribed the channel while we were waiting
		duplicate = true
	} else {
		b.subscriptions[channel] = pubsub
		go b.receiveMessages(channel, pubsub)
	}
	eventChan := b.addSubscriber(channel)
	b.mu.Unlock()

	if duplicate {
		_ = pubsub.Close()
	}
	b.watchSubscriber(ctx, channel, eventChan)
	return eventChan, nil
}

// addSubscriber registers a local subscriber. Callers hold b.mu.
func (b *RedisEventBus) addSubscriber(channel string) chan *entities.BookingEvent {
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.BookingEvent]struct{})
	}
	eventChan := make(chan *entities.BookingEvent, subscriberBuffer)
	b.subscribers[channel][eventChan] = struct{}{}

	log.Debug().Str("channel", channel).Int("subscribers", len(b.subscribers[channel])).Msg("subscribed to channel")
	return eventChan
}

func (b *RedisEventBus) watchSubscriber(ctx context.Context, channel string, eventChan chan *entities.BookingEvent) {
	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(channel, eventChan)
	}()
}

// receiveMessages receives messages from Redis and broadcasts them to subscribers
func (b *RedisEventBus) receiveMessages(channel string, pubsub *redis.PubSub) {
	defer func() {
		if err := b.cleanupChannel(channel, pubsub); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("failed to cleanup channel")
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event entities.BookingEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("failed to unmarshal booking event")
				continue
			}

			b.mu.RLock()
			for subscriber := range b.subscribers[channel] {
				select {
				case subscriber <- &event:
				default:
					log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, skipping event")
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *RedisEventBus) removeSubscriber(channel string, eventChan chan *entities.BookingEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[channel]
	if !exists {
		return
	}

	if _, ok := subscribers[eventChan]; !ok {
		return
	}

	delete(subscribers, eventChan)
	close(eventChan)

	if len(subscribers) == 0 {
		delete(b.subscribers, channel)
		if pubsub, ok := b.subscriptions[channel]; ok {
			_ = pubsub.Close()
			delete(b.subscriptions, channel)
			log.Debug().Str("channel", channel).Msg("closed subscription")
		}
	}
}

// cleanupChannel drops the channel's subscribers if pubsub is still the
// active subscription. A nil pubsub matches whatever is active.
func (b *RedisEventBus) cleanupChannel(channel string, pubsub *redis.PubSub) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.subscriptions[channel]
	if pubsub != nil && (!ok || current != pubsub) {
		return nil
	}

	if subscribers, exists := b.subscribers[channel]; exists {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}

	if ok {
		delete(b.subscriptions, channel)
		if err := current.Close(); err != nil {
			return fmt.Errorf("failed to close subscription %s: %w", channel, err)
		}
		log.Debug().Str("channel", channel).Msg("closed subscription")
	}

	return nil
}

// Unsubscribe unsubscribes every local subscriber from a channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	if err := b.cleanupChannel(channel, nil); err != nil {
		return err
	}
	log.Debug().Str("channel", channel).Msg("unsubscribed from channel")
	return nil
}

// Close closes the event bus and all subscriptions
func (b *RedisEventBus) Close() error {
	b.cancel()

	b.mu.RLock()
	channels := make([]string, 0, len(b.subscriptions))
	for channel := range b.subscriptions {
		channels = append(channels, channel)
	}
	b.mu.RUnlock()

	var errs []error
	for _, channel := range channels {
		if err := b.cleanupChannel(channel, nil); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing event bus: %w", err)
	}

	log.Info().Msg("event bus closed")
	return nil
}
