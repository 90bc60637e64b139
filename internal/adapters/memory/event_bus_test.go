package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
)

func TestEventBus_PublishAndCancel(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "appointment:appt-1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "appointment:appt-1", &entities.BookingEvent{ID: "evt-1"}))
	require.NoError(t, bus.Publish(context.Background(), "appointment:other", &entities.BookingEvent{ID: "evt-2"}))

	event := <-ch
	assert.Equal(t, "evt-1", event.ID)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestEventBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewEventBus()
	ch, err := bus.Subscribe(context.Background(), "booking:updates")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)

	late, err := bus.Subscribe(context.Background(), "booking:updates")
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}
