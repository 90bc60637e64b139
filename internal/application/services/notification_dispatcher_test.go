package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
	"github.com/zatekoja/carebook/pkg/retry"
)

type stubSender struct {
	channel entities.NotificationChannel
	calls   atomic.Int32
	send    func(call int32, event *entities.BookingEvent) (string, string, error)
}

func (s *stubSender) Channel() entities.NotificationChannel { return s.channel }

func (s *stubSender) Send(_ context.Context, event *entities.BookingEvent) (string, string, error) {
	call := s.calls.Add(1)
	return s.send(call, event)
}

func testEvent() *entities.BookingEvent {
	slot, _ := entities.NewSlot("slot-1", "prov-1", testNow.Add(time.Hour), 30, 45, entities.ConsultationModeInPerson, testNow)
	appt := entities.NewAppointment("appt-1", slot, "pat-1", entities.BookingDetails{ContactPhone: "+2348000000000"}, testNow)
	return entities.NewBookingEvent(entities.BookingEventConfirmed, appt, entities.ActorPatient, nil, testNow)
}

func newTestDispatcher(logRepo *MockNotificationLogRepository, senders ...providers.NotificationSender) *services.NotificationDispatcher {
	d := services.NewNotificationDispatcher(config.NotificationConfig{
		Workers:       2,
		QueueSize:     8,
		Timeout:       time.Second,
		RetryAttempts: 3,
	}, clock.NewMock(testNow), logRepo, nil, senders...)
	return d.WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1})
}

func isStatus(status entities.NotificationStatus) interface{} {
	return mock.MatchedBy(func(n *entities.AppointmentNotification) bool { return n.Status == status })
}

func TestNotificationDispatcher_DeliversToEverySender(t *testing.T) {
	logRepo := new(MockNotificationLogRepository)
	logRepo.On("Create", mock.Anything, isStatus(entities.NotificationStatusPending)).Return(nil).Twice()
	logRepo.On("Update", mock.Anything, mock.MatchedBy(func(n *entities.AppointmentNotification) bool {
		return n.Status == entities.NotificationStatusSent && n.MessageID != nil && n.RetryCount == 0
	})).Return(nil).Twice()

	ok := func(_ int32, e *entities.BookingEvent) (string, string, error) { return "msg-" + e.ID, e.RecipientPhone, nil }
	whatsapp := &stubSender{channel: entities.ChannelWhatsApp, send: ok}
	bus := &stubSender{channel: entities.ChannelEventBus, send: ok}

	d := newTestDispatcher(logRepo, whatsapp, bus)
	d.Start()
	d.Notify(context.Background(), testEvent())
	require.NoError(t, d.Stop(context.Background()))

	assert.EqualValues(t, 1, whatsapp.calls.Load())
	assert.EqualValues(t, 1, bus.calls.Load())
	logRepo.AssertExpectations(t)
}

func TestNotificationDispatcher_RetriesThenRecordsFailure(t *testing.T) {
	logRepo := new(MockNotificationLogRepository)
	logRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	logRepo.On("Update", mock.Anything, mock.MatchedBy(func(n *entities.AppointmentNotification) bool {
		return n.Status == entities.NotificationStatusFailed && n.RetryCount == 2 && n.ErrorMessage != nil
	})).Return(nil).Once()

	flaky := &stubSender{channel: entities.ChannelWhatsApp, send: func(int32, *entities.BookingEvent) (string, string, error) {
		return "", "+2348000000000", errors.New("503 from upstream")
	}}

	d := newTestDispatcher(logRepo, flaky)
	d.Start()
	d.Notify(context.Background(), testEvent())
	require.NoError(t, d.Stop(context.Background()))

	assert.EqualValues(t, 3, flaky.calls.Load())
	logRepo.AssertExpectations(t)
}

func TestNotificationDispatcher_RecoversOnRetry(t *testing.T) {
	logRepo := new(MockNotificationLogRepository)
	logRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	logRepo.On("Update", mock.Anything, mock.MatchedBy(func(n *entities.AppointmentNotification) bool {
		return n.Status == entities.NotificationStatusSent && n.RetryCount == 1
	})).Return(nil).Once()

	sender := &stubSender{channel: entities.ChannelWhatsApp, send: func(call int32, _ *entities.BookingEvent) (string, string, error) {
		if call == 1 {
			return "", "", errors.New("timeout")
		}
		return "wamid.1", "+2348000000000", nil
	}}

	d := newTestDispatcher(logRepo, sender)
	d.Start()
	d.Notify(context.Background(), testEvent())
	require.NoError(t, d.Stop(context.Background()))
	logRepo.AssertExpectations(t)
}

func TestNotificationDispatcher_NoRecipientIsSkipped(t *testing.T) {
	logRepo := new(MockNotificationLogRepository)
	logRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	logRepo.On("Update", mock.Anything, isStatus(entities.NotificationStatusSkipped)).Return(nil).Once()

	sender := &stubSender{channel: entities.ChannelWhatsApp, send: func(int32, *entities.BookingEvent) (string, string, error) {
		return "", "", providers.ErrNoRecipient
	}}

	d := newTestDispatcher(logRepo, sender)
	d.Start()
	d.Notify(context.Background(), testEvent())
	require.NoError(t, d.Stop(context.Background()))

	assert.EqualValues(t, 1, sender.calls.Load(), "no retry without a recipient")
	logRepo.AssertExpectations(t)
}

func TestNotificationDispatcher_DropsWhenQueueFull(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	sender := &stubSender{channel: entities.ChannelEventBus, send: func(_ int32, e *entities.BookingEvent) (string, string, error) {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
		return e.ID, "", nil
	}}

	d := services.NewNotificationDispatcher(config.NotificationConfig{Workers: 1, QueueSize: 1}, clock.NewMock(testNow), nil, nil, sender)
	first, second := testEvent(), testEvent()
	d.Notify(context.Background(), first)
	d.Notify(context.Background(), second)

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []string{first.ID}, seen)

	// after Stop events are dropped without panicking
	d.Notify(context.Background(), testEvent())
	assert.Len(t, seen, 1)
}

func TestNotificationDispatcher_DetachesFromRequestContext(t *testing.T) {
	delivered := make(chan struct{}, 1)
	sender := &stubSender{channel: entities.ChannelEventBus, send: func(int32, *entities.BookingEvent) (string, string, error) {
		delivered <- struct{}{}
		return "", "", nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	d := services.NewNotificationDispatcher(config.NotificationConfig{Workers: 1, QueueSize: 4}, clock.NewMock(testNow), nil, nil, sender)
	d.Notify(ctx, testEvent())
	cancel()

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	select {
	case <-delivered:
	default:
		t.Fatal("event was not delivered after the request context ended")
	}
}
