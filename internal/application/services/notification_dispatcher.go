package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
	"github.com/zatekoja/carebook/pkg/retry"
)

// NotificationDispatcher implements providers.NotificationPort. Events are
// queued and delivered by a fixed worker pool to every configured sender;
// a full queue drops the event with a warning.
type NotificationDispatcher struct {
	cfg     config.NotificationConfig
	clock   clock.Clock
	log     repositories.NotificationLogRepository
	metrics *observability.Metrics
	senders []providers.NotificationSender
	retry   retry.Config

	queue   chan queuedEvent
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type queuedEvent struct {
	ctx   context.Context
	event *entities.BookingEvent
}

var _ providers.NotificationPort = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher creates a dispatcher. deliveryLog may be nil.
func NewNotificationDispatcher(
	cfg config.NotificationConfig,
	clk clock.Clock,
	deliveryLog repositories.NotificationLogRepository,
	metrics *observability.Metrics,
	senders ...providers.NotificationSender,
) *NotificationDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	policy := retry.DeliveryConfig(cfg.RetryAttempts)
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, providers.ErrNoRecipient)
	}

	return &NotificationDispatcher{
		cfg:     cfg,
		clock:   clk,
		log:     deliveryLog,
		metrics: metrics,
		senders: senders,
		retry:   policy,
		queue:   make(chan queuedEvent, cfg.QueueSize),
	}
}

// WithRetry overrides the per-sender retry policy
func (d *NotificationDispatcher) WithRetry(cfg retry.Config) *NotificationDispatcher {
	if cfg.Retryable == nil {
		cfg.Retryable = d.retry.Retryable
	}
	d.retry = cfg
	return d
}

// Start launches the worker pool
func (d *NotificationDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	observability.GetLogger().Info().
		Int("workers", d.cfg.Workers).
		Int("senders", len(d.senders)).
		Msg("notification dispatcher started")
}

// Stop closes the queue and waits for queued events to drain, or for ctx
func (d *NotificationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		observability.GetLogger().Info().Msg("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify enqueues event without blocking
func (d *NotificationDispatcher) Notify(ctx context.Context, event *entities.BookingEvent) {
	if event == nil {
		return
	}
	logger := observability.ComponentLogger(ctx, "notifications")

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		logger.Warn().Str("event_id", event.ID).Str("event_kind", string(event.Kind)).Msg("dispatcher stopped, dropping event")
		return
	}

	select {
	case d.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		logger.Warn().
			Str("event_id", event.ID).
			Str("event_kind", string(event.Kind)).
			Str("appointment_id", event.AppointmentID).
			Msg("notification queue full, dropping event")
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		d.dispatch(item.ctx, item.event)
	}
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, event *entities.BookingEvent) {
	for _, sender := range d.senders {
		d.deliver(ctx, sender, event)
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, sender providers.NotificationSender, event *entities.BookingEvent) {
	logger := observability.ComponentLogger(ctx, "notifications")
	channel := sender.Channel()
	now := d.clock.Now()

	record := &entities.AppointmentNotification{
		ID:            uuid.New().String(),
		EventID:       event.ID,
		AppointmentID: event.AppointmentID,
		EventKind:     event.Kind,
		Channel:       channel,
		Recipient:     string(event.Recipient),
		Status:        entities.NotificationStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if d.log != nil {
		if err := d.log.Create(ctx, record); err != nil {
			logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to record notification")
		}
	}

	attempts := 0
	var messageID string
	err := retry.Do(ctx, d.retry, func() error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		id, recipient, sendErr := sender.Send(sendCtx, event)
		if recipient != "" {
			record.Recipient = recipient
		}
		messageID = id
		return sendErr
	})

	now = d.clock.Now()
	switch {
	case err == nil:
		record.MarkSent(messageID, attempts, now)
	case errors.Is(err, providers.ErrNoRecipient):
		record.Status = entities.NotificationStatusSkipped
		record.RetryCount = attempts - 1
		record.UpdatedAt = now
	default:
		record.MarkFailed(err, attempts, now)
		logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_kind", string(event.Kind)).
			Str("channel", string(channel)).
			Int("attempts", attempts).
			Msg("notification delivery failed")
	}

	observability.RecordNotificationDelivery(ctx, d.metrics, string(channel), string(record.Status))

	if d.log != nil {
		if err := d.log.Update(ctx, record); err != nil {
			logger.Error().Err(err).Str("notification_id", record.ID).Msg("failed to update notification record")
		}
	}
}
