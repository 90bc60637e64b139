package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
)

const scheduleLayout = "Monday, January 2, 2006 at 15:04 MST"

// TextSender sends a plain WhatsApp text message
type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// WhatsAppNotifier delivers patient-directed booking events as WhatsApp
// text messages. Calls go through a circuit breaker that opens after
// repeated upstream failures.
type WhatsAppNotifier struct {
	sender  TextSender
	breaker *gobreaker.CircuitBreaker
}

var _ providers.NotificationSender = (*WhatsAppNotifier)(nil)

// NewWhatsAppNotifier wraps sender in a circuit breaker
func NewWhatsAppNotifier(sender TextSender) *WhatsAppNotifier {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "whatsapp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a rejected message says nothing about upstream health
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.GetLogger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &WhatsAppNotifier{sender: sender, breaker: breaker}
}

// Channel implements providers.NotificationSender
func (n *WhatsAppNotifier) Channel() entities.NotificationChannel {
	return entities.ChannelWhatsApp
}

// Send implements providers.NotificationSender. Events without a patient
// phone number return providers.ErrNoRecipient.
func (n *WhatsAppNotifier) Send(ctx context.Context, event *entities.BookingEvent) (string, string, error) {
	if event.Recipient != entities.ActorPatient || event.RecipientPhone == "" {
		return "", "", providers.ErrNoRecipient
	}

	to := event.RecipientPhone
	body := RenderMessage(event)
	result, err := n.breaker.Execute(func() (interface{}, error) {
		return n.sender.SendText(ctx, to, body)
	})
	if err != nil {
		return "", to, err
	}
	return result.(string), to, nil
}

// RenderMessage builds the text body for event
func RenderMessage(event *entities.BookingEvent) string {
	when := event.ScheduledTime.UTC().Format(scheduleLayout)

	switch event.Kind {
	case entities.BookingEventRequested:
		return fmt.Sprintf("Your appointment request for %s has been received.", when)
	case entities.BookingEventConfirmed:
		return fmt.Sprintf("Your appointment on %s is confirmed.", when)
	case entities.BookingEventStatusChanged:
		return fmt.Sprintf("Your appointment on %s is now %s.", when, event.Status)
	case entities.BookingEventRescheduled:
		msg := fmt.Sprintf("Your appointment has been moved to %s.", when)
		if event.Status == entities.AppointmentStatusPending {
			msg += " It will be confirmed shortly."
		}
		return msg
	case entities.BookingEventRescheduleProposed:
		if proposed, ok := event.Payload["proposed_time"].(time.Time); ok {
			return fmt.Sprintf("A new time of %s has been proposed for your appointment on %s. Open the app to accept or decline.",
				proposed.UTC().Format(scheduleLayout), when)
		}
		return fmt.Sprintf("A new time has been proposed for your appointment on %s.", when)
	case entities.BookingEventRescheduleDecided:
		decision, _ := event.Payload["decision"].(string)
		if decision == string(entities.RescheduleDecisionApproved) {
			return fmt.Sprintf("Your reschedule request was approved. Your appointment is now on %s.", when)
		}
		return fmt.Sprintf("Your reschedule request was declined. Your appointment remains on %s.", when)
	}
	return fmt.Sprintf("There is an update to your appointment on %s.", when)
}
