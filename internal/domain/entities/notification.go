package entities

import "time"

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelEventBus NotificationChannel = "event_bus"
)

// NotificationStatus represents the delivery status
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusSkipped NotificationStatus = "skipped"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// AppointmentNotification tracks one delivery attempt of a booking event
// over one channel
type AppointmentNotification struct {
	ID            string              `json:"id" db:"id"`
	EventID       string              `json:"event_id" db:"event_id"`
	AppointmentID string              `json:"appointment_id" db:"appointment_id"`
	EventKind     BookingEventKind    `json:"event_kind" db:"event_kind"`
	Channel       NotificationChannel `json:"channel" db:"channel"`
	Recipient     string              `json:"recipient" db:"recipient"`
	Status        NotificationStatus  `json:"status" db:"status"`
	MessageID     *string             `json:"message_id,omitempty" db:"message_id"`
	SentAt        *time.Time          `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt      *time.Time          `json:"failed_at,omitempty" db:"failed_at"`
	ErrorMessage  *string             `json:"error_message,omitempty" db:"error_message"`
	RetryCount    int                 `json:"retry_count" db:"retry_count"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// MarkSent records a successful delivery
func (n *AppointmentNotification) MarkSent(messageID string, attempts int, now time.Time) {
	n.Status = NotificationStatusSent
	if messageID != "" {
		n.MessageID = &messageID
	}
	n.SentAt = &now
	n.RetryCount = attempts - 1
	n.UpdatedAt = now
}

// MarkFailed records a failed delivery
func (n *AppointmentNotification) MarkFailed(err error, attempts int, now time.Time) {
	n.Status = NotificationStatusFailed
	msg := err.Error()
	n.ErrorMessage = &msg
	n.FailedAt = &now
	n.RetryCount = attempts - 1
	n.UpdatedAt = now
}
