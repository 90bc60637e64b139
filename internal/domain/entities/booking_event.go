package entities

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventKind represents a lifecycle event emitted by the engines
type BookingEventKind string

const (
	BookingEventRequested          BookingEventKind = "requested"
	BookingEventConfirmed          BookingEventKind = "confirmed"
	BookingEventStatusChanged      BookingEventKind = "status-changed"
	BookingEventRescheduled        BookingEventKind = "rescheduled"
	BookingEventRescheduleProposed BookingEventKind = "reschedule-proposed"
	BookingEventRescheduleDecided  BookingEventKind = "reschedule-decided"
)

// BookingEvent is the payload handed to the notification port
type BookingEvent struct {
	ID             string                 `json:"id"`
	Kind           BookingEventKind       `json:"kind"`
	AppointmentID  string                 `json:"appointment_id"`
	ProviderID     string                 `json:"provider_id"`
	PatientID      string                 `json:"patient_id"`
	Recipient      ActorRole              `json:"recipient"`
	RecipientPhone string                 `json:"-"`
	ScheduledTime  time.Time              `json:"scheduled_time"`
	Status         AppointmentStatus      `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// NewBookingEvent creates an event about appointment addressed to recipient
func NewBookingEvent(kind BookingEventKind, appointment *Appointment, recipient ActorRole, payload map[string]interface{}, now time.Time) *BookingEvent {
	event := &BookingEvent{
		ID:            uuid.New().String(),
		Kind:          kind,
		AppointmentID: appointment.ID,
		ProviderID:    appointment.ProviderID,
		PatientID:     appointment.PatientID,
		Recipient:     recipient,
		ScheduledTime: appointment.ScheduledTime,
		Status:        appointment.Status,
		Timestamp:     now,
		Payload:       payload,
	}
	if recipient == ActorPatient {
		event.RecipientPhone = appointment.ContactPhone
	}
	return event
}
