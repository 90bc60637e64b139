package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// BookingRequest is a patient's request for one specific slot
type BookingRequest struct {
	ProviderID string                  `json:"provider_id"`
	PatientID  string                  `json:"patient_id"`
	SlotID     string                  `json:"slot_id"`
	Details    entities.BookingDetails `json:"details"`
}

// BookingService books slots and drives the appointment lifecycle
type BookingService struct {
	slots        repositories.SlotRepository
	appointments repositories.AppointmentRepository
	notifier     providers.NotificationPort
	clock        clock.Clock
	metrics      *observability.Metrics
}

// NewBookingService creates a new booking service
func NewBookingService(
	slots repositories.SlotRepository,
	appointments repositories.AppointmentRepository,
	notifier providers.NotificationPort,
	clk clock.Clock,
	metrics *observability.Metrics,
) *BookingService {
	if notifier == nil {
		notifier = providers.NopNotifier{}
	}
	return &BookingService{
		slots:        slots,
		appointments: appointments,
		notifier:     notifier,
		clock:        clk,
		metrics:      metrics,
	}
}

// Book claims the requested slot and creates a pending appointment on it.
// A lost claim returns SlotUnavailable; another slot is never chosen.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*entities.Appointment, error) {
	if strings.TrimSpace(req.ProviderID) == "" {
		return nil, apperrors.NewValidationError("provider id is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, apperrors.NewValidationError("patient id is required")
	}
	if strings.TrimSpace(req.SlotID) == "" {
		return nil, apperrors.NewValidationError("slot id is required")
	}

	ctx, span := observability.StartSpan(ctx, "BookingService.Book")
	defer span.End()
	logger := observability.ComponentLogger(ctx, "booking")

	// 1. Load the slot and make sure it belongs to the provider
	slot, err := s.slots.GetByID(ctx, req.SlotID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if slot.ProviderID != req.ProviderID {
		return nil, apperrors.NewValidationError(fmt.Sprintf("slot %s does not belong to provider %s", slot.ID, req.ProviderID))
	}

	// 2. Claim it under the appointment id so the slot carries its holder
	appointmentID := uuid.New().String()
	now := s.clock.Now()
	claimed, err := s.slots.Claim(ctx, slot.ID, repositories.SlotClaim{
		PatientID:     req.PatientID,
		AppointmentID: appointmentID,
		Now:           now,
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable) {
			observability.RecordClaimConflict(ctx, s.metrics, "book")
			observability.RecordBookingAttempt(ctx, s.metrics, "slot_unavailable")
		}
		observability.RecordError(span, err)
		return nil, err
	}

	// 3. Create the appointment, handing the slot back if that fails
	appointment := entities.NewAppointment(appointmentID, claimed, req.PatientID, req.Details, now)
	if err := s.appointments.Create(ctx, appointment); err != nil {
		if _, relErr := s.slots.Release(ctx, claimed.ID, repositories.SlotRelease{
			AppointmentID: appointmentID,
			ReleasedBy:    entities.ActorSystem,
			Now:           s.clock.Now(),
		}); relErr != nil {
			logger.Error().Err(relErr).
				Str("slot_id", claimed.ID).
				Str("appointment_id", appointmentID).
				Msg("failed to release slot after appointment create failed")
		}
		observability.RecordBookingAttempt(ctx, s.metrics, "failed")
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordBookingAttempt(ctx, s.metrics, "booked")
	logger.Info().
		Str("appointment_id", appointment.ID).
		Str("slot_id", claimed.ID).
		Str("patient_id", req.PatientID).
		Msg("appointment booked")

	// 4. Tell the provider
	emit(ctx, s.notifier, entities.BookingEventRequested, appointment, entities.ActorProvider, nil, now)
	return appointment, nil
}

// Get retrieves an appointment by ID
func (s *BookingService) Get(ctx context.Context, id string) (*entities.Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// ListForPatient lists a patient's appointments, latest first
func (s *BookingService) ListForPatient(ctx context.Context, patientID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return s.appointments.ListByPatient(ctx, patientID, filter)
}

// ListForProvider lists a provider's appointments, latest first
func (s *BookingService) ListForProvider(ctx context.Context, providerID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return s.appointments.ListByProvider(ctx, providerID, filter)
}

// Confirm moves a pending appointment to confirmed
func (s *BookingService) Confirm(ctx context.Context, id string, actor entities.ActorRole) (*entities.Appointment, error) {
	return s.transition(ctx, id, entities.AppointmentStatusConfirmed, actor, entities.TransitionMetadata{})
}

// Cancel cancels the appointment and returns its slot to the pool
func (s *BookingService) Cancel(ctx context.Context, id string, actor entities.ActorRole, reason string, fee float64) (*entities.Appointment, error) {
	return s.transition(ctx, id, entities.AppointmentStatusCancelled, actor, entities.TransitionMetadata{
		CancellationReason: reason,
		CancellationFee:    fee,
	})
}

// Complete closes a confirmed appointment with its clinical notes
func (s *BookingService) Complete(ctx context.Context, id string, actor entities.ActorRole, meta entities.TransitionMetadata) (*entities.Appointment, error) {
	return s.transition(ctx, id, entities.AppointmentStatusCompleted, actor, meta)
}

// MarkNoShow records that the patient did not attend
func (s *BookingService) MarkNoShow(ctx context.Context, id string, actor entities.ActorRole) (*entities.Appointment, error) {
	return s.transition(ctx, id, entities.AppointmentStatusNoShow, actor, entities.TransitionMetadata{})
}

func (s *BookingService) transition(
	ctx context.Context,
	id string,
	next entities.AppointmentStatus,
	actor entities.ActorRole,
	meta entities.TransitionMetadata,
) (*entities.Appointment, error) {
	logger := observability.ComponentLogger(ctx, "booking")

	appointment, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var proposer entities.ActorRole
	if appointment.HasActiveProposal() {
		proposer = appointment.PendingReschedule.ProposedBy
	}

	now := s.clock.Now()
	if err := appointment.Transition(next, actor, meta, now); err != nil {
		return nil, err
	}
	if err := s.appointments.Update(ctx, appointment); err != nil {
		return nil, err
	}

	switch next {
	case entities.AppointmentStatusCancelled:
		if _, err := s.slots.Release(ctx, appointment.SlotID, repositories.SlotRelease{
			AppointmentID: appointment.ID,
			ReleasedBy:    actor,
			Reason:        meta.CancellationReason,
			Cancellation:  true,
			Now:           now,
		}); err != nil {
			logger.Error().Err(err).
				Str("appointment_id", appointment.ID).
				Str("slot_id", appointment.SlotID).
				Msg("failed to release slot of cancelled appointment")
		}
	case entities.AppointmentStatusCompleted:
		s.markSlot(ctx, appointment, entities.SlotStatusCompleted, now)
	case entities.AppointmentStatusNoShow:
		s.markSlot(ctx, appointment, entities.SlotStatusNoShow, now)
	}

	logger.Info().
		Str("appointment_id", appointment.ID).
		Str("status", string(next)).
		Str("actor", string(actor)).
		Msg("appointment status changed")

	if next == entities.AppointmentStatusConfirmed {
		emit(ctx, s.notifier, entities.BookingEventConfirmed, appointment, entities.ActorPatient, nil, now)
	} else {
		emit(ctx, s.notifier, entities.BookingEventStatusChanged, appointment, recipientFor(actor), map[string]interface{}{
			"status": string(next),
		}, now)
	}
	if proposer != "" {
		emit(ctx, s.notifier, entities.BookingEventRescheduleDecided, appointment, proposer, map[string]interface{}{
			"decision": string(entities.RescheduleDecisionRejected),
			"reason":   appointment.PendingReschedule.DecisionReason,
		}, now)
	}
	return appointment, nil
}

func (s *BookingService) markSlot(ctx context.Context, appointment *entities.Appointment, status entities.SlotStatus, now time.Time) {
	if err := s.slots.SetStatus(ctx, appointment.SlotID, status, now); err != nil {
		observability.ComponentLogger(ctx, "booking").Error().Err(err).
			Str("slot_id", appointment.SlotID).
			Str("slot_status", string(status)).
			Msg("failed to update slot status")
	}
}

// recipientFor returns the party told about an action taken by actor
func recipientFor(actor entities.ActorRole) entities.ActorRole {
	if actor == entities.ActorSystem {
		return entities.ActorPatient
	}
	return actor.Counterparty()
}

func emit(
	ctx context.Context,
	notifier providers.NotificationPort,
	kind entities.BookingEventKind,
	appointment *entities.Appointment,
	recipient entities.ActorRole,
	payload map[string]interface{},
	now time.Time,
) {
	notifier.Notify(ctx, entities.NewBookingEvent(kind, appointment, recipient, payload, now))
}
