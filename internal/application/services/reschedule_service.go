package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// RescheduleRequest moves an appointment straight onto another slot
type RescheduleRequest struct {
	AppointmentID string             `json:"appointment_id"`
	NewSlotID     string             `json:"new_slot_id"`
	Actor         entities.ActorRole `json:"actor"`
	Reason        string             `json:"reason"`
}

// ProposalRequest opens a reschedule proposal. SlotID is optional; without
// it ProposedTime names the desired start.
type ProposalRequest struct {
	AppointmentID string             `json:"appointment_id"`
	Actor         entities.ActorRole `json:"actor"`
	SlotID        string             `json:"slot_id,omitempty"`
	ProposedTime  time.Time          `json:"proposed_time"`
	Reason        string             `json:"reason"`
}

// DecisionRequest answers the active proposal
type DecisionRequest struct {
	AppointmentID string                      `json:"appointment_id"`
	Actor         entities.ActorRole          `json:"actor"`
	Decision      entities.RescheduleDecision `json:"decision"`
	Reason        string                      `json:"reason"`
}

// RescheduleService moves appointments between slots, either directly or
// through a propose/decide exchange between patient and provider
type RescheduleService struct {
	slots        repositories.SlotRepository
	appointments repositories.AppointmentRepository
	notifier     providers.NotificationPort
	clock        clock.Clock
	cfg          config.BookingConfig
	metrics      *observability.Metrics
}

// NewRescheduleService creates a new reschedule service
func NewRescheduleService(
	slots repositories.SlotRepository,
	appointments repositories.AppointmentRepository,
	notifier providers.NotificationPort,
	clk clock.Clock,
	cfg config.BookingConfig,
	metrics *observability.Metrics,
) *RescheduleService {
	if notifier == nil {
		notifier = providers.NopNotifier{}
	}
	return &RescheduleService{
		slots:        slots,
		appointments: appointments,
		notifier:     notifier,
		clock:        clk,
		cfg:          cfg,
		metrics:      metrics,
	}
}

// Reschedule claims the new slot for the appointment, moves the
// appointment onto it and retires the old slot.
//
// The appointment is persisted before the old slot is released so a failed
// update can be undone by releasing only the new slot.
func (s *RescheduleService) Reschedule(ctx context.Context, req RescheduleRequest) (*entities.Appointment, error) {
	ctx, span := observability.StartSpan(ctx, "RescheduleService.Reschedule")
	defer span.End()
	logger := observability.ComponentLogger(ctx, "reschedule")

	if !req.Actor.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown actor role %q", req.Actor))
	}

	appointment, err := s.appointments.GetByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot reschedule a %s appointment", appointment.Status))
	}
	if appointment.HasActiveProposal() {
		return nil, apperrors.NewProposalConflictError("a reschedule proposal is awaiting a decision")
	}
	if req.NewSlotID == appointment.SlotID {
		return nil, apperrors.NewValidationError("appointment already occupies that slot")
	}

	target, err := s.slots.GetByID(ctx, req.NewSlotID)
	if err != nil {
		return nil, err
	}
	if target.ProviderID != appointment.ProviderID {
		return nil, apperrors.NewValidationError("target slot belongs to a different provider")
	}

	now := s.clock.Now()
	if _, err := s.slots.Claim(ctx, target.ID, repositories.SlotClaim{
		PatientID:     appointment.PatientID,
		AppointmentID: appointment.ID,
		Now:           now,
	}); err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable) {
			observability.RecordClaimConflict(ctx, s.metrics, "reschedule")
		}
		observability.RecordError(span, err)
		return nil, err
	}

	oldSlotID := appointment.SlotID
	if err := appointment.ApplyReschedule(target, req.Actor, req.Reason, now); err != nil {
		s.releaseQuietly(ctx, logger, target.ID, appointment.ID)
		return nil, err
	}
	if s.cfg.ReconfirmAfterReschedule {
		appointment.RequireReconfirmation(now)
	}
	if err := s.appointments.Update(ctx, appointment); err != nil {
		s.releaseQuietly(ctx, logger, target.ID, appointment.ID)
		observability.RecordError(span, err)
		return nil, err
	}

	s.retireSlot(ctx, logger, oldSlotID, appointment.ID, req.Actor, now)
	observability.RecordReschedule(ctx, s.metrics, "direct")

	logger.Info().
		Str("appointment_id", appointment.ID).
		Str("old_slot_id", oldSlotID).
		Str("slot_id", target.ID).
		Msg("appointment rescheduled")

	emit(ctx, s.notifier, entities.BookingEventRescheduled, appointment, recipientFor(req.Actor), map[string]interface{}{
		"original_date": appointment.RescheduledFrom.OriginalDate,
		"reason":        req.Reason,
	}, now)
	return appointment, nil
}

// Propose records a reschedule proposal without touching any slot
func (s *RescheduleService) Propose(ctx context.Context, req ProposalRequest) (*entities.Appointment, error) {
	appointment, err := s.appointments.GetByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot propose a reschedule for a %s appointment", appointment.Status))
	}
	if appointment.HasActiveProposal() {
		return nil, apperrors.NewProposalConflictError("a reschedule proposal is already awaiting a decision")
	}

	now := s.clock.Now()
	proposedTime := req.ProposedTime
	var proposedSlotID *string

	if slotID := strings.TrimSpace(req.SlotID); slotID != "" {
		slot, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return nil, err
		}
		if slot.ProviderID != appointment.ProviderID {
			return nil, apperrors.NewValidationError("proposed slot belongs to a different provider")
		}
		if slot.ID == appointment.SlotID {
			return nil, apperrors.NewValidationError("appointment already occupies that slot")
		}
		if !slot.IsBookable(now) {
			return nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("proposed slot %s is not bookable", slot.ID))
		}
		proposedTime = slot.StartTime
		proposedSlotID = &slot.ID
	} else {
		if proposedTime.IsZero() || !proposedTime.After(now) {
			return nil, apperrors.NewValidationError("proposed time must be in the future")
		}
		if proposedTime.Equal(appointment.ScheduledTime) {
			return nil, apperrors.NewValidationError("proposed time equals the current schedule")
		}
	}

	if err := appointment.Propose(req.Actor, proposedTime, proposedSlotID, req.Reason, now); err != nil {
		return nil, err
	}
	if err := s.appointments.Update(ctx, appointment); err != nil {
		return nil, asProposalConflict(err)
	}

	observability.ComponentLogger(ctx, "reschedule").Info().
		Str("appointment_id", appointment.ID).
		Str("proposed_by", string(req.Actor)).
		Time("proposed_time", proposedTime).
		Msg("reschedule proposed")

	emit(ctx, s.notifier, entities.BookingEventRescheduleProposed, appointment, req.Actor.Counterparty(), map[string]interface{}{
		"proposed_time": proposedTime,
		"reason":        req.Reason,
	}, now)
	return appointment, nil
}

// Decide approves or rejects the active proposal. An approval closes the
// proposal first so concurrent decisions lose with ProposalConflict, then
// claims the target slot and moves the appointment onto it.
func (s *RescheduleService) Decide(ctx context.Context, req DecisionRequest) (*entities.Appointment, error) {
	appointment, err := s.appointments.GetByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.HasActiveProposal() {
		return nil, apperrors.NewProposalConflictError("no reschedule proposal is awaiting a decision")
	}

	proposal := *appointment.PendingReschedule
	now := s.clock.Now()

	if err := appointment.Decide(req.Decision, req.Actor, req.Reason, now); err != nil {
		return nil, err
	}
	if err := s.appointments.Update(ctx, appointment); err != nil {
		return nil, asProposalConflict(err)
	}

	if req.Decision == entities.RescheduleDecisionRejected {
		observability.RecordReschedule(ctx, s.metrics, "rejected")
		s.notifyDecision(ctx, appointment, proposal.ProposedBy, req.Decision, req.Reason, now)
		return appointment, nil
	}

	moved, err := s.applyApproval(ctx, appointment, proposal, now)
	if err != nil {
		return nil, err
	}
	observability.RecordReschedule(ctx, s.metrics, "approved")
	s.notifyDecision(ctx, moved, proposal.ProposedBy, req.Decision, req.Reason, now)
	return moved, nil
}

func (s *RescheduleService) applyApproval(
	ctx context.Context,
	appointment *entities.Appointment,
	proposal entities.PendingReschedule,
	now time.Time,
) (*entities.Appointment, error) {
	logger := observability.ComponentLogger(ctx, "reschedule")

	// 1. Find or create the slot at the proposed time
	target, created, err := s.resolveTarget(ctx, appointment, proposal, now)
	if err != nil {
		s.reopen(ctx, logger, appointment.ID)
		return nil, err
	}

	// 2. Claim it; losing the claim puts the proposal back up for decision
	if _, err := s.slots.Claim(ctx, target.ID, repositories.SlotClaim{
		PatientID:     appointment.PatientID,
		AppointmentID: appointment.ID,
		Now:           now,
	}); err != nil {
		observability.RecordClaimConflict(ctx, s.metrics, "approve")
		if created {
			s.deleteQuietly(ctx, logger, target.ID)
		}
		s.reopen(ctx, logger, appointment.ID)
		if apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable) || apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("slot at %s is no longer available", proposal.ProposedTime.Format(time.RFC3339)))
		}
		return nil, err
	}

	// 3. Move the appointment
	oldSlotID := appointment.SlotID
	if err := appointment.ApplyReschedule(target, proposal.ProposedBy, proposal.Reason, now); err != nil {
		s.undoTarget(ctx, logger, target.ID, appointment.ID, created)
		s.reopen(ctx, logger, appointment.ID)
		return nil, err
	}
	appointment.ConfirmReschedule(now)
	if err := s.appointments.Update(ctx, appointment); err != nil {
		s.undoTarget(ctx, logger, target.ID, appointment.ID, created)
		s.reopen(ctx, logger, appointment.ID)
		return nil, err
	}

	// 4. Retire the old slot
	s.retireSlot(ctx, logger, oldSlotID, appointment.ID, proposal.ProposedBy, now)

	logger.Info().
		Str("appointment_id", appointment.ID).
		Str("old_slot_id", oldSlotID).
		Str("slot_id", target.ID).
		Bool("slot_created", created).
		Msg("reschedule approved")
	return appointment, nil
}

// resolveTarget returns the proposed slot, the provider's slot at the
// proposed time, or a new slot copying the current terms
func (s *RescheduleService) resolveTarget(
	ctx context.Context,
	appointment *entities.Appointment,
	proposal entities.PendingReschedule,
	now time.Time,
) (*entities.Slot, bool, error) {
	if proposal.ProposedSlotID != nil {
		slot, err := s.slots.GetByID(ctx, *proposal.ProposedSlotID)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
				return nil, false, apperrors.NewSlotUnavailableError(fmt.Sprintf("proposed slot %s no longer exists", *proposal.ProposedSlotID))
			}
			return nil, false, err
		}
		if slot.ProviderID != appointment.ProviderID {
			return nil, false, apperrors.NewValidationError("proposed slot belongs to a different provider")
		}
		return slot, false, nil
	}

	slot, err := s.slots.FindByProviderAndStart(ctx, appointment.ProviderID, proposal.ProposedTime)
	if err == nil {
		return slot, false, nil
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, false, err
	}

	if proposal.ProposedTime.Before(now) {
		return nil, false, apperrors.NewSlotUnavailableError("proposed time has already passed")
	}
	slot, err = entities.NewSlot(uuid.New().String(), appointment.ProviderID, proposal.ProposedTime,
		appointment.DurationMinutes, appointment.Fee, appointment.Mode, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, false, err
	}
	return slot, true, nil
}

// reopen re-reads the appointment and puts its proposal back up for decision
func (s *RescheduleService) reopen(ctx context.Context, logger *zerolog.Logger, appointmentID string) {
	appointment, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		logger.Error().Err(err).Str("appointment_id", appointmentID).Msg("failed to reload appointment to reopen proposal")
		return
	}
	if appointment.Status.IsTerminal() {
		logger.Info().Str("appointment_id", appointmentID).Str("status", string(appointment.Status)).
			Msg("appointment ended during approval, proposal stays closed")
		return
	}
	if appointment.PendingReschedule == nil || appointment.PendingReschedule.Decision != entities.RescheduleDecisionApproved {
		return
	}
	appointment.ReopenProposal(s.clock.Now())
	if err := s.appointments.Update(ctx, appointment); err != nil {
		logger.Error().Err(err).Str("appointment_id", appointmentID).Msg("failed to reopen reschedule proposal")
	}
}

func (s *RescheduleService) undoTarget(ctx context.Context, logger *zerolog.Logger, slotID, appointmentID string, created bool) {
	s.releaseQuietly(ctx, logger, slotID, appointmentID)
	if created {
		s.deleteQuietly(ctx, logger, slotID)
	}
}

// retireSlot releases and deletes the slot the appointment moved off.
// Failures are logged only; the appointment is already consistent.
func (s *RescheduleService) retireSlot(ctx context.Context, logger *zerolog.Logger, slotID, appointmentID string, actor entities.ActorRole, now time.Time) {
	if _, err := s.slots.Release(ctx, slotID, repositories.SlotRelease{
		AppointmentID: appointmentID,
		ReleasedBy:    actor,
		Now:           now,
	}); err != nil {
		logger.Warn().Err(err).Str("slot_id", slotID).Str("appointment_id", appointmentID).Msg("failed to release old slot")
		return
	}
	s.deleteQuietly(ctx, logger, slotID)
}

func (s *RescheduleService) releaseQuietly(ctx context.Context, logger *zerolog.Logger, slotID, appointmentID string) {
	if _, err := s.slots.Release(ctx, slotID, repositories.SlotRelease{
		AppointmentID: appointmentID,
		ReleasedBy:    entities.ActorSystem,
		Now:           s.clock.Now(),
	}); err != nil {
		logger.Error().Err(err).Str("slot_id", slotID).Str("appointment_id", appointmentID).Msg("failed to release claimed slot")
	}
}

func (s *RescheduleService) deleteQuietly(ctx context.Context, logger *zerolog.Logger, slotID string) {
	if err := s.slots.Delete(ctx, slotID); err != nil {
		logger.Warn().Err(err).Str("slot_id", slotID).Msg("failed to delete slot")
	}
}

func (s *RescheduleService) notifyDecision(
	ctx context.Context,
	appointment *entities.Appointment,
	proposer entities.ActorRole,
	decision entities.RescheduleDecision,
	reason string,
	now time.Time,
) {
	emit(ctx, s.notifier, entities.BookingEventRescheduleDecided, appointment, proposer, map[string]interface{}{
		"decision": string(decision),
		"reason":   reason,
	}, now)
}

// asProposalConflict reports a lost version race on a proposal write as a
// proposal clash
func asProposalConflict(err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		return apperrors.NewProposalConflictError("appointment was modified concurrently, reload and retry")
	}
	return err
}
