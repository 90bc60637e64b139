package entities

import (
	"fmt"
	"time"

	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusNoShow    AppointmentStatus = "no-show"
)

// IsTerminal reports whether no further transition is possible
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case AppointmentStatusCancelled, AppointmentStatusCompleted, AppointmentStatusNoShow:
		return true
	}
	return false
}

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:   {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow},
}

// CanTransitionTo reports whether the lifecycle permits s -> next
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActorRole identifies which party performed an action
type ActorRole string

const (
	ActorPatient  ActorRole = "patient"
	ActorProvider ActorRole = "provider"
	ActorSystem   ActorRole = "system"
)

// IsValid reports whether r is a known role
func (r ActorRole) IsValid() bool {
	switch r {
	case ActorPatient, ActorProvider, ActorSystem:
		return true
	}
	return false
}

// Counterparty returns the other booking party. System maps to itself.
func (r ActorRole) Counterparty() ActorRole {
	switch r {
	case ActorPatient:
		return ActorProvider
	case ActorProvider:
		return ActorPatient
	}
	return ActorSystem
}

// RescheduleDecision records the outcome of a proposal
type RescheduleDecision string

const (
	RescheduleDecisionNone     RescheduleDecision = ""
	RescheduleDecisionApproved RescheduleDecision = "approved"
	RescheduleDecisionRejected RescheduleDecision = "rejected"
)

// PendingReschedule tracks a reschedule proposal. It stays on the
// appointment after a decision so the outcome remains displayable; Active
// is the only gate.
type PendingReschedule struct {
	ProposedBy     ActorRole          `json:"proposed_by"`
	ProposedTime   time.Time          `json:"proposed_time"`
	ProposedSlotID *string            `json:"proposed_slot_id,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Decision       RescheduleDecision `json:"decision,omitempty"`
	DecidedBy      *ActorRole         `json:"decided_by,omitempty"`
	DecidedAt      *time.Time         `json:"decided_at,omitempty"`
	DecisionReason string             `json:"decision_reason,omitempty"`
	ProposedAt     time.Time          `json:"proposed_at"`
	Active         bool               `json:"active"`
}

// RescheduleHistory is the snapshot taken when a reschedule completes
type RescheduleHistory struct {
	OriginalDate   time.Time `json:"original_date"`
	OriginalSlotID string    `json:"original_slot_id"`
	RescheduledBy  ActorRole `json:"rescheduled_by"`
	RescheduledAt  time.Time `json:"rescheduled_at"`
	Reason         string    `json:"reason,omitempty"`
}

// Appointment binds a patient and a provider to one slot
type Appointment struct {
	ID                 string             `json:"id" db:"id"`
	ProviderID         string             `json:"provider_id" db:"provider_id"`
	PatientID          string             `json:"patient_id" db:"patient_id"`
	SlotID             string             `json:"slot_id" db:"slot_id"`
	ScheduledTime      time.Time          `json:"scheduled_time" db:"scheduled_time"`
	DurationMinutes    int                `json:"duration_minutes" db:"duration_minutes"`
	Fee                float64            `json:"fee" db:"fee"`
	Mode               ConsultationMode   `json:"mode" db:"mode"`
	Status             AppointmentStatus  `json:"status" db:"status"`
	Reason             string             `json:"reason,omitempty" db:"reason"`
	Symptoms           string             `json:"symptoms,omitempty" db:"symptoms"`
	Notes              string             `json:"notes,omitempty" db:"notes"`
	ContactPhone       string             `json:"contact_phone,omitempty" db:"contact_phone"`
	Diagnosis          string             `json:"diagnosis,omitempty" db:"diagnosis"`
	Prescription       string             `json:"prescription,omitempty" db:"prescription"`
	ClinicalNotes      string             `json:"clinical_notes,omitempty" db:"clinical_notes"`
	CancelledBy        *ActorRole         `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason string             `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancellationFee    float64            `json:"cancellation_fee,omitempty" db:"cancellation_fee"`
	ConfirmedAt        *time.Time         `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	PendingReschedule  *PendingReschedule `json:"pending_reschedule,omitempty" db:"pending_reschedule"`
	RescheduledFrom    *RescheduleHistory `json:"rescheduled_from,omitempty" db:"rescheduled_from"`
	Version            int                `json:"version" db:"version"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// BookingDetails carries the free-form fields supplied at booking time
type BookingDetails struct {
	Reason       string `json:"reason"`
	Symptoms     string `json:"symptoms"`
	Notes        string `json:"notes"`
	ContactPhone string `json:"contact_phone"`
}

// NewAppointment builds a pending appointment denormalized from the slot
func NewAppointment(id string, slot *Slot, patientID string, details BookingDetails, now time.Time) *Appointment {
	return &Appointment{
		ID:              id,
		ProviderID:      slot.ProviderID,
		PatientID:       patientID,
		SlotID:          slot.ID,
		ScheduledTime:   slot.StartTime,
		DurationMinutes: slot.DurationMinutes,
		Fee:             slot.Fee,
		Mode:            slot.Mode,
		Status:          AppointmentStatusPending,
		Reason:          details.Reason,
		Symptoms:        details.Symptoms,
		Notes:           details.Notes,
		ContactPhone:    details.ContactPhone,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TransitionMetadata carries the optional fields a transition may set
type TransitionMetadata struct {
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	CancellationFee    float64 `json:"cancellation_fee,omitempty"`
	Diagnosis          string  `json:"diagnosis,omitempty"`
	Prescription       string  `json:"prescription,omitempty"`
	ClinicalNotes      string  `json:"clinical_notes,omitempty"`
}

// IsLive reports whether the appointment still holds its slot
func (a *Appointment) IsLive() bool {
	return !a.Status.IsTerminal()
}

// HasActiveProposal reports whether a reschedule proposal awaits a decision
func (a *Appointment) HasActiveProposal() bool {
	return a.PendingReschedule != nil && a.PendingReschedule.Active
}

// Transition moves the appointment through its lifecycle. Entering a
// terminal status rejects any outstanding proposal on behalf of the system.
func (a *Appointment) Transition(next AppointmentStatus, actor ActorRole, meta TransitionMetadata, now time.Time) error {
	if !actor.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown actor role %q", actor))
	}
	if !a.Status.CanTransitionTo(next) {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot move appointment from %s to %s", a.Status, next))
	}

	switch next {
	case AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusNoShow:
		if actor == ActorPatient {
			return apperrors.NewInvalidTransitionError(fmt.Sprintf("a patient cannot mark an appointment %s", next))
		}
	case AppointmentStatusCancelled:
		if meta.CancellationFee < 0 {
			return apperrors.NewValidationError("cancellation fee must be non-negative")
		}
	}

	switch next {
	case AppointmentStatusConfirmed:
		a.ConfirmedAt = &now
	case AppointmentStatusCompleted:
		a.CompletedAt = &now
		a.Diagnosis = meta.Diagnosis
		a.Prescription = meta.Prescription
		a.ClinicalNotes = meta.ClinicalNotes
	case AppointmentStatusCancelled:
		role := actor
		a.CancelledBy = &role
		a.CancellationReason = meta.CancellationReason
		a.CancellationFee = meta.CancellationFee
		a.CancelledAt = &now
	}

	a.Status = next
	if next.IsTerminal() && a.HasActiveProposal() {
		a.closeProposal(RescheduleDecisionRejected, ActorSystem, fmt.Sprintf("appointment %s", next), now)
	}
	a.UpdatedAt = now
	return nil
}

// ApplyReschedule moves the appointment onto slot in place, snapshotting
// the current time and slot into RescheduledFrom first. Slot booking state
// is not touched here.
func (a *Appointment) ApplyReschedule(slot *Slot, actor ActorRole, reason string, now time.Time) error {
	if a.Status.IsTerminal() {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot reschedule a %s appointment", a.Status))
	}
	if slot.ProviderID != a.ProviderID {
		return apperrors.NewValidationError("target slot belongs to a different provider")
	}

	a.RescheduledFrom = &RescheduleHistory{
		OriginalDate:   a.ScheduledTime,
		OriginalSlotID: a.SlotID,
		RescheduledBy:  actor,
		RescheduledAt:  now,
		Reason:         reason,
	}
	a.SlotID = slot.ID
	a.ScheduledTime = slot.StartTime
	a.DurationMinutes = slot.DurationMinutes
	a.Fee = slot.Fee
	a.Mode = slot.Mode
	a.UpdatedAt = now
	return nil
}

// RequireReconfirmation puts a rescheduled appointment back to pending
func (a *Appointment) RequireReconfirmation(now time.Time) {
	a.Status = AppointmentStatusPending
	a.ConfirmedAt = nil
	a.UpdatedAt = now
}

// ConfirmReschedule marks the appointment confirmed after an approved proposal
func (a *Appointment) ConfirmReschedule(now time.Time) {
	if a.Status != AppointmentStatusConfirmed || a.ConfirmedAt == nil {
		confirmedAt := now
		a.ConfirmedAt = &confirmedAt
	}
	a.Status = AppointmentStatusConfirmed
	a.UpdatedAt = now
}

// Propose opens a reschedule proposal
func (a *Appointment) Propose(proposedBy ActorRole, proposedTime time.Time, proposedSlotID *string, reason string, now time.Time) error {
	if a.Status.IsTerminal() {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot propose a reschedule for a %s appointment", a.Status))
	}
	if a.HasActiveProposal() {
		return apperrors.NewProposalConflictError("a reschedule proposal is already awaiting a decision")
	}
	if proposedBy != ActorPatient && proposedBy != ActorProvider {
		return apperrors.NewValidationError("only the patient or the provider can propose a reschedule")
	}

	a.PendingReschedule = &PendingReschedule{
		ProposedBy:     proposedBy,
		ProposedTime:   proposedTime.UTC(),
		ProposedSlotID: cloneString(proposedSlotID),
		Reason:         reason,
		ProposedAt:     now,
		Active:         true,
	}
	a.UpdatedAt = now
	return nil
}

// Decide closes the active proposal with decision
func (a *Appointment) Decide(decision RescheduleDecision, decidedBy ActorRole, reason string, now time.Time) error {
	if a.Status.IsTerminal() {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("cannot decide a reschedule for a %s appointment", a.Status))
	}
	if !a.HasActiveProposal() {
		return apperrors.NewProposalConflictError("no reschedule proposal is awaiting a decision")
	}
	if decision != RescheduleDecisionApproved && decision != RescheduleDecisionRejected {
		return apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision))
	}
	if decidedBy == a.PendingReschedule.ProposedBy {
		return apperrors.NewValidationError("the proposer cannot decide their own proposal")
	}
	if !decidedBy.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown actor role %q", decidedBy))
	}

	a.closeProposal(decision, decidedBy, reason, now)
	a.UpdatedAt = now
	return nil
}

// ReopenProposal undoes an approval whose slot could not be claimed. A
// terminal appointment keeps its proposal closed.
func (a *Appointment) ReopenProposal(now time.Time) {
	if a.PendingReschedule == nil || a.Status.IsTerminal() {
		return
	}
	p := a.PendingReschedule
	p.Active = true
	p.Decision = RescheduleDecisionNone
	p.DecidedBy = nil
	p.DecidedAt = nil
	p.DecisionReason = ""
	a.UpdatedAt = now
}

func (a *Appointment) closeProposal(decision RescheduleDecision, decidedBy ActorRole, reason string, now time.Time) {
	p := a.PendingReschedule
	p.Active = false
	p.Decision = decision
	role := decidedBy
	p.DecidedBy = &role
	decidedAt := now
	p.DecidedAt = &decidedAt
	p.DecisionReason = reason
}

// Clone returns a deep copy
func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.CancelledBy != nil {
		role := *a.CancelledBy
		c.CancelledBy = &role
	}
	c.ConfirmedAt = cloneTime(a.ConfirmedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	c.CancelledAt = cloneTime(a.CancelledAt)
	if a.PendingReschedule != nil {
		p := *a.PendingReschedule
		p.ProposedSlotID = cloneString(a.PendingReschedule.ProposedSlotID)
		p.DecidedAt = cloneTime(a.PendingReschedule.DecidedAt)
		if a.PendingReschedule.DecidedBy != nil {
			role := *a.PendingReschedule.DecidedBy
			p.DecidedBy = &role
		}
		c.PendingReschedule = &p
	}
	if a.RescheduledFrom != nil {
		h := *a.RescheduledFrom
		c.RescheduledFrom = &h
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
