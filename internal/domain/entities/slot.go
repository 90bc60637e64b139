package entities

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// SlotStatus represents the lifecycle status of a slot
type SlotStatus string

const (
	SlotStatusActive    SlotStatus = "active"
	SlotStatusCancelled SlotStatus = "cancelled"
	SlotStatusCompleted SlotStatus = "completed"
	SlotStatusNoShow    SlotStatus = "no-show"
)

// ConsultationMode represents how the consultation takes place
type ConsultationMode string

const (
	ConsultationModeInPerson     ConsultationMode = "in-person"
	ConsultationModeTelemedicine ConsultationMode = "telemedicine"
	ConsultationModePhone        ConsultationMode = "phone"
)

// IsValid reports whether m is a known consultation mode
func (m ConsultationMode) IsValid() bool {
	switch m {
	case ConsultationModeInPerson, ConsultationModeTelemedicine, ConsultationModePhone:
		return true
	}
	return false
}

// Slot duration bounds in minutes
const (
	MinSlotDurationMinutes = 15
	MaxSlotDurationMinutes = 240
)

// Slot represents a single bookable time unit owned by one provider
type Slot struct {
	ID                 string           `json:"id" db:"id"`
	ProviderID         string           `json:"provider_id" db:"provider_id"`
	StartTime          time.Time        `json:"start_time" db:"start_time"`
	DurationMinutes    int              `json:"duration_minutes" db:"duration_minutes"`
	Fee                float64          `json:"fee" db:"fee"`
	Mode               ConsultationMode `json:"mode" db:"mode"`
	Status             SlotStatus       `json:"status" db:"status"`
	IsAvailable        bool             `json:"is_available" db:"is_available"`
	IsBooked           bool             `json:"is_booked" db:"is_booked"`
	PatientID          *string          `json:"patient_id,omitempty" db:"patient_id"`
	AppointmentID      *string          `json:"appointment_id,omitempty" db:"appointment_id"`
	CancelledBy        *ActorRole       `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason *string          `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// NewSlot builds an active, available, unbooked slot
func NewSlot(id, providerID string, start time.Time, durationMinutes int, fee float64, mode ConsultationMode, now time.Time) (*Slot, error) {
	if err := ValidateSlotTerms(durationMinutes, fee, mode); err != nil {
		return nil, err
	}
	if providerID == "" {
		return nil, apperrors.NewValidationError("provider id is required")
	}
	return &Slot{
		ID:              id,
		ProviderID:      providerID,
		StartTime:       start.UTC(),
		DurationMinutes: durationMinutes,
		Fee:             fee,
		Mode:            mode,
		Status:          SlotStatusActive,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ValidateSlotTerms checks duration bounds, fee sign and mode
func ValidateSlotTerms(durationMinutes int, fee float64, mode ConsultationMode) error {
	if durationMinutes < MinSlotDurationMinutes || durationMinutes > MaxSlotDurationMinutes {
		return apperrors.NewValidationError(fmt.Sprintf(
			"duration must be between %d and %d minutes, got %d",
			MinSlotDurationMinutes, MaxSlotDurationMinutes, durationMinutes))
	}
	if fee < 0 || math.IsNaN(fee) || math.IsInf(fee, 0) {
		return apperrors.NewValidationError("fee must be a non-negative amount")
	}
	if !mode.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown consultation mode %q", mode))
	}
	return nil
}

// EndTime returns the instant the slot ends
func (s *Slot) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsBookable reports whether a claim at now would succeed
func (s *Slot) IsBookable(now time.Time) bool {
	return s.Status == SlotStatusActive && s.IsAvailable && !s.IsBooked && !s.StartTime.Before(now)
}

// CheckConsistency verifies the booked flag agrees with the booking references
func (s *Slot) CheckConsistency() error {
	hasRefs := s.PatientID != nil && s.AppointmentID != nil
	if s.IsBooked != hasRefs {
		return fmt.Errorf("slot %s: is_booked=%t but patient/appointment refs set=%t", s.ID, s.IsBooked, hasRefs)
	}
	if !s.IsBooked && (s.PatientID != nil || s.AppointmentID != nil) {
		return fmt.Errorf("slot %s: unbooked slot carries a stale reference", s.ID)
	}
	return nil
}

// HeldBy reports whether the slot is booked for the given appointment
func (s *Slot) HeldBy(appointmentID string) bool {
	return s.IsBooked && s.AppointmentID != nil && *s.AppointmentID == appointmentID
}

// Claim applies a successful claim in place. Callers must have checked
// IsBookable under the same lock or conditional write.
func (s *Slot) Claim(patientID, appointmentID string, now time.Time) {
	s.IsBooked = true
	s.IsAvailable = false
	s.PatientID = &patientID
	s.AppointmentID = &appointmentID
	s.CancelledBy = nil
	s.CancellationReason = nil
	s.UpdatedAt = now
}

// Release clears the booking fields in place
func (s *Slot) Release(releasedBy ActorRole, reason string, cancellation bool, now time.Time) {
	s.IsBooked = false
	s.IsAvailable = true
	s.PatientID = nil
	s.AppointmentID = nil
	if cancellation {
		role := releasedBy
		s.CancelledBy = &role
		if reason != "" {
			r := reason
			s.CancellationReason = &r
		}
	} else {
		s.CancelledBy = nil
		s.CancellationReason = nil
	}
	s.UpdatedAt = now
}

// Clone returns a deep copy
func (s *Slot) Clone() *Slot {
	c := *s
	c.PatientID = cloneString(s.PatientID)
	c.AppointmentID = cloneString(s.AppointmentID)
	c.CancellationReason = cloneString(s.CancellationReason)
	if s.CancelledBy != nil {
		role := *s.CancelledBy
		c.CancelledBy = &role
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
