package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/carebook/internal/domain/entities"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// SlotRepository defines the interface for slot data operations. Claim and
// Release are conditional writes: implementations must apply the
// precondition and the mutation atomically.
type SlotRepository interface {
	// Create stores a single slot
	Create(ctx context.Context, slot *entities.Slot) error

	// CreateBatch stores generated slots
	CreateBatch(ctx context.Context, slots []*entities.Slot) error

	// GetByID retrieves a slot by ID
	GetByID(ctx context.Context, id string) (*entities.Slot, error)

	// FindBookable returns one page of bookable slots ordered by (start_time, id)
	FindBookable(ctx context.Context, filter SlotFilter) ([]*entities.Slot, error)

	// FindByProviderAndStart returns the provider's slot starting exactly at start
	FindByProviderAndStart(ctx context.Context, providerID string, start time.Time) (*entities.Slot, error)

	// Claim books the slot if it is active, available, unbooked and not in
	// the past. Returns SlotUnavailable when the precondition fails and
	// NotFound when the slot does not exist.
	Claim(ctx context.Context, id string, claim SlotClaim) (*entities.Slot, error)

	// Release frees the slot if it is booked by claim.AppointmentID.
	// Returns InvalidTransition when it is not.
	Release(ctx context.Context, id string, release SlotRelease) (*entities.Slot, error)

	// SetStatus updates the lifecycle status
	SetStatus(ctx context.Context, id string, status entities.SlotStatus, now time.Time) error

	// Delete removes an unbooked slot. Returns InvalidTransition when booked.
	Delete(ctx context.Context, id string) error
}

// SlotFilter selects bookable slots for one provider. AfterStart/AfterID
// form the keyset cursor of the previous page.
type SlotFilter struct {
	ProviderID string
	From       time.Time
	To         time.Time
	Now        time.Time
	AfterStart *time.Time
	AfterID    string
	Limit      int
}

// SlotClaim carries the references written by a claim
type SlotClaim struct {
	PatientID     string
	AppointmentID string
	Now           time.Time
}

// Validate rejects a claim that would leave a booked slot without both
// references
func (c SlotClaim) Validate() error {
	if c.PatientID == "" || c.AppointmentID == "" {
		return apperrors.NewValidationError("a claim needs both a patient and an appointment reference")
	}
	return nil
}

// SlotRelease carries the guard and audit fields of a release
type SlotRelease struct {
	AppointmentID string
	ReleasedBy    entities.ActorRole
	Reason        string
	Cancellation  bool
	Now           time.Time
}
