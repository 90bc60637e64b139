package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/carebook/internal/domain/entities"
)

// AppointmentRepository defines the interface for appointment data operations
type AppointmentRepository interface {
	// Create creates a new appointment
	Create(ctx context.Context, appointment *entities.Appointment) error

	// GetByID retrieves an appointment by ID
	GetByID(ctx context.Context, id string) (*entities.Appointment, error)

	// Update persists appointment if the stored version still equals
	// appointment.Version, then increments Version. A stale version returns
	// a Conflict error.
	Update(ctx context.Context, appointment *entities.Appointment) error

	// FindLiveBySlot returns the non-terminal appointment referencing slotID
	FindLiveBySlot(ctx context.Context, slotID string) (*entities.Appointment, error)

	// ListByPatient retrieves appointments for a patient
	ListByPatient(ctx context.Context, patientID string, filter AppointmentFilter) ([]*entities.Appointment, error)

	// ListByProvider retrieves appointments for a provider
	ListByProvider(ctx context.Context, providerID string, filter AppointmentFilter) ([]*entities.Appointment, error)

	// ListStaleProposals returns appointments whose active proposal was
	// made before proposedBefore
	ListStaleProposals(ctx context.Context, proposedBefore time.Time, limit int) ([]*entities.Appointment, error)
}

// AppointmentFilter defines filters for listing appointments
type AppointmentFilter struct {
	Status entities.AppointmentStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
