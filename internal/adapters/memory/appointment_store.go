package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// AppointmentStore implements repositories.AppointmentRepository in memory
type AppointmentStore struct {
	mu           sync.Mutex
	appointments map[string]*entities.Appointment
}

// NewAppointmentStore creates an empty appointment store
func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{appointments: make(map[string]*entities.Appointment)}
}

var _ repositories.AppointmentRepository = (*AppointmentStore)(nil)

// Create creates a new appointment
func (s *AppointmentStore) Create(ctx context.Context, appointment *entities.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[appointment.ID]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("appointment with id %s already exists", appointment.ID))
	}
	if err := s.checkLiveSlot(appointment); err != nil {
		return err
	}
	if appointment.Version == 0 {
		appointment.Version = 1
	}
	s.appointments[appointment.ID] = appointment.Clone()
	return nil
}

// GetByID retrieves an appointment by ID
func (s *AppointmentStore) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	return appointment.Clone(), nil
}

// Update stores appointment when its version is current
func (s *AppointmentStore) Update(ctx context.Context, appointment *entities.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.appointments[appointment.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", appointment.ID))
	}
	if stored.Version != appointment.Version {
		return apperrors.NewConflictError(fmt.Sprintf("appointment %s was modified concurrently", appointment.ID))
	}
	if err := s.checkLiveSlot(appointment); err != nil {
		return err
	}
	appointment.Version++
	s.appointments[appointment.ID] = appointment.Clone()
	return nil
}

// checkLiveSlot keeps at most one live appointment per slot. Callers hold s.mu.
func (s *AppointmentStore) checkLiveSlot(appointment *entities.Appointment) error {
	if !appointment.IsLive() {
		return nil
	}
	for id, other := range s.appointments {
		if id != appointment.ID && other.SlotID == appointment.SlotID && other.IsLive() {
			return apperrors.NewConflictError(fmt.Sprintf("another live appointment already holds slot %s", appointment.SlotID))
		}
	}
	return nil
}

// FindLiveBySlot returns the non-terminal appointment referencing slotID
func (s *AppointmentStore) FindLiveBySlot(ctx context.Context, slotID string) (*entities.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, appointment := range s.appointments {
		if appointment.SlotID == slotID && appointment.IsLive() {
			return appointment.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("no live appointment references slot %s", slotID))
}

// ListByPatient retrieves appointments for a patient
func (s *AppointmentStore) ListByPatient(ctx context.Context, patientID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return s.list(func(a *entities.Appointment) bool { return a.PatientID == patientID }, filter), nil
}

// ListByProvider retrieves appointments for a provider
func (s *AppointmentStore) ListByProvider(ctx context.Context, providerID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return s.list(func(a *entities.Appointment) bool { return a.ProviderID == providerID }, filter), nil
}

func (s *AppointmentStore) list(match func(*entities.Appointment) bool, filter repositories.AppointmentFilter) []*entities.Appointment {
	s.mu.Lock()
	var out []*entities.Appointment
	for _, a := range s.appointments {
		if !match(a) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.From != nil && a.ScheduledTime.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.ScheduledTime.After(*filter.To) {
			continue
		}
		out = append(out, a.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.After(out[j].ScheduledTime) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ListStaleProposals returns appointments with an active proposal older than proposedBefore
func (s *AppointmentStore) ListStaleProposals(ctx context.Context, proposedBefore time.Time, limit int) ([]*entities.Appointment, error) {
	s.mu.Lock()
	var out []*entities.Appointment
	for _, a := range s.appointments {
		if a.HasActiveProposal() && a.PendingReschedule.ProposedAt.Before(proposedBefore) {
			out = append(out, a.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PendingReschedule.ProposedAt.Before(out[j].PendingReschedule.ProposedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
