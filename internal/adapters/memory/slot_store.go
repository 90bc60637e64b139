// Package memory holds mutex-guarded in-process implementations of the
// repository and provider ports. Every read returns a copy so callers can
// never mutate stored state outside the lock.
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

// SlotStore implements repositories.SlotRepository in memory
type SlotStore struct {
	mu    sync.Mutex
	slots map[string]*entities.Slot
}

// NewSlotStore creates an empty slot store
func NewSlotStore() *SlotStore {
	return &SlotStore{slots: make(map[string]*entities.Slot)}
}

var _ repositories.SlotRepository = (*SlotStore)(nil)

// Create stores a single slot
func (s *SlotStore) Create(ctx context.Context, slot *entities.Slot) error {
	return s.CreateBatch(ctx, []*entities.Slot{slot})
}

// CreateBatch stores generated slots; the batch is rejected whole on a duplicate id
func (s *SlotStore) CreateBatch(ctx context.Context, slots []*entities.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range slots {
		if _, exists := s.slots[slot.ID]; exists {
			return apperrors.NewConflictError(fmt.Sprintf("slot with id %s already exists", slot.ID))
		}
	}
	for _, slot := range slots {
		s.slots[slot.ID] = slot.Clone()
	}
	return nil
}

// GetByID retrieves a slot by ID
func (s *SlotStore) GetByID(ctx context.Context, id string) (*entities.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, slotNotFound(id)
	}
	return slot.Clone(), nil
}

// FindBookable returns one page of bookable slots ordered by (start_time, id)
func (s *SlotStore) FindBookable(ctx context.Context, filter repositories.SlotFilter) ([]*entities.Slot, error) {
	s.mu.Lock()
	var matched []*entities.Slot
	for _, slot := range s.slots {
		if slot.ProviderID != filter.ProviderID || !slot.IsBookable(filter.Now) {
			continue
		}
		if !filter.From.IsZero() && slot.StartTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !slot.StartTime.Before(filter.To) {
			continue
		}
		if filter.AfterStart != nil && !afterCursor(slot, *filter.AfterStart, filter.AfterID) {
			continue
		}
		matched = append(matched, slot.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartTime.Before(matched[j].StartTime)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func afterCursor(slot *entities.Slot, start time.Time, id string) bool {
	if slot.StartTime.After(start) {
		return true
	}
	return slot.StartTime.Equal(start) && slot.ID > id
}

// FindByProviderAndStart returns the provider's active slot starting at start
func (s *SlotStore) FindByProviderAndStart(ctx context.Context, providerID string, start time.Time) (*entities.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range s.slots {
		if slot.ProviderID == providerID && slot.Status == entities.SlotStatusActive && slot.StartTime.Equal(start) {
			return slot.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("no slot for provider %s at %s", providerID, start.Format(time.RFC3339)))
}

// Claim books the slot under the store lock. An appointment may hold more
// than one slot while it is being rescheduled.
func (s *SlotStore) Claim(ctx context.Context, id string, claim repositories.SlotClaim) (*entities.Slot, error) {
	if err := claim.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, slotNotFound(id)
	}
	if !slot.IsBookable(claim.Now) {
		return nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("slot %s is no longer available", id))
	}
	slot.Claim(claim.PatientID, claim.AppointmentID, claim.Now)
	return slot.Clone(), nil
}

// Release frees the slot if the given appointment holds it
func (s *SlotStore) Release(ctx context.Context, id string, release repositories.SlotRelease) (*entities.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, slotNotFound(id)
	}
	if !slot.HeldBy(release.AppointmentID) {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("slot %s is not booked by appointment %s", id, release.AppointmentID))
	}
	slot.Release(release.ReleasedBy, release.Reason, release.Cancellation, release.Now)
	return slot.Clone(), nil
}

// SetStatus updates the lifecycle status
func (s *SlotStore) SetStatus(ctx context.Context, id string, status entities.SlotStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return slotNotFound(id)
	}
	slot.Status = status
	slot.UpdatedAt = now
	return nil
}

// Delete removes an unbooked slot
func (s *SlotStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return slotNotFound(id)
	}
	if slot.IsBooked {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("slot %s is booked and cannot be deleted", id))
	}
	delete(s.slots, id)
	return nil
}

// All returns a snapshot of every stored slot
func (s *SlotStore) All() []*entities.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entities.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot.Clone())
	}
	return out
}

func slotNotFound(id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", id))
}
