package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

var storeNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func seedSlot(t *testing.T, store *SlotStore, id string, start time.Time) *entities.Slot {
	t.Helper()
	slot, err := entities.NewSlot(id, "prov-1", start, 30, 25, entities.ConsultationModeInPerson, storeNow)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), slot))
	return slot
}

func TestSlotStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := NewSlotStore()
	seedSlot(t, store, "slot-1", storeNow.Add(time.Hour))

	const contenders = 32
	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Claim(context.Background(), "slot-1", repositories.SlotClaim{
				PatientID:     fmt.Sprintf("pat-%d", i),
				AppointmentID: fmt.Sprintf("appt-%d", i),
				Now:           storeNow,
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, unavailable := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, unavailable)

	slot, err := store.GetByID(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.NoError(t, slot.CheckConsistency())
}

func TestSlotStore_ClaimDistinguishesMissingFromTaken(t *testing.T) {
	store := NewSlotStore()
	seedSlot(t, store, "past", storeNow.Add(-time.Hour))

	_, err := store.Claim(context.Background(), "missing", repositories.SlotClaim{PatientID: "p", AppointmentID: "a", Now: storeNow})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = store.Claim(context.Background(), "past", repositories.SlotClaim{PatientID: "p", AppointmentID: "a", Now: storeNow})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable))
}

func TestSlotStore_AppointmentHoldsOldSlotWhileClaimingNew(t *testing.T) {
	store := NewSlotStore()
	ctx := context.Background()
	seedSlot(t, store, "old", storeNow.Add(time.Hour))
	seedSlot(t, store, "new", storeNow.Add(2*time.Hour))
	claim := repositories.SlotClaim{PatientID: "pat-1", AppointmentID: "appt-1", Now: storeNow}

	_, err := store.Claim(ctx, "old", claim)
	require.NoError(t, err)
	moved, err := store.Claim(ctx, "new", claim)
	require.NoError(t, err)
	assert.True(t, moved.HeldBy("appt-1"))

	old, err := store.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.HeldBy("appt-1"))
	assert.NoError(t, old.CheckConsistency())
}

func TestSlotStore_ClaimNeedsBothReferences(t *testing.T) {
	store := NewSlotStore()
	seedSlot(t, store, "slot-1", storeNow.Add(time.Hour))

	_, err := store.Claim(context.Background(), "slot-1", repositories.SlotClaim{PatientID: "pat-1", Now: storeNow})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	slot, err := store.GetByID(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.True(t, slot.IsBookable(storeNow))
}

func TestSlotStore_ReleaseRequiresHolder(t *testing.T) {
	store := NewSlotStore()
	seedSlot(t, store, "slot-1", storeNow.Add(time.Hour))
	ctx := context.Background()

	_, err := store.Release(ctx, "slot-1", repositories.SlotRelease{AppointmentID: "appt-1", Now: storeNow})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition), "unbooked slot")

	_, err = store.Claim(ctx, "slot-1", repositories.SlotClaim{PatientID: "pat-1", AppointmentID: "appt-1", Now: storeNow})
	require.NoError(t, err)

	_, err = store.Release(ctx, "slot-1", repositories.SlotRelease{AppointmentID: "appt-2", Now: storeNow})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition), "wrong holder")

	released, err := store.Release(ctx, "slot-1", repositories.SlotRelease{
		AppointmentID: "appt-1",
		ReleasedBy:    entities.ActorPatient,
		Reason:        "sick",
		Cancellation:  true,
		Now:           storeNow,
	})
	require.NoError(t, err)
	assert.False(t, released.IsBooked)
	assert.True(t, released.IsAvailable)
	assert.Equal(t, entities.ActorPatient, *released.CancelledBy)
	assert.NoError(t, released.CheckConsistency())
}

func TestSlotStore_DeleteRefusesBookedSlot(t *testing.T) {
	store := NewSlotStore()
	seedSlot(t, store, "slot-1", storeNow.Add(time.Hour))
	ctx := context.Background()

	_, err := store.Claim(ctx, "slot-1", repositories.SlotClaim{PatientID: "p", AppointmentID: "a", Now: storeNow})
	require.NoError(t, err)

	err = store.Delete(ctx, "slot-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))

	_, err = store.Release(ctx, "slot-1", repositories.SlotRelease{AppointmentID: "a", Now: storeNow})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "slot-1"))

	_, err = store.GetByID(ctx, "slot-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestSlotStore_FindBookablePagesInOrder(t *testing.T) {
	store := NewSlotStore()
	ctx := context.Background()
	base := storeNow.Add(24 * time.Hour)
	seedSlot(t, store, "c", base.Add(2*time.Hour))
	seedSlot(t, store, "a", base)
	seedSlot(t, store, "b", base)
	seedSlot(t, store, "old", storeNow.Add(-time.Hour))
	booked := seedSlot(t, store, "booked", base.Add(time.Hour))
	_, err := store.Claim(ctx, booked.ID, repositories.SlotClaim{PatientID: "p", AppointmentID: "x", Now: storeNow})
	require.NoError(t, err)

	page, err := store.FindBookable(ctx, repositories.SlotFilter{ProviderID: "prov-1", Now: storeNow, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	last := page[1]
	page, err = store.FindBookable(ctx, repositories.SlotFilter{
		ProviderID: "prov-1",
		Now:        storeNow,
		AfterStart: &last.StartTime,
		AfterID:    last.ID,
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)
}

func TestSlotStore_FindByProviderAndStart(t *testing.T) {
	store := NewSlotStore()
	start := storeNow.Add(48 * time.Hour)
	seedSlot(t, store, "slot-1", start)

	slot, err := store.FindByProviderAndStart(context.Background(), "prov-1", start)
	require.NoError(t, err)
	assert.Equal(t, "slot-1", slot.ID)

	_, err = store.FindByProviderAndStart(context.Background(), "prov-2", start)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}
