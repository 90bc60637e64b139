package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

var adapterNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newMockClient(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewClientFromDB(db), mock
}

func slotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "provider_id", "start_time", "duration_minutes", "fee", "mode",
		"status", "is_available", "is_booked", "patient_id", "appointment_id",
		"cancelled_by", "cancellation_reason", "created_at", "updated_at",
	})
}

func addFreeSlot(rows *sqlmock.Rows, id string, start time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "prov-1", start, 30, 25.0, "in-person",
		"active", true, false, nil, nil, nil, nil, adapterNow, adapterNow)
}

func addBookedSlot(rows *sqlmock.Rows, id, appointmentID string, start time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "prov-1", start, 30, 25.0, "in-person",
		"active", false, true, "pat-1", appointmentID, nil, nil, adapterNow, adapterNow)
}

func TestSlotAdapter_Claim(t *testing.T) {
	ctx := context.Background()
	start := adapterNow.Add(time.Hour)
	claim := repositories.SlotClaim{PatientID: "pat-1", AppointmentID: "appt-1", Now: adapterNow}

	t.Run("returns the booked row", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots" SET .* WHERE .*"is_booked" IS FALSE.* RETURNING`).
			WillReturnRows(addBookedSlot(slotRows(), "slot-1", "appt-1", start))

		slot, err := adapter.Claim(ctx, "slot-1", claim)
		require.NoError(t, err)
		assert.True(t, slot.HeldBy("appt-1"))
		assert.NoError(t, slot.CheckConsistency())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken slot is unavailable", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).WillReturnRows(slotRows())
		mock.ExpectQuery(`SELECT .* FROM "slots"`).
			WillReturnRows(addBookedSlot(slotRows(), "slot-1", "appt-0", start))

		_, err := adapter.Claim(ctx, "slot-1", claim)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSlotUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("appointment may hold its old slot while claiming a new one", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots" SET .*"appointment_id"='appt-1'.* WHERE .*"id" = 'slot-2'`).
			WillReturnRows(addBookedSlot(slotRows(), "slot-2", "appt-1", start.Add(24*time.Hour)))

		slot, err := adapter.Claim(ctx, "slot-2", claim)
		require.NoError(t, err)
		assert.True(t, slot.HeldBy("appt-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver errors are internal", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).WillReturnError(&pq.Error{Code: "23505"})

		_, err := adapter.Claim(ctx, "slot-2", claim)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing slot is not found", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewSlotAdapter(client)

		mock.ExpectQuery(`UPDATE "slots"`).WillReturnRows(slotRows())
		mock.ExpectQuery(`SELECT .* FROM "slots"`).WillReturnRows(slotRows())

		_, err := adapter.Claim(ctx, "slot-1", claim)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSlotAdapter_ReleaseWrongHolder(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewSlotAdapter(client)

	mock.ExpectQuery(`UPDATE "slots" SET .* WHERE .*"appointment_id" = 'appt-2'`).WillReturnRows(slotRows())
	mock.ExpectQuery(`SELECT .* FROM "slots"`).
		WillReturnRows(addBookedSlot(slotRows(), "slot-1", "appt-1", adapterNow.Add(time.Hour)))

	_, err := adapter.Release(context.Background(), "slot-1", repositories.SlotRelease{
		AppointmentID: "appt-2",
		ReleasedBy:    entities.ActorPatient,
		Cancellation:  true,
		Now:           adapterNow,
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotAdapter_FindBookableUsesKeysetCursor(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewSlotAdapter(client)
	after := adapterNow.Add(24 * time.Hour)

	mock.ExpectQuery(`"id" > 'slot-a'.*` + regexp.QuoteMeta(`ORDER BY "start_time" ASC, "id" ASC LIMIT 2`)).
		WillReturnRows(addFreeSlot(addFreeSlot(slotRows(), "slot-b", after), "slot-c", after.Add(time.Hour)))

	slots, err := adapter.FindBookable(context.Background(), repositories.SlotFilter{
		ProviderID: "prov-1",
		Now:        adapterNow,
		AfterStart: &after,
		AfterID:    "slot-a",
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "slot-b", slots[0].ID)
	assert.Nil(t, slots[0].PatientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotAdapter_DeleteBookedSlot(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewSlotAdapter(client)

	mock.ExpectExec(`DELETE FROM "slots"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM "slots"`).
		WillReturnRows(addBookedSlot(slotRows(), "slot-1", "appt-1", adapterNow.Add(time.Hour)))

	err := adapter.Delete(context.Background(), "slot-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotAdapter_CreateBatchDuplicate(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewSlotAdapter(client)

	slot, err := entities.NewSlot("slot-1", "prov-1", adapterNow.Add(time.Hour), 30, 25, entities.ConsultationModeInPerson, adapterNow)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "slots"`).WillReturnError(&pq.Error{Code: "23505"})

	err = adapter.CreateBatch(context.Background(), []*entities.Slot{slot})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
