package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

func appointmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "provider_id", "patient_id", "slot_id", "scheduled_time",
		"duration_minutes", "fee", "mode", "status",
		"reason", "symptoms", "notes", "contact_phone",
		"diagnosis", "prescription", "clinical_notes",
		"cancelled_by", "cancellation_reason", "cancellation_fee",
		"confirmed_at", "completed_at", "cancelled_at",
		"pending_reschedule", "rescheduled_from",
		"version", "created_at", "updated_at",
	})
}

func addAppointment(rows *sqlmock.Rows, id string, version int, pending []byte) *sqlmock.Rows {
	return rows.AddRow(id, "prov-1", "pat-1", "slot-1", adapterNow.Add(time.Hour),
		30, 25.0, "in-person", "pending",
		"checkup", nil, nil, "+2348000000000",
		nil, nil, nil,
		nil, nil, 0.0,
		nil, nil, nil,
		pending, nil,
		version, adapterNow, adapterNow)
}

func TestAppointmentAdapter_GetByIDDecodesProposal(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewAppointmentAdapter(client)

	pending := []byte(`{"proposed_by":"provider","proposed_time":"2026-03-05T10:00:00Z","proposed_at":"2026-03-02T08:00:00Z","active":true}`)
	mock.ExpectQuery(`SELECT .* FROM "appointments" WHERE \("id" = 'appt-1'\)`).
		WillReturnRows(addAppointment(appointmentRows(), "appt-1", 3, pending))

	appt, err := adapter.GetByID(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 3, appt.Version)
	assert.Equal(t, "checkup", appt.Reason)
	assert.Empty(t, appt.Symptoms)
	require.True(t, appt.HasActiveProposal())
	assert.Equal(t, entities.ActorProvider, appt.PendingReschedule.ProposedBy)
	assert.Nil(t, appt.RescheduledFrom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentAdapter_GetByIDNotFound(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewAppointmentAdapter(client)

	mock.ExpectQuery(`SELECT .* FROM "appointments"`).WillReturnRows(appointmentRows())

	_, err := adapter.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestAppointmentAdapter_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	slot, err := entities.NewSlot("slot-1", "prov-1", adapterNow.Add(time.Hour), 30, 25, entities.ConsultationModeInPerson, adapterNow)
	require.NoError(t, err)

	t.Run("advances version on success", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewAppointmentAdapter(client)
		appt := entities.NewAppointment("appt-1", slot, "pat-1", entities.BookingDetails{}, adapterNow)

		mock.ExpectExec(`UPDATE "appointments" SET .*"version"=version \+ 1.* WHERE .*"version" = 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.Update(ctx, appt))
		assert.Equal(t, 2, appt.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mirrors the active proposal into indexed columns", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewAppointmentAdapter(client)
		appt := entities.NewAppointment("appt-1", slot, "pat-1", entities.BookingDetails{}, adapterNow)
		require.NoError(t, appt.Propose(entities.ActorPatient, adapterNow.Add(48*time.Hour), nil, "", adapterNow))

		mock.ExpectExec(`UPDATE "appointments" SET .*"proposal_active"=TRUE,"proposal_proposed_at"='2026-03-02T08:00:00Z'`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.Update(ctx, appt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewAppointmentAdapter(client)
		appt := entities.NewAppointment("appt-1", slot, "pat-1", entities.BookingDetails{}, adapterNow)

		mock.ExpectExec(`UPDATE "appointments"`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .* FROM "appointments"`).
			WillReturnRows(addAppointment(appointmentRows(), "appt-1", 2, nil))

		err := adapter.Update(ctx, appt)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		assert.Equal(t, 1, appt.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAppointmentAdapter_ListStaleProposals(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewAppointmentAdapter(client)

	pending := []byte(`{"proposed_by":"patient","proposed_time":"2026-03-05T10:00:00Z","proposed_at":"2026-02-20T08:00:00Z","active":true}`)
	mock.ExpectQuery(`"proposal_active" IS TRUE.*"proposal_proposed_at" < .*ORDER BY "proposal_proposed_at" ASC`).
		WillReturnRows(addAppointment(appointmentRows(), "appt-1", 1, pending))

	list, err := adapter.ListStaleProposals(context.Background(), adapterNow.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entities.ActorPatient, list[0].PendingReschedule.ProposedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
