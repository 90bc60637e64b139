package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNotificationLogAdapter_CreateAndUpdate(t *testing.T) {
	db, mock := setupMockDB(t)
	adapter := NewNotificationLogAdapter(db)
	ctx := context.Background()

	n := &entities.AppointmentNotification{
		ID:            "n-1",
		EventID:       "evt-1",
		AppointmentID: "appt-1",
		EventKind:     entities.BookingEventRequested,
		Channel:       entities.ChannelWhatsApp,
		Status:        entities.NotificationStatusPending,
		CreatedAt:     adapterNow,
		UpdatedAt:     adapterNow,
	}

	mock.ExpectExec(`INSERT INTO appointment_notifications`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, adapter.Create(ctx, n))

	n.MarkFailed(errors.New("upstream 500"), 3, adapterNow)
	mock.ExpectExec(`UPDATE appointment_notifications`).
		WithArgs("", "failed", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(2), adapterNow, "n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, adapter.Update(ctx, n))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationLogAdapter_UpdateMissing(t *testing.T) {
	db, mock := setupMockDB(t)
	adapter := NewNotificationLogAdapter(db)

	mock.ExpectExec(`UPDATE appointment_notifications`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.Update(context.Background(), &entities.AppointmentNotification{ID: "gone"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestNotificationLogAdapter_ListByAppointment(t *testing.T) {
	db, mock := setupMockDB(t)
	adapter := NewNotificationLogAdapter(db)

	rows := sqlmock.NewRows([]string{
		"id", "event_id", "appointment_id", "event_kind", "channel", "recipient", "status", "message_id",
		"sent_at", "failed_at", "error_message", "retry_count", "created_at", "updated_at",
	}).AddRow("n-1", "evt-1", "appt-1", "requested", "event_bus", "booking:updates", "sent", nil,
		adapterNow, nil, nil, 0, adapterNow, adapterNow)

	mock.ExpectQuery(`FROM appointment_notifications`).WithArgs("appt-1").WillReturnRows(rows)

	list, err := adapter.ListByAppointment(context.Background(), "appt-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entities.NotificationStatusSent, list[0].Status)
	assert.Nil(t, list[0].MessageID)
	require.NotNil(t, list[0].SentAt)
}
