package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// NotificationLogAdapter records delivery attempts in appointment_notifications
type NotificationLogAdapter struct {
	db *sqlx.DB
}

// NewNotificationLogAdapter creates a new notification log adapter
func NewNotificationLogAdapter(db *sqlx.DB) *NotificationLogAdapter {
	return &NotificationLogAdapter{db: db}
}

var _ repositories.NotificationLogRepository = (*NotificationLogAdapter)(nil)

// Create inserts a delivery record
func (a *NotificationLogAdapter) Create(ctx context.Context, notification *entities.AppointmentNotification) error {
	query := `
		INSERT INTO appointment_notifications
		(id, event_id, appointment_id, event_kind, channel, recipient, status, message_id,
		 sent_at, failed_at, error_message, retry_count, created_at, updated_at)
		VALUES (:id, :event_id, :appointment_id, :event_kind, :channel, :recipient, :status, :message_id,
		 :sent_at, :failed_at, :error_message, :retry_count, :created_at, :updated_at)
	`
	if _, err := a.db.NamedExecContext(ctx, query, notification); err != nil {
		return apperrors.NewInternalError("failed to create notification record", err)
	}
	return nil
}

// Update stores the outcome of a delivery
func (a *NotificationLogAdapter) Update(ctx context.Context, notification *entities.AppointmentNotification) error {
	query := `
		UPDATE appointment_notifications
		SET recipient = $1, status = $2, message_id = $3, sent_at = $4, failed_at = $5,
		    error_message = $6, retry_count = $7, updated_at = $8
		WHERE id = $9
	`
	result, err := a.db.ExecContext(ctx, query,
		notification.Recipient, notification.Status, notification.MessageID, notification.SentAt,
		notification.FailedAt, notification.ErrorMessage, notification.RetryCount, notification.UpdatedAt,
		notification.ID,
	)
	if err != nil {
		return apperrors.NewInternalError("failed to update notification record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", notification.ID))
	}
	return nil
}

// ListByAppointment returns delivery records for an appointment, oldest first
func (a *NotificationLogAdapter) ListByAppointment(ctx context.Context, appointmentID string) ([]*entities.AppointmentNotification, error) {
	query := `
		SELECT id, event_id, appointment_id, event_kind, channel, recipient, status, message_id,
		       sent_at, failed_at, error_message, retry_count, created_at, updated_at
		FROM appointment_notifications
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`
	var notifications []*entities.AppointmentNotification
	if err := a.db.SelectContext(ctx, &notifications, query, appointmentID); err != nil {
		return nil, apperrors.NewInternalError("failed to list notifications", err)
	}
	return notifications, nil
}
