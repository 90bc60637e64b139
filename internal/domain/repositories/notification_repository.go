package repositories

import (
	"context"

	"github.com/zatekoja/carebook/internal/domain/entities"
)

// NotificationLogRepository records delivery attempts of booking events
type NotificationLogRepository interface {
	Create(ctx context.Context, notification *entities.AppointmentNotification) error
	Update(ctx context.Context, notification *entities.AppointmentNotification) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]*entities.AppointmentNotification, error)
}
