package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

const appointmentsTable = "appointments"

var appointmentColumns = []interface{}{
	"id", "provider_id", "patient_id", "slot_id", "scheduled_time",
	"duration_minutes", "fee", "mode", "status",
	"reason", "symptoms", "notes", "contact_phone",
	"diagnosis", "prescription", "clinical_notes",
	"cancelled_by", "cancellation_reason", "cancellation_fee",
	"confirmed_at", "completed_at", "cancelled_at",
	"pending_reschedule", "rescheduled_from",
	"version", "created_at", "updated_at",
}

// AppointmentAdapter implements the AppointmentRepository interface
type AppointmentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAppointmentAdapter creates a new appointment adapter
func NewAppointmentAdapter(client *postgres.Client) *AppointmentAdapter {
	return &AppointmentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

var _ repositories.AppointmentRepository = (*AppointmentAdapter)(nil)

// Create creates a new appointment
func (a *AppointmentAdapter) Create(ctx context.Context, appointment *entities.Appointment) error {
	if appointment.Version == 0 {
		appointment.Version = 1
	}

	record, err := appointmentRecord(appointment)
	if err != nil {
		return apperrors.NewInternalError("failed to encode appointment", err)
	}
	record["id"] = appointment.ID
	record["provider_id"] = appointment.ProviderID
	record["patient_id"] = appointment.PatientID
	record["version"] = appointment.Version
	record["created_at"] = appointment.CreatedAt

	query, args, err := a.db.Insert(appointmentsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err = a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("appointment %s conflicts with an existing booking", appointment.ID))
		}
		return apperrors.NewInternalError("failed to create appointment", err)
	}
	return nil
}

// GetByID retrieves an appointment by ID
func (a *AppointmentAdapter) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	query, args, err := a.db.Select(appointmentColumns...).
		From(appointmentsTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment, err := scanAppointment(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get appointment", err)
	}
	return appointment, nil
}

// Update writes every mutable column guarded by the version the caller
// read. On success appointment.Version is advanced to the stored value.
func (a *AppointmentAdapter) Update(ctx context.Context, appointment *entities.Appointment) error {
	record, err := appointmentRecord(appointment)
	if err != nil {
		return apperrors.NewInternalError("failed to encode appointment", err)
	}
	record["version"] = goqu.L("version + 1")

	query, args, err := a.db.Update(appointmentsTable).
		Set(record).
		Where(goqu.Ex{"id": appointment.ID, "version": appointment.Version}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("another live appointment already holds slot %s", appointment.SlotID))
		}
		return apperrors.NewInternalError("failed to update appointment", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		if _, getErr := a.GetByID(ctx, appointment.ID); getErr != nil {
			return getErr
		}
		return apperrors.NewConflictError(fmt.Sprintf("appointment %s was modified concurrently", appointment.ID))
	}

	appointment.Version++
	return nil
}

// FindLiveBySlot returns the non-terminal appointment referencing slotID
func (a *AppointmentAdapter) FindLiveBySlot(ctx context.Context, slotID string) (*entities.Appointment, error) {
	query, args, err := a.db.Select(appointmentColumns...).
		From(appointmentsTable).
		Where(goqu.Ex{
			"slot_id": slotID,
			"status": []entities.AppointmentStatus{
				entities.AppointmentStatusPending,
				entities.AppointmentStatusConfirmed,
			},
		}).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment, err := scanAppointment(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no live appointment references slot %s", slotID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get appointment", err)
	}
	return appointment, nil
}

// ListByPatient retrieves appointments for a patient
func (a *AppointmentAdapter) ListByPatient(ctx context.Context, patientID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return a.list(ctx, goqu.Ex{"patient_id": patientID}, filter)
}

// ListByProvider retrieves appointments for a provider
func (a *AppointmentAdapter) ListByProvider(ctx context.Context, providerID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	return a.list(ctx, goqu.Ex{"provider_id": providerID}, filter)
}

func (a *AppointmentAdapter) list(ctx context.Context, owner goqu.Ex, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	ds := a.db.Select(appointmentColumns...).
		From(appointmentsTable).
		Where(owner)

	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}

	if filter.From != nil {
		ds = ds.Where(goqu.C("scheduled_time").Gte(*filter.From))
	}

	if filter.To != nil {
		ds = ds.Where(goqu.C("scheduled_time").Lte(*filter.To))
	}

	ds = ds.Order(goqu.I("scheduled_time").Desc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}
	return a.query(ctx, query, args)
}

// ListStaleProposals returns appointments with an active proposal made before proposedBefore
func (a *AppointmentAdapter) ListStaleProposals(ctx context.Context, proposedBefore time.Time, limit int) ([]*entities.Appointment, error) {
	ds := a.db.Select(appointmentColumns...).
		From(appointmentsTable).
		Where(
			goqu.C("proposal_active").IsTrue(),
			goqu.C("proposal_proposed_at").Lt(proposedBefore),
		).
		Order(goqu.C("proposal_proposed_at").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build stale proposal query", err)
	}
	return a.query(ctx, query, args)
}

func (a *AppointmentAdapter) query(ctx context.Context, query string, args []interface{}) ([]*entities.Appointment, error) {
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list appointments", err)
	}
	defer rows.Close()

	var appointments []*entities.Appointment
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan appointment", err)
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate appointments", err)
	}
	return appointments, nil
}

// appointmentRecord holds the columns an Update may change
func appointmentRecord(appointment *entities.Appointment) (goqu.Record, error) {
	pending, err := jsonColumn(appointment.PendingReschedule)
	if err != nil {
		return nil, err
	}
	history, err := jsonColumn(appointment.RescheduledFrom)
	if err != nil {
		return nil, err
	}

	record := goqu.Record{
		"slot_id":              appointment.SlotID,
		"scheduled_time":       appointment.ScheduledTime,
		"duration_minutes":     appointment.DurationMinutes,
		"fee":                  appointment.Fee,
		"mode":                 appointment.Mode,
		"status":               appointment.Status,
		"reason":               appointment.Reason,
		"symptoms":             appointment.Symptoms,
		"notes":                appointment.Notes,
		"contact_phone":        appointment.ContactPhone,
		"diagnosis":            appointment.Diagnosis,
		"prescription":         appointment.Prescription,
		"clinical_notes":       appointment.ClinicalNotes,
		"cancelled_by":         nil,
		"cancellation_reason":  appointment.CancellationReason,
		"cancellation_fee":     appointment.CancellationFee,
		"confirmed_at":         nullable(appointment.ConfirmedAt),
		"completed_at":         nullable(appointment.CompletedAt),
		"cancelled_at":         nullable(appointment.CancelledAt),
		"pending_reschedule":   pending,
		"proposal_active":      appointment.HasActiveProposal(),
		"proposal_proposed_at": nil,
		"rescheduled_from":     history,
		"updated_at":           appointment.UpdatedAt,
	}
	if appointment.CancelledBy != nil {
		record["cancelled_by"] = string(*appointment.CancelledBy)
	}
	if appointment.PendingReschedule != nil {
		record["proposal_proposed_at"] = appointment.PendingReschedule.ProposedAt
	}
	return record, nil
}

func jsonColumn[T any](v *T) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanAppointment(row rowScanner) (*entities.Appointment, error) {
	appointment := &entities.Appointment{}
	var reason, symptoms, notes, contactPhone sql.NullString
	var diagnosis, prescription, clinicalNotes sql.NullString
	var cancelledBy, cancellationReason sql.NullString
	var confirmedAt, completedAt, cancelledAt sql.NullTime
	var pending, history []byte

	err := row.Scan(
		&appointment.ID,
		&appointment.ProviderID,
		&appointment.PatientID,
		&appointment.SlotID,
		&appointment.ScheduledTime,
		&appointment.DurationMinutes,
		&appointment.Fee,
		&appointment.Mode,
		&appointment.Status,
		&reason,
		&symptoms,
		&notes,
		&contactPhone,
		&diagnosis,
		&prescription,
		&clinicalNotes,
		&cancelledBy,
		&cancellationReason,
		&appointment.CancellationFee,
		&confirmedAt,
		&completedAt,
		&cancelledAt,
		&pending,
		&history,
		&appointment.Version,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	appointment.ScheduledTime = appointment.ScheduledTime.UTC()
	appointment.Reason = reason.String
	appointment.Symptoms = symptoms.String
	appointment.Notes = notes.String
	appointment.ContactPhone = contactPhone.String
	appointment.Diagnosis = diagnosis.String
	appointment.Prescription = prescription.String
	appointment.ClinicalNotes = clinicalNotes.String
	appointment.CancellationReason = cancellationReason.String
	if cancelledBy.Valid {
		role := entities.ActorRole(cancelledBy.String)
		appointment.CancelledBy = &role
	}
	appointment.ConfirmedAt = nullTimePtr(confirmedAt)
	appointment.CompletedAt = nullTimePtr(completedAt)
	appointment.CancelledAt = nullTimePtr(cancelledAt)

	if len(pending) > 0 {
		appointment.PendingReschedule = &entities.PendingReschedule{}
		if err := json.Unmarshal(pending, appointment.PendingReschedule); err != nil {
			return nil, fmt.Errorf("decode pending_reschedule: %w", err)
		}
	}
	if len(history) > 0 {
		appointment.RescheduledFrom = &entities.RescheduleHistory{}
		if err := json.Unmarshal(history, appointment.RescheduledFrom); err != nil {
			return nil, fmt.Errorf("decode rescheduled_from: %w", err)
		}
	}
	return appointment, nil
}
