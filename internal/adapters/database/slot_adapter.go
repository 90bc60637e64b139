package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

const slotsTable = "slots"

var slotColumns = []interface{}{
	"id", "provider_id", "start_time", "duration_minutes", "fee", "mode",
	"status", "is_available", "is_booked", "patient_id", "appointment_id",
	"cancelled_by", "cancellation_reason", "created_at", "updated_at",
}

// SlotAdapter implements the SlotRepository interface. Claim and Release
// are single conditional UPDATE statements so the row lock taken by
// PostgreSQL serializes competing writers.
type SlotAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSlotAdapter creates a new slot adapter
func NewSlotAdapter(client *postgres.Client) *SlotAdapter {
	return &SlotAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

var _ repositories.SlotRepository = (*SlotAdapter)(nil)

// Create stores a single slot
func (a *SlotAdapter) Create(ctx context.Context, slot *entities.Slot) error {
	return a.CreateBatch(ctx, []*entities.Slot{slot})
}

// CreateBatch stores generated slots in one INSERT
func (a *SlotAdapter) CreateBatch(ctx context.Context, slots []*entities.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, slotRecord(slot))
	}

	query, args, err := a.db.Insert(slotsTable).Rows(rows...).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err = a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("a slot in the batch already exists")
		}
		return apperrors.NewInternalError("failed to create slots", err)
	}
	return nil
}

// GetByID retrieves a slot by ID
func (a *SlotAdapter) GetByID(ctx context.Context, id string) (*entities.Slot, error) {
	query, args, err := a.db.Select(slotColumns...).
		From(slotsTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	slot, err := scanSlot(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get slot", err)
	}
	return slot, nil
}

// FindBookable returns one page of bookable slots ordered by (start_time, id)
func (a *SlotAdapter) FindBookable(ctx context.Context, filter repositories.SlotFilter) ([]*entities.Slot, error) {
	ds := a.db.Select(slotColumns...).
		From(slotsTable).
		Where(bookableCondition(filter.Now), goqu.Ex{"provider_id": filter.ProviderID})

	if !filter.From.IsZero() {
		ds = ds.Where(goqu.C("start_time").Gte(filter.From))
	}
	if !filter.To.IsZero() {
		ds = ds.Where(goqu.C("start_time").Lt(filter.To))
	}
	if filter.AfterStart != nil {
		ds = ds.Where(goqu.Or(
			goqu.C("start_time").Gt(*filter.AfterStart),
			goqu.And(
				goqu.C("start_time").Eq(*filter.AfterStart),
				goqu.C("id").Gt(filter.AfterID),
			),
		))
	}

	ds = ds.Order(goqu.I("start_time").Asc(), goqu.I("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to find bookable slots", err)
	}
	defer rows.Close()

	var slots []*entities.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan slot", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate slots", err)
	}
	return slots, nil
}

// FindByProviderAndStart returns the provider's active slot starting at start
func (a *SlotAdapter) FindByProviderAndStart(ctx context.Context, providerID string, start time.Time) (*entities.Slot, error) {
	query, args, err := a.db.Select(slotColumns...).
		From(slotsTable).
		Where(goqu.Ex{
			"provider_id": providerID,
			"start_time":  start.UTC(),
			"status":      entities.SlotStatusActive,
		}).
		Order(goqu.I("id").Asc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	slot, err := scanSlot(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no slot for provider %s at %s", providerID, start.Format(time.RFC3339)))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get slot", err)
	}
	return slot, nil
}

// Claim books the slot with a conditional UPDATE ... RETURNING. When no row
// comes back a follow-up read tells a missing slot apart from a taken one.
func (a *SlotAdapter) Claim(ctx context.Context, id string, claim repositories.SlotClaim) (*entities.Slot, error) {
	if err := claim.Validate(); err != nil {
		return nil, err
	}
	query, args, err := a.db.Update(slotsTable).
		Set(goqu.Record{
			"is_booked":           true,
			"is_available":        false,
			"patient_id":          claim.PatientID,
			"appointment_id":      claim.AppointmentID,
			"cancelled_by":        nil,
			"cancellation_reason": nil,
			"updated_at":          claim.Now,
		}).
		Where(goqu.Ex{"id": id}, bookableCondition(claim.Now)).
		Returning(slotColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build claim query", err)
	}

	slot, err := scanSlot(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := a.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.NewSlotUnavailableError(fmt.Sprintf("slot %s is no longer available", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to claim slot", err)
	}
	return slot, nil
}

// Release frees the slot if the given appointment holds it
func (a *SlotAdapter) Release(ctx context.Context, id string, release repositories.SlotRelease) (*entities.Slot, error) {
	record := goqu.Record{
		"is_booked":           false,
		"is_available":        true,
		"patient_id":          nil,
		"appointment_id":      nil,
		"cancelled_by":        nil,
		"cancellation_reason": nil,
		"updated_at":          release.Now,
	}
	if release.Cancellation {
		record["cancelled_by"] = string(release.ReleasedBy)
		if release.Reason != "" {
			record["cancellation_reason"] = release.Reason
		}
	}

	query, args, err := a.db.Update(slotsTable).
		Set(record).
		Where(goqu.Ex{
			"id":             id,
			"is_booked":      true,
			"appointment_id": release.AppointmentID,
		}).
		Returning(slotColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build release query", err)
	}

	slot, err := scanSlot(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := a.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("slot %s is not booked by appointment %s", id, release.AppointmentID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to release slot", err)
	}
	return slot, nil
}

// SetStatus updates the lifecycle status
func (a *SlotAdapter) SetStatus(ctx context.Context, id string, status entities.SlotStatus, now time.Time) error {
	query, args, err := a.db.Update(slotsTable).
		Set(goqu.Record{"status": status, "updated_at": now}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update slot status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", id))
	}
	return nil
}

// Delete removes an unbooked slot
func (a *SlotAdapter) Delete(ctx context.Context, id string) error {
	query, args, err := a.db.Delete(slotsTable).
		Where(goqu.Ex{"id": id, "is_booked": false}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to delete slot", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		if _, getErr := a.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return apperrors.NewInvalidTransitionError(fmt.Sprintf("slot %s is booked and cannot be deleted", id))
	}
	return nil
}

func bookableCondition(now time.Time) exp.Expression {
	return goqu.And(
		goqu.Ex{
			"status":       entities.SlotStatusActive,
			"is_available": true,
			"is_booked":    false,
		},
		goqu.C("start_time").Gte(now),
	)
}

func slotRecord(slot *entities.Slot) goqu.Record {
	record := goqu.Record{
		"id":                  slot.ID,
		"provider_id":         slot.ProviderID,
		"start_time":          slot.StartTime,
		"duration_minutes":    slot.DurationMinutes,
		"fee":                 slot.Fee,
		"mode":                slot.Mode,
		"status":              slot.Status,
		"is_available":        slot.IsAvailable,
		"is_booked":           slot.IsBooked,
		"patient_id":          nullable(slot.PatientID),
		"appointment_id":      nullable(slot.AppointmentID),
		"cancelled_by":        nil,
		"cancellation_reason": nullable(slot.CancellationReason),
		"created_at":          slot.CreatedAt,
		"updated_at":          slot.UpdatedAt,
	}
	if slot.CancelledBy != nil {
		record["cancelled_by"] = string(*slot.CancelledBy)
	}
	return record
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(row rowScanner) (*entities.Slot, error) {
	slot := &entities.Slot{}
	var patientID, appointmentID, cancelledBy, cancellationReason sql.NullString

	err := row.Scan(
		&slot.ID,
		&slot.ProviderID,
		&slot.StartTime,
		&slot.DurationMinutes,
		&slot.Fee,
		&slot.Mode,
		&slot.Status,
		&slot.IsAvailable,
		&slot.IsBooked,
		&patientID,
		&appointmentID,
		&cancelledBy,
		&cancellationReason,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	slot.StartTime = slot.StartTime.UTC()
	slot.PatientID = nullStringPtr(patientID)
	slot.AppointmentID = nullStringPtr(appointmentID)
	slot.CancellationReason = nullStringPtr(cancellationReason)
	if cancelledBy.Valid {
		role := entities.ActorRole(cancelledBy.String)
		slot.CancelledBy = &role
	}
	return slot, nil
}
