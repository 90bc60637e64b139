package services

import (
	"context"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// Upper bounds on one generation request
const (
	MaxHorizonDays    = 366
	MaxDailyTemplates = 96
)

// GenerateSlotsRequest describes a batch of slots for one provider. Zero
// values fall back to the booking configuration.
type GenerateSlotsRequest struct {
	ProviderID      string                    `json:"provider_id"`
	FromDate        time.Time                 `json:"from_date"`
	HorizonDays     int                       `json:"horizon_days"`
	Templates       []string                  `json:"templates"`
	DurationMinutes int                       `json:"duration_minutes"`
	FeeMin          *float64                  `json:"fee_min"`
	FeeMax          *float64                  `json:"fee_max"`
	Mode            entities.ConsultationMode `json:"mode"`
}

// SlotService generates, lists and administers provider slots
type SlotService struct {
	slots        repositories.SlotRepository
	appointments repositories.AppointmentRepository
	clock        clock.Clock
	cfg          config.BookingConfig
	feeFn        func(min, max float64) float64
}

// NewSlotService creates a new slot service
func NewSlotService(
	slots repositories.SlotRepository,
	appointments repositories.AppointmentRepository,
	clk clock.Clock,
	cfg config.BookingConfig,
) *SlotService {
	return &SlotService{
		slots:        slots,
		appointments: appointments,
		clock:        clk,
		cfg:          cfg,
		feeFn:        randomFee,
	}
}

// WithFeeSource replaces the fee draw, mostly for deterministic tests
func (s *SlotService) WithFeeSource(fn func(min, max float64) float64) *SlotService {
	s.feeFn = fn
	return s
}

func randomFee(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rand.Float64()*(max-min)
}

// Generate creates one slot per business day and template time, starting
// at FromDate's calendar day (UTC) and spanning HorizonDays business days.
// Template instants already in the past are skipped. No deduplication
// against existing slots is attempted.
func (s *SlotService) Generate(ctx context.Context, req GenerateSlotsRequest) ([]*entities.Slot, error) {
	if strings.TrimSpace(req.ProviderID) == "" {
		return nil, apperrors.NewValidationError("provider id is required")
	}

	horizon := req.HorizonDays
	if horizon == 0 {
		horizon = s.cfg.HorizonDays
	}
	if horizon < 0 {
		return nil, apperrors.NewValidationError("horizon days must be positive")
	}
	if horizon > MaxHorizonDays {
		return nil, apperrors.NewValidationError(fmt.Sprintf("horizon days %d exceeds %d", horizon, MaxHorizonDays))
	}

	templates := req.Templates
	if len(templates) == 0 {
		templates = s.cfg.DailyTemplates
	}
	if len(templates) > MaxDailyTemplates {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%d daily templates exceeds %d", len(templates), MaxDailyTemplates))
	}
	offsets, err := parseTemplates(templates)
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultDurationMinutes
	}
	feeMin, feeMax := s.cfg.FeeMin, s.cfg.FeeMax
	if req.FeeMin != nil {
		feeMin = *req.FeeMin
	}
	if req.FeeMax != nil {
		feeMax = *req.FeeMax
	}
	if feeMax < feeMin {
		return nil, apperrors.NewValidationError(fmt.Sprintf("fee range [%v, %v] is empty", feeMin, feeMax))
	}
	mode := req.Mode
	if mode == "" {
		mode = entities.ConsultationMode(s.cfg.DefaultMode)
	}
	if err := entities.ValidateSlotTerms(duration, feeMin, mode); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	from := req.FromDate
	if from.IsZero() {
		from = now
	}
	day := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)

	var slots []*entities.Slot
	for businessDays := 0; businessDays < horizon; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		businessDays++

		for _, offset := range offsets {
			start := day.Add(offset)
			if start.Before(now) {
				continue
			}
			fee := math.Round(s.feeFn(feeMin, feeMax)*100) / 100
			slot, err := entities.NewSlot(uuid.New().String(), req.ProviderID, start, duration, fee, mode, now)
			if err != nil {
				return nil, err
			}
			slots = append(slots, slot)
		}
	}

	if len(slots) == 0 {
		return slots, nil
	}
	if err := s.slots.CreateBatch(ctx, slots); err != nil {
		return nil, err
	}

	observability.ComponentLogger(ctx, "slots").Info().
		Str("provider_id", req.ProviderID).
		Int("count", len(slots)).
		Msg("generated slots")
	return slots, nil
}

// parseTemplates converts "HH:MM" strings to offsets from midnight
func parseTemplates(templates []string) ([]time.Duration, error) {
	offsets := make([]time.Duration, 0, len(templates))
	for _, tpl := range templates {
		t, err := time.Parse("15:04", strings.TrimSpace(tpl))
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("invalid time template %q, expected HH:MM", tpl))
		}
		offsets = append(offsets, time.Duration(t.Hour())*time.Hour+time.Duration(t.Minute())*time.Minute)
	}
	return offsets, nil
}

// FindBookable returns a lazy sequence of the provider's bookable slots
// starting in [from, to), ordered by start time then id. A zero to means no
// upper bound. Each range over the sequence re-queries from the start, one
// page at a time.
func (s *SlotService) FindBookable(ctx context.Context, providerID string, from, to time.Time) iter.Seq2[*entities.Slot, error] {
	pageSize := s.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return func(yield func(*entities.Slot, error) bool) {
		filter := repositories.SlotFilter{
			ProviderID: providerID,
			From:       from,
			To:         to,
			Now:        s.clock.Now(),
			Limit:      pageSize,
		}
		for {
			page, err := s.slots.FindBookable(ctx, filter)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, slot := range page {
				if !yield(slot, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			after := last.StartTime
			filter.AfterStart = &after
			filter.AfterID = last.ID
		}
	}
}

// ListBookable collects at most limit slots from FindBookable
func (s *SlotService) ListBookable(ctx context.Context, providerID string, from, to time.Time, limit int) ([]*entities.Slot, error) {
	slots := make([]*entities.Slot, 0)
	for slot, err := range s.FindBookable(ctx, providerID, from, to) {
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
		if limit > 0 && len(slots) >= limit {
			break
		}
	}
	return slots, nil
}

// Get retrieves a slot by ID
func (s *SlotService) Get(ctx context.Context, id string) (*entities.Slot, error) {
	return s.slots.GetByID(ctx, id)
}

// Release frees a booked slot whose holding appointment no longer
// references it. A slot still held by a live appointment cannot be
// released here; cancel or reschedule the appointment instead.
func (s *SlotService) Release(ctx context.Context, slotID string, releasedBy entities.ActorRole, reason string) (*entities.Slot, error) {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !slot.IsBooked || slot.AppointmentID == nil {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("slot %s is not booked", slotID))
	}
	if err := s.ensureNotReferenced(ctx, slotID); err != nil {
		return nil, err
	}

	return s.slots.Release(ctx, slotID, repositories.SlotRelease{
		AppointmentID: *slot.AppointmentID,
		ReleasedBy:    releasedBy,
		Reason:        reason,
		Cancellation:  true,
		Now:           s.clock.Now(),
	})
}

// Delete removes an unbooked slot no live appointment references
func (s *SlotService) Delete(ctx context.Context, slotID string) error {
	if err := s.ensureNotReferenced(ctx, slotID); err != nil {
		return err
	}
	return s.slots.Delete(ctx, slotID)
}

// MarkStatus moves the slot's lifecycle status along with its appointment
func (s *SlotService) MarkStatus(ctx context.Context, slotID string, status entities.SlotStatus) error {
	return s.slots.SetStatus(ctx, slotID, status, s.clock.Now())
}

func (s *SlotService) ensureNotReferenced(ctx context.Context, slotID string) error {
	appt, err := s.appointments.FindLiveBySlot(ctx, slotID)
	if err == nil {
		return apperrors.NewInvalidTransitionError(fmt.Sprintf(
			"slot %s is referenced by %s appointment %s", slotID, appt.Status, appt.ID))
	}
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil
	}
	return err
}
