package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/adapters/memory"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
)

// testNow is a Monday
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		DailyTemplates:           []string{"09:00", "14:00"},
		HorizonDays:              5,
		DefaultDurationMinutes:   30,
		FeeMin:                   40,
		FeeMax:                   60,
		DefaultMode:              string(entities.ConsultationModeInPerson),
		ReconfirmAfterReschedule: true,
		PageSize:                 2,
		ProposalMaxAge:           72 * time.Hour,
	}
}

// recordingNotifier captures events synchronously
type recordingNotifier struct {
	mu     sync.Mutex
	events []*entities.BookingEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event *entities.BookingEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []entities.BookingEventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]entities.BookingEventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

func (n *recordingNotifier) last() *entities.BookingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	return n.events[len(n.events)-1]
}

type fixture struct {
	clock        *clock.Mock
	slots        *memory.SlotStore
	appointments *memory.AppointmentStore
	notifier     *recordingNotifier
	cfg          config.BookingConfig
	slotService  *services.SlotService
	booking      *services.BookingService
	reschedule   *services.RescheduleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, testBookingConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.BookingConfig) *fixture {
	t.Helper()
	f := &fixture{
		clock:        clock.NewMock(testNow),
		slots:        memory.NewSlotStore(),
		appointments: memory.NewAppointmentStore(),
		notifier:     &recordingNotifier{},
		cfg:          cfg,
	}
	f.slotService = services.NewSlotService(f.slots, f.appointments, f.clock, cfg)
	f.booking = services.NewBookingService(f.slots, f.appointments, f.notifier, f.clock, nil)
	f.reschedule = services.NewRescheduleService(f.slots, f.appointments, f.notifier, f.clock, cfg, nil)
	return f
}

func (f *fixture) seedSlot(t *testing.T, id string, start time.Time) *entities.Slot {
	t.Helper()
	return f.seedProviderSlot(t, id, "prov-1", start)
}

func (f *fixture) seedProviderSlot(t *testing.T, id, providerID string, start time.Time) *entities.Slot {
	t.Helper()
	slot, err := entities.NewSlot(id, providerID, start, 30, 45, entities.ConsultationModeInPerson, testNow)
	require.NoError(t, err)
	require.NoError(t, f.slots.Create(context.Background(), slot))
	return slot
}

func (f *fixture) book(t *testing.T, slotID string) *entities.Appointment {
	t.Helper()
	appt, err := f.booking.Book(context.Background(), services.BookingRequest{
		ProviderID: "prov-1",
		PatientID:  "pat-1",
		SlotID:     slotID,
		Details:    entities.BookingDetails{Reason: "checkup", ContactPhone: "+2348000000000"},
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) bookConfirmed(t *testing.T, slotID string) *entities.Appointment {
	t.Helper()
	appt := f.book(t, slotID)
	confirmed, err := f.booking.Confirm(context.Background(), appt.ID, entities.ActorProvider)
	require.NoError(t, err)
	return confirmed
}

func (f *fixture) slot(t *testing.T, id string) *entities.Slot {
	t.Helper()
	slot, err := f.slots.GetByID(context.Background(), id)
	require.NoError(t, err)
	return slot
}

func (f *fixture) appointment(t *testing.T, id string) *entities.Appointment {
	t.Helper()
	appt, err := f.appointments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return appt
}

// requireConsistent checks every stored slot and that each live
// appointment holds its slot at the right time
func (f *fixture) requireConsistent(t *testing.T, appointmentIDs ...string) {
	t.Helper()
	for _, slot := range f.slots.All() {
		require.NoError(t, slot.CheckConsistency())
	}
	for _, id := range appointmentIDs {
		appt := f.appointment(t, id)
		if !appt.IsLive() {
			continue
		}
		slot := f.slot(t, appt.SlotID)
		require.True(t, slot.HeldBy(appt.ID), "slot %s not held by %s", slot.ID, appt.ID)
		require.True(t, slot.StartTime.Equal(appt.ScheduledTime))
	}
}

// MockNotificationLogRepository mocks repositories.NotificationLogRepository
type MockNotificationLogRepository struct {
	mock.Mock
}

func (m *MockNotificationLogRepository) Create(ctx context.Context, n *entities.AppointmentNotification) error {
	copied := *n
	args := m.Called(ctx, &copied)
	return args.Error(0)
}

func (m *MockNotificationLogRepository) Update(ctx context.Context, n *entities.AppointmentNotification) error {
	copied := *n
	args := m.Called(ctx, &copied)
	return args.Error(0)
}

func (m *MockNotificationLogRepository) ListByAppointment(ctx context.Context, appointmentID string) ([]*entities.AppointmentNotification, error) {
	args := m.Called(ctx, appointmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.AppointmentNotification), args.Error(1)
}
