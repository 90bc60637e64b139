package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/adapters/memory"
	"github.com/zatekoja/carebook/internal/api/handlers"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
)

var handlerNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type apiFixture struct {
	clock        *clock.Mock
	slots        *memory.SlotStore
	appointments *memory.AppointmentStore
	slotHandler  *handlers.SlotHandler
	handler      *handlers.AppointmentHandler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.BookingConfig{
		DailyTemplates:           []string{"09:00", "14:00"},
		HorizonDays:              2,
		DefaultDurationMinutes:   30,
		FeeMin:                   50,
		FeeMax:                   50,
		DefaultMode:              string(entities.ConsultationModeInPerson),
		ReconfirmAfterReschedule: true,
		PageSize:                 10,
		ProposalMaxAge:           72 * time.Hour,
	}
	clk := clock.NewMock(handlerNow)
	slots := memory.NewSlotStore()
	appointments := memory.NewAppointmentStore()
	notifier := providers.NopNotifier{}

	slotService := services.NewSlotService(slots, appointments, clk, cfg)
	booking := services.NewBookingService(slots, appointments, notifier, clk, nil)
	reschedule := services.NewRescheduleService(slots, appointments, notifier, clk, cfg, nil)

	return &apiFixture{
		clock:        clk,
		slots:        slots,
		appointments: appointments,
		slotHandler:  handlers.NewSlotHandler(slotService),
		handler:      handlers.NewAppointmentHandler(booking, reschedule),
	}
}

// generate creates the provider's slots and returns them in start order
func (f *apiFixture) generate(t *testing.T, providerID string) []*entities.Slot {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/providers/"+providerID+"/slots/generate", nil)
	req.SetPathValue("providerId", providerID)
	w := httptest.NewRecorder()

	f.slotHandler.GenerateSlots(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Slots []*entities.Slot `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Slots
}

func (f *apiFixture) book(t *testing.T, providerID, patientID, slotID string) *entities.Appointment {
	t.Helper()
	w := call(f.handler.BookAppointment, "POST", "/api/appointments", nil, map[string]interface{}{
		"provider_id": providerID,
		"patient_id":  patientID,
		"slot_id":     slotID,
		"details":     map[string]string{"reason": "checkup", "contact_phone": "+2348000000000"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeAppointment(t, w)
}

// call invokes handler with a JSON body and path values given as key/value pairs
func call(handler http.HandlerFunc, method, target string, pathValues []string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeAppointment(t *testing.T, w *httptest.ResponseRecorder) *entities.Appointment {
	t.Helper()
	var appt entities.Appointment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &appt))
	return &appt
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Code
}
