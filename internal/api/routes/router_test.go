package routes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/adapters/memory"
	"github.com/zatekoja/carebook/internal/api/handlers"
	"github.com/zatekoja/carebook/internal/api/routes"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.BookingConfig{
		DailyTemplates:           []string{"09:00"},
		HorizonDays:              1,
		DefaultDurationMinutes:   30,
		FeeMin:                   20,
		FeeMax:                   20,
		DefaultMode:              string(entities.ConsultationModePhone),
		ReconfirmAfterReschedule: true,
		PageSize:                 10,
	}
	clk := clock.NewMock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	slots := memory.NewSlotStore()
	appointments := memory.NewAppointmentStore()
	notifier := providers.NopNotifier{}

	limiter := services.NewAttemptLimiter(memory.NewCounterStore(clk), config.RateLimitConfig{
		Enabled:     true,
		MaxAttempts: 1,
		Window:      time.Minute,
	}, nil)

	router := routes.NewRouter(
		handlers.NewSlotHandler(services.NewSlotService(slots, appointments, clk, cfg)),
		handlers.NewAppointmentHandler(
			services.NewBookingService(slots, appointments, notifier, clk, nil),
			services.NewRescheduleService(slots, appointments, notifier, clk, cfg, nil),
		),
		handlers.NewSSEHandler(memory.NewEventBus()),
		limiter,
		[]string{"*"},
		nil,
	).WithPrometheus()

	server := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_BookingFlow(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/providers/prov-1/slots/generate", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var generated struct {
		Slots []*entities.Slot `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&generated))
	require.Len(t, generated.Slots, 1)
	slotID := generated.Slots[0].ID

	resp = postJSON(t, server.URL+"/api/appointments", map[string]string{
		"provider_id": "prov-1",
		"patient_id":  "pat-1",
		"slot_id":     slotID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var appt entities.Appointment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&appt))

	resp = postJSON(t, server.URL+"/api/appointments", map[string]string{
		"provider_id": "prov-1",
		"patient_id":  "pat-1",
		"slot_id":     slotID,
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "second attempt inside the window")

	resp = postJSON(t, server.URL+"/api/appointments/"+appt.ID+"/confirm", map[string]string{"actor": "provider"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(server.URL + "/api/appointments/" + appt.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	require.NoError(t, json.NewDecoder(get.Body).Decode(&appt))
	assert.Equal(t, entities.AppointmentStatusConfirmed, appt.Status)
}

func TestRouter_Ambient(t *testing.T) {
	server := newTestServer(t)

	health, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metrics, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	missing, err := http.Get(server.URL + "/api/appointments/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	wrongMethod, err := http.Get(server.URL + "/api/appointments")
	require.NoError(t, err)
	defer wrongMethod.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.StatusCode)
}
