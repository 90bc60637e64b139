package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zatekoja/carebook/internal/api/handlers"
	"github.com/zatekoja/carebook/internal/api/middleware"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	slotHandler        *handlers.SlotHandler
	appointmentHandler *handlers.AppointmentHandler
	sseHandler         *handlers.SSEHandler

	limiter        middleware.Limiter
	allowedOrigins []string
	metricsHandler http.Handler
	metrics        *observability.Metrics
}

// NewRouter creates a new router. limiter may be nil to disable booking
// rate limits.
func NewRouter(
	slotHandler *handlers.SlotHandler,
	appointmentHandler *handlers.AppointmentHandler,
	sseHandler *handlers.SSEHandler,
	limiter middleware.Limiter,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                http.NewServeMux(),
		slotHandler:        slotHandler,
		appointmentHandler: appointmentHandler,
		sseHandler:         sseHandler,
		limiter:            limiter,
		allowedOrigins:     allowedOrigins,
		metrics:            metrics,
	}
}

// WithPrometheus exposes GET /metrics from the default Prometheus registry,
// which the OTel Prometheus exporter registers into.
func (r *Router) WithPrometheus() *Router {
	r.metricsHandler = promhttp.Handler()
	return r
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	if r.metricsHandler != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler)
	}

	// Slot endpoints
	r.mux.HandleFunc("POST /api/providers/{providerId}/slots/generate", r.slotHandler.GenerateSlots)
	r.mux.HandleFunc("GET /api/providers/{providerId}/slots", r.slotHandler.ListSlots)
	r.mux.HandleFunc("GET /api/slots/{id}", r.slotHandler.GetSlot)
	r.mux.HandleFunc("DELETE /api/slots/{id}", r.slotHandler.DeleteSlot)

	// Booking, with a per-patient attempt budget
	var book http.Handler = http.HandlerFunc(r.appointmentHandler.BookAppointment)
	if r.limiter != nil {
		book = middleware.RateLimit(r.limiter, middleware.PatientKey)(book)
	}
	r.mux.Handle("POST /api/appointments", book)

	// Appointment endpoints
	r.mux.HandleFunc("GET /api/appointments/{id}", r.appointmentHandler.GetAppointment)
	r.mux.HandleFunc("GET /api/patients/{patientId}/appointments", r.appointmentHandler.ListPatientAppointments)
	r.mux.HandleFunc("GET /api/providers/{providerId}/appointments", r.appointmentHandler.ListProviderAppointments)
	r.mux.HandleFunc("POST /api/appointments/{id}/confirm", r.appointmentHandler.ConfirmAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/cancel", r.appointmentHandler.CancelAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/complete", r.appointmentHandler.CompleteAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/no-show", r.appointmentHandler.MarkNoShow)

	// Reschedule endpoints
	r.mux.HandleFunc("POST /api/appointments/{id}/reschedule", r.appointmentHandler.RescheduleAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/reschedule/proposal", r.appointmentHandler.ProposeReschedule)
	r.mux.HandleFunc("POST /api/appointments/{id}/reschedule/decision", r.appointmentHandler.DecideReschedule)

	// SSE endpoints
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/stream/appointments/{id}", r.sseHandler.StreamAppointmentEvents)
		r.mux.HandleFunc("GET /api/stream/providers/{providerId}", r.sseHandler.StreamProviderEvents)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORS(r.allowedOrigins)(handler)

	return handler
}
