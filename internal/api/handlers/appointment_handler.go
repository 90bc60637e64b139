package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// BookingService defines the booking and lifecycle operations
type BookingService interface {
	Book(ctx context.Context, req services.BookingRequest) (*entities.Appointment, error)
	Get(ctx context.Context, id string) (*entities.Appointment, error)
	ListForPatient(ctx context.Context, patientID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error)
	ListForProvider(ctx context.Context, providerID string, filter repositories.AppointmentFilter) ([]*entities.Appointment, error)
	Confirm(ctx context.Context, id string, actor entities.ActorRole) (*entities.Appointment, error)
	Cancel(ctx context.Context, id string, actor entities.ActorRole, reason string, fee float64) (*entities.Appointment, error)
	Complete(ctx context.Context, id string, actor entities.ActorRole, meta entities.TransitionMetadata) (*entities.Appointment, error)
	MarkNoShow(ctx context.Context, id string, actor entities.ActorRole) (*entities.Appointment, error)
}

// RescheduleService defines the reschedule operations
type RescheduleService interface {
	Reschedule(ctx context.Context, req services.RescheduleRequest) (*entities.Appointment, error)
	Propose(ctx context.Context, req services.ProposalRequest) (*entities.Appointment, error)
	Decide(ctx context.Context, req services.DecisionRequest) (*entities.Appointment, error)
}

// AppointmentHandler handles appointment requests
type AppointmentHandler struct {
	bookings    BookingService
	reschedules RescheduleService
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(bookings BookingService, reschedules RescheduleService) *AppointmentHandler {
	return &AppointmentHandler{
		bookings:    bookings,
		reschedules: reschedules,
	}
}

// transitionRequest is the body shared by the lifecycle endpoints
type transitionRequest struct {
	Actor entities.ActorRole `json:"actor"`
	entities.TransitionMetadata
	Reason string `json:"reason,omitempty"`
}

// BookAppointment handles POST /api/appointments
func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req services.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	appointment, err := h.bookings.Book(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, appointment)
}

// GetAppointment handles GET /api/appointments/{id}
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "appointment ID is required")
		return
	}

	appointment, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// ListPatientAppointments handles GET /api/patients/{patientId}/appointments
func (h *AppointmentHandler) ListPatientAppointments(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.PathValue("patientId"), h.bookings.ListForPatient)
}

// ListProviderAppointments handles GET /api/providers/{providerId}/appointments
func (h *AppointmentHandler) ListProviderAppointments(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.PathValue("providerId"), h.bookings.ListForProvider)
}

func (h *AppointmentHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	ownerID string,
	fetch func(context.Context, string, repositories.AppointmentFilter) ([]*entities.Appointment, error),
) {
	if ownerID == "" {
		respondWithError(w, http.StatusBadRequest, "owner ID is required")
		return
	}

	filter, err := appointmentFilterFrom(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	appointments, err := fetch(r.Context(), ownerID, filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"appointments": appointments,
		"count":        len(appointments),
	})
}

func appointmentFilterFrom(r *http.Request) (repositories.AppointmentFilter, error) {
	var filter repositories.AppointmentFilter

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = entities.AppointmentStatus(status)
	}
	from, ok, err := parseTimeParam(r, "from")
	if err != nil {
		return filter, apperrors.NewValidationError("invalid from date format (use RFC3339)")
	}
	if ok {
		filter.From = &from
	}
	to, ok, err := parseTimeParam(r, "to")
	if err != nil {
		return filter, apperrors.NewValidationError("invalid to date format (use RFC3339)")
	}
	if ok {
		filter.To = &to
	}
	if filter.Limit, err = parseIntParam(r, "limit", 50); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

// ConfirmAppointment handles POST /api/appointments/{id}/confirm
func (h *AppointmentHandler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req transitionRequest) (*entities.Appointment, error) {
		return h.bookings.Confirm(ctx, id, req.Actor)
	})
}

// CancelAppointment handles POST /api/appointments/{id}/cancel
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req transitionRequest) (*entities.Appointment, error) {
		reason := req.CancellationReason
		if reason == "" {
			reason = req.Reason
		}
		return h.bookings.Cancel(ctx, id, req.Actor, reason, req.CancellationFee)
	})
}

// CompleteAppointment handles POST /api/appointments/{id}/complete
func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req transitionRequest) (*entities.Appointment, error) {
		return h.bookings.Complete(ctx, id, req.Actor, req.TransitionMetadata)
	})
}

// MarkNoShow handles POST /api/appointments/{id}/no-show
func (h *AppointmentHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req transitionRequest) (*entities.Appointment, error) {
		return h.bookings.MarkNoShow(ctx, id, req.Actor)
	})
}

func (h *AppointmentHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(context.Context, string, transitionRequest) (*entities.Appointment, error),
) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "appointment ID is required")
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	appointment, err := apply(r.Context(), id, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// RescheduleAppointment handles POST /api/appointments/{id}/reschedule
func (h *AppointmentHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req services.RescheduleRequest
	if !h.decodeFor(w, r, &req) {
		return
	}
	req.AppointmentID = r.PathValue("id")

	appointment, err := h.reschedules.Reschedule(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// ProposeReschedule handles POST /api/appointments/{id}/reschedule/proposal
func (h *AppointmentHandler) ProposeReschedule(w http.ResponseWriter, r *http.Request) {
	var req services.ProposalRequest
	if !h.decodeFor(w, r, &req) {
		return
	}
	req.AppointmentID = r.PathValue("id")

	appointment, err := h.reschedules.Propose(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, appointment)
}

// DecideReschedule handles POST /api/appointments/{id}/reschedule/decision
func (h *AppointmentHandler) DecideReschedule(w http.ResponseWriter, r *http.Request) {
	var req services.DecisionRequest
	if !h.decodeFor(w, r, &req) {
		return
	}
	req.AppointmentID = r.PathValue("id")

	appointment, err := h.reschedules.Decide(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

func (h *AppointmentHandler) decodeFor(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.PathValue("id") == "" {
		respondWithError(w, http.StatusBadRequest, "appointment ID is required")
		return false
	}
	if err := decodeJSON(r, dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}
