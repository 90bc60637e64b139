package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

const maxSlotPageLimit = 200

// SlotService defines the slot operations exposed over HTTP
type SlotService interface {
	Generate(ctx context.Context, req services.GenerateSlotsRequest) ([]*entities.Slot, error)
	ListBookable(ctx context.Context, providerID string, from, to time.Time, limit int) ([]*entities.Slot, error)
	Get(ctx context.Context, id string) (*entities.Slot, error)
	Delete(ctx context.Context, id string) error
}

// SlotHandler handles slot requests
type SlotHandler struct {
	service SlotService
}

// NewSlotHandler creates a new slot handler
func NewSlotHandler(service SlotService) *SlotHandler {
	return &SlotHandler{service: service}
}

// GenerateSlots handles POST /api/providers/{providerId}/slots/generate
func (h *SlotHandler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerId")
	if providerID == "" {
		respondWithError(w, http.StatusBadRequest, "provider ID is required")
		return
	}

	var req services.GenerateSlotsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
	}
	req.ProviderID = providerID

	slots, err := h.service.Generate(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	})
}

// ListSlots handles GET /api/providers/{providerId}/slots?from=&to=&limit=
func (h *SlotHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerId")
	if providerID == "" {
		respondWithError(w, http.StatusBadRequest, "provider ID is required")
		return
	}

	from, _, err := parseTimeParam(r, "from")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid from date format (use RFC3339)")
		return
	}
	to, hasTo, err := parseTimeParam(r, "to")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid to date format (use RFC3339)")
		return
	}
	if hasTo && !from.IsZero() && !to.After(from) {
		respondWithError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	limit, err := parseIntParam(r, "limit", 50)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if limit == 0 || limit > maxSlotPageLimit {
		limit = maxSlotPageLimit
	}

	slots, err := h.service.ListBookable(r.Context(), providerID, from, to, limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	})
}

// GetSlot handles GET /api/slots/{id}
func (h *SlotHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "slot ID is required")
		return
	}

	slot, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, slot)
}

// DeleteSlot handles DELETE /api/slots/{id}
func (h *SlotHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithAppError(w, r, apperrors.NewValidationError("slot ID is required"))
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
