package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/carebook/internal/domain/entities"
)

func TestSlotHandler_GenerateSlots(t *testing.T) {
	t.Run("applies request overrides", func(t *testing.T) {
		f := newAPIFixture(t)
		w := call(f.slotHandler.GenerateSlots, "POST", "/api/providers/prov-1/slots/generate", []string{"providerId", "prov-1"}, map[string]interface{}{
			"templates":        []string{"10:00"},
			"horizon_days":     3,
			"duration_minutes": 45,
			"mode":             "telemedicine",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var body struct {
			Slots []*entities.Slot `json:"slots"`
			Count int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Count)
		for _, slot := range body.Slots {
			assert.Equal(t, "prov-1", slot.ProviderID)
			assert.Equal(t, 45, slot.DurationMinutes)
			assert.Equal(t, entities.ConsultationModeTelemedicine, slot.Mode)
			assert.Equal(t, 10, slot.StartTime.Hour())
		}
	})

	t.Run("rejects a bad template", func(t *testing.T) {
		f := newAPIFixture(t)
		w := call(f.slotHandler.GenerateSlots, "POST", "/api/providers/prov-1/slots/generate", []string{"providerId", "prov-1"}, map[string]interface{}{
			"templates": []string{"9am"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION", errorCode(t, w))
	})
}

func TestSlotHandler_ListSlots(t *testing.T) {
	f := newAPIFixture(t)
	slots := f.generate(t, "prov-1")
	f.book(t, "prov-1", "pat-1", slots[0].ID)

	list := func(query string) []*entities.Slot {
		w := call(f.slotHandler.ListSlots, "GET", "/api/providers/prov-1/slots"+query, []string{"providerId", "prov-1"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Slots []*entities.Slot `json:"slots"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body.Slots
	}

	bookable := list("")
	require.Len(t, bookable, 3)
	assert.Equal(t, slots[1].ID, bookable[0].ID)

	assert.Len(t, list("?limit=2"), 2)
	assert.Len(t, list("?from=2026-03-03T00:00:00Z"), 2)
	assert.Len(t, list("?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z"), 1)

	w := call(f.slotHandler.ListSlots, "GET", "/api/providers/prov-1/slots?from=2026-03-03T00:00:00Z&to=2026-03-02T00:00:00Z", []string{"providerId", "prov-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(f.slotHandler.ListSlots, "GET", "/api/providers/prov-1/slots?limit=-1", []string{"providerId", "prov-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlotHandler_GetAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	slots := f.generate(t, "prov-1")
	f.book(t, "prov-1", "pat-1", slots[0].ID)

	w := call(f.slotHandler.GetSlot, "GET", "/api/slots/"+slots[0].ID, []string{"id", slots[0].ID}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var slot entities.Slot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &slot))
	assert.True(t, slot.IsBooked)

	w = call(f.slotHandler.DeleteSlot, "DELETE", "/api/slots/"+slots[0].ID, []string{"id", slots[0].ID}, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "booked slot")

	w = call(f.slotHandler.DeleteSlot, "DELETE", "/api/slots/"+slots[1].ID, []string{"id", slots[1].ID}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(f.slotHandler.GetSlot, "GET", "/api/slots/"+slots[1].ID, []string{"id", slots[1].ID}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
