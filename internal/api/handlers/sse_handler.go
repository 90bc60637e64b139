package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
)

const defaultHeartbeatInterval = 30 * time.Second

// SSEHandler streams booking events to clients over Server-Sent Events
type SSEHandler struct {
	eventBus  providers.EventBus
	clients   map[string]map[chan *entities.BookingEvent]bool // channel -> clients
	mu        sync.RWMutex
	heartbeat time.Duration
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		clients:   make(map[string]map[chan *entities.BookingEvent]bool),
		heartbeat: defaultHeartbeatInterval,
	}
}

// WithHeartbeat overrides the keep-alive interval
func (h *SSEHandler) WithHeartbeat(interval time.Duration) *SSEHandler {
	if interval > 0 {
		h.heartbeat = interval
	}
	return h
}

// StreamAppointmentEvents handles GET /api/stream/appointments/{id}
func (h *SSEHandler) StreamAppointmentEvents(w http.ResponseWriter, r *http.Request) {
	appointmentID := r.PathValue("id")
	if appointmentID == "" {
		respondWithError(w, http.StatusBadRequest, "appointment ID is required")
		return
	}
	h.stream(w, r, providers.GetAppointmentChannel(appointmentID), map[string]interface{}{
		"appointment_id": appointmentID,
	})
}

// StreamProviderEvents handles GET /api/stream/providers/{providerId}
func (h *SSEHandler) StreamProviderEvents(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerId")
	if providerID == "" {
		respondWithError(w, http.StatusBadRequest, "provider ID is required")
		return
	}
	h.stream(w, r, providers.GetProviderChannel(providerID), map[string]interface{}{
		"provider_id": providerID,
	})
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, channel string, hello map[string]interface{}) {
	logger := observability.ComponentLogger(r.Context(), "sse")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithCode(w, http.StatusInternalServerError, "INTERNAL", "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("failed to subscribe")
		respondWithCode(w, http.StatusServiceUnavailable, "EXTERNAL", "event stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientChan := make(chan *entities.BookingEvent, 10)
	h.registerClient(channel, clientChan)
	defer h.unregisterClient(channel, clientChan)

	hello["timestamp"] = time.Now().UTC()
	h.sendEvent(w, "connected", hello)
	flusher.Flush()

	go h.forwardEvents(ctx, eventChan, clientChan)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("channel", channel).Msg("client disconnected")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
			flusher.Flush()
		case event, ok := <-clientChan:
			if !ok {
				return
			}
			h.sendEvent(w, string(event.Kind), event)
			flusher.Flush()
		}
	}
}

// forwardEvents copies bus events to the client until either side ends.
// clientChan is closed on return.
func (h *SSEHandler) forwardEvents(ctx context.Context, eventChan <-chan *entities.BookingEvent, clientChan chan<- *entities.BookingEvent) {
	defer close(clientChan)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			select {
			case clientChan <- event:
			default:
				// slow client
			}
		}
	}
}

func (h *SSEHandler) registerClient(channel string, clientChan chan *entities.BookingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[chan *entities.BookingEvent]bool)
	}
	h.clients[channel][clientChan] = true
}

func (h *SSEHandler) unregisterClient(channel string, clientChan chan *entities.BookingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.clients[channel]; exists {
		delete(clients, clientChan)
		if len(clients) == 0 {
			delete(h.clients, channel)
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		observability.GetLogger().Error().Err(err).Str("event", eventType).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
