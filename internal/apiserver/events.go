package apiserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmylchreest/hlsrec/internal/eventbus"
)

const eventsHeartbeatInterval = 30 * time.Second

// RegisterEvents mounts the raw (non-Huma) GET /v1/recordings/{id}/events
// route on router. Huma has no first-class support for an indefinitely long
// streaming response, so this endpoint is registered directly on chi,
// mirroring how the reference server separates its SSE route from its
// Huma-registered operations.
func (h *RecordingsHandler) RegisterEvents(router chi.Router) {
	router.Get("/v1/recordings/{id}/events", h.handleEvents)
}

// handleEvents streams one JSON object per line for every lifecycle event
// belonging to the recording named by the id path parameter. Only the
// currently active recording has a live event stream; requesting events for
// any other id ends the stream immediately with 404, since the bus does not
// replay history.
func (h *RecordingsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id format", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	matches := h.activeRowID == id
	recorderID := h.activeRecorderID
	h.mu.Unlock()
	if !matches {
		http.Error(w, fmt.Sprintf("recording %s is not active", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	subID, events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(subID)

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(eventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.RecorderID != "" && evt.RecorderID != recorderID {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.log.Error("marshaling event for stream", slog.Any("error", err))
				continue
			}
			if _, err := w.Write(append(payload, '\n')); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if evt.Type == eventbus.TypeStop {
				return
			}
		}
	}
}
