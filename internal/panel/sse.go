package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/pkg/schema"
)

// handleSSERun streams the events of one run. The stream opens with a
// snapshot of the run and closes after a terminal event.
func (s *PanelServer) handleSSERun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), streaming.Filter{RunID: runID})
	if err != nil {
		s.log(r).Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	// Subscribe before the snapshot so no event falls between the two.
	view, err := s.deps.Runner.Status(r.Context(), runID, false)
	if err != nil {
		writeImpactError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeSSE(w, "snapshot", view)
	flusher.Flush()
	if view.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event.EventType, event)
			flusher.Flush()
			if schema.RunStatus(event.Status).Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
