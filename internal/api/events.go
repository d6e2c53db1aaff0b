package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/regygeorge/nx-workflow/internal/streaming"
)

// handleEvents streams committed events. ?instance= and ?types= narrow it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{
		InstanceID: r.URL.Query().Get("instance"),
		EventTypes: queryList(r, "types"),
	})
}

// handleInstanceEvents streams the events of one instance.
func (s *Server) handleInstanceEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Engine.Snapshot(r.Context(), id); err != nil {
		writeFlowError(w, err)
		return
	}
	s.serveSSE(w, r, streaming.EventFilter{InstanceID: id, EventTypes: queryList(r, "types")})
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s-%d\nevent: %s\ndata: %s\n\n", event.InstanceID, event.Sequence, event.EventType, data)
			flusher.Flush()
		}
	}
}
