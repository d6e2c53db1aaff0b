package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Jobs())
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Scheduler.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}
