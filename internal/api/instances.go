package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BusinessKey string         `json:"business_key"`
		Variables   map[string]any `json:"variables"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.deps.Engine.Start(r.Context(), chi.URLParam(r, "id"), body.BusinessKey, body.Variables)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InstanceFilter{
		ProcessID:   q.Get("process_id"),
		BusinessKey: q.Get("business_key"),
		Limit:       queryInt(r, "limit", 100),
	}
	switch st := schema.InstanceStatus(q.Get("status")); st {
	case "":
	case schema.InstanceStatusRunning, schema.InstanceStatusCompleted:
		filter.Status = st
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", st))
		return
	}
	instances, err := s.deps.Engine.Instances(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if instances == nil {
		instances = []*store.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Engine.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInstanceTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Engine.OpenTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeTasks(w, tasks)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Engine.Snapshot(ctx, id); err != nil {
		writeFlowError(w, err)
		return
	}
	hist, err := s.deps.Engine.History(ctx, id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
