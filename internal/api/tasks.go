package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func writeTasks(w http.ResponseWriter, tasks []*store.Task) {
	if tasks == nil {
		tasks = []*store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleListTasks filters by assignee, instance_id and state; state defaults to OPEN.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		InstanceID: q.Get("instance_id"),
		Assignee:   q.Get("assignee"),
		Limit:      queryInt(r, "limit", 100),
	}
	if raw := q.Get("state"); raw != "" {
		filter.State = schema.ParseTaskState(raw)
		if filter.State == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", raw))
			return
		}
	}
	tasks, err := s.deps.Engine.Tasks(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeTasks(w, tasks)
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	tasks, err := s.deps.Engine.ClaimableTasks(r.Context(), user, queryList(r, "groups"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeTasks(w, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Engine.Task(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Variables map[string]any `json:"variables"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.deps.Engine.CompleteUserTask(r.Context(), chi.URLParam(r, "id"), body.Variables)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User   string   `json:"user"`
		Groups []string `json:"groups"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.deps.Engine.ClaimTask(r.Context(), chi.URLParam(r, "id"), body.User, body.Groups)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUnclaim(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Engine.UnclaimTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDueDate sets or, with a null due_at, clears a task's due date.
func (s *Server) handleDueDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DueAt *time.Time `json:"due_at"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.deps.Engine.SetTaskDueDate(r.Context(), chi.URLParam(r, "id"), body.DueAt)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
