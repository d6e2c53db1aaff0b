package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/regygeorge/nx-workflow/internal/diagram"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

type processSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Nodes      int        `json:"nodes"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
}

type flowView struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

type nodeView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       process.Kind      `json:"kind"`
	TaskType   string            `json:"task_type,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Outgoing   []flowView        `json:"outgoing,omitempty"`
}

func nodeViews(def *process.Definition) []nodeView {
	nodes := def.Nodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		nv := nodeView{ID: n.ID, Name: n.Name, Kind: n.Kind, TaskType: n.TaskType}
		if len(n.Properties) > 0 {
			nv.Properties = n.Properties
		}
		for _, f := range n.Outgoing {
			nv.Outgoing = append(nv.Outgoing, flowView{ID: f.ID, To: f.To, Condition: f.Label()})
		}
		out = append(out, nv)
	}
	return out
}

// handleDeploy accepts a YAML or JSON process document.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	res, err := s.deps.Loader.Load(data)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if err := s.deps.Engine.Deploy(r.Context(), res.Definition, res.Source); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       res.Definition.ID,
		"name":     res.Definition.Name,
		"nodes":    len(res.Definition.Nodes()),
		"warnings": res.Warnings,
	})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	eng := s.deps.Engine
	out := make([]processSummary, 0)
	for _, id := range eng.DeployedIDs() {
		def, err := eng.Definition(id)
		if err != nil {
			continue
		}
		sum := processSummary{ID: def.ID, Name: def.Name, Nodes: len(def.Nodes())}
		if rec, err := eng.Process(r.Context(), id); err == nil {
			sum.DeployedAt = &rec.DeployedAt
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, err := s.deps.Engine.Definition(id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	body := map[string]any{
		"id":    def.ID,
		"name":  def.Name,
		"nodes": nodeViews(def),
	}
	if rec, err := s.deps.Engine.Process(r.Context(), id); err == nil {
		body["deployed_at"] = rec.DeployedAt
		if r.URL.Query().Get("source") == "true" {
			body["source"] = rec.Source
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDiagram renders a process, optionally overlaid with the state of the
// instance named by ?instance=.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := s.deps.Engine.Definition(chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	format, err := diagram.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var overlay *diagram.Overlay
	if instanceID := r.URL.Query().Get("instance"); instanceID != "" {
		view, err := s.deps.Engine.Snapshot(ctx, instanceID)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		if view.ProcessID != def.ID {
			writeFlowError(w, schema.NewErrorf(schema.ErrCodeValidation,
				"instance %s belongs to process %s", instanceID, view.ProcessID))
			return
		}
		hist, err := s.deps.Engine.History(ctx, instanceID)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		overlay = diagram.OverlayFor(view, hist)
	}

	model, err := diagram.Build(def, overlay)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	out, err := diagram.Render(model, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
