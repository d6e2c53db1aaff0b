package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/regygeorge/nx-workflow/internal/diagram"
	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// deployResult is returned by nxflow.deploy.
type deployResult struct {
	ID       string                   `json:"id"`
	Name     string                   `json:"name,omitempty"`
	Nodes    int                      `json:"nodes"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// statusResult is returned by nxflow.status.
type statusResult struct {
	*engine.InstanceView
	Tasks   []*store.Task  `json:"tasks"`
	History *store.History `json:"history,omitempty"`
}

// handleDeploy validates, compiles and deploys a process document.
func (s *Server) handleDeploy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data := []byte(req.GetString("document", ""))
	if len(data) == 0 {
		obj := mcp.ParseStringMap(req, "definition", nil)
		if obj == nil {
			return mcp.NewToolResultError("document or definition is required"), nil
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode definition: %v", err)), nil
		}
		data = encoded
	}

	res, err := s.loader.Load(data)
	if err != nil {
		return toolError("invalid process document", err), nil
	}
	if err := s.engine.Deploy(ctx, res.Definition, res.Source); err != nil {
		return toolError("deploy failed", err), nil
	}
	s.logger.Info("process deployed via mcp", slog.String("process_id", res.Definition.ID))

	return marshalResult(deployResult{
		ID:       res.Definition.ID,
		Name:     res.Definition.Name,
		Nodes:    len(res.Definition.Nodes()),
		Warnings: res.Warnings,
	})
}

// handleStart launches an instance of a deployed process.
func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	processID, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	businessKey := req.GetString("business_key", "")
	vars := mcp.ParseStringMap(req, "variables", nil)

	view, err := s.engine.Start(ctx, processID, businessKey, vars)
	if err != nil {
		return toolError("start failed", err), nil
	}
	return marshalResult(view)
}

// handleComplete finishes a user task.
func (s *Server) handleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	vars := mcp.ParseStringMap(req, "variables", nil)

	view, err := s.engine.CompleteUserTask(ctx, taskID, vars)
	if err != nil {
		return toolError("complete failed", err), nil
	}
	return marshalResult(view)
}

// handleClaim assigns a task to a user, or releases it when release is set.
func (s *Server) handleClaim(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	if req.GetBool("release", false) {
		task, err := s.engine.UnclaimTask(ctx, taskID)
		if err != nil {
			return toolError("release failed", err), nil
		}
		return marshalResult(task)
	}

	user := req.GetString("user", "")
	if user == "" {
		return mcp.NewToolResultError("user is required"), nil
	}
	task, err := s.engine.ClaimTask(ctx, taskID, user, req.GetStringSlice("groups", nil))
	if err != nil {
		return toolError("claim failed", err), nil
	}
	return marshalResult(task)
}

// handleStatus returns the instance snapshot with its open tasks.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	view, err := s.engine.Snapshot(ctx, instanceID)
	if err != nil {
		return toolError("status failed", err), nil
	}
	tasks, err := s.engine.OpenTasks(ctx, instanceID)
	if err != nil {
		return toolError("status failed", err), nil
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	out := statusResult{InstanceView: view, Tasks: tasks}

	if req.GetBool("history", false) {
		hist, err := s.engine.History(ctx, instanceID)
		if err != nil {
			return toolError("history failed", err), nil
		}
		out.History = hist
	}
	return marshalResult(out)
}

// handleTasks lists tasks by filter, or the tasks a user may claim.
func (s *Server) handleTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		tasks []*store.Task
		err   error
	)
	if user := req.GetString("claimable_by", ""); user != "" {
		tasks, err = s.engine.ClaimableTasks(ctx, user, req.GetStringSlice("groups", nil))
	} else {
		filter := store.TaskFilter{
			InstanceID: req.GetString("instance_id", ""),
			Assignee:   req.GetString("assignee", ""),
			Limit:      req.GetInt("limit", 100),
		}
		if raw := req.GetString("state", ""); raw != "" {
			filter.State = schema.ParseTaskState(raw)
			if filter.State == "" {
				return mcp.NewToolResultError(fmt.Sprintf("unknown state %q", raw)), nil
			}
		}
		tasks, err = s.engine.Tasks(ctx, filter)
	}
	if err != nil {
		return toolError("task query failed", err), nil
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	return marshalResult(tasks)
}

// handleDiagram renders a process in the requested format.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	processID, err := req.RequireString("process_id")
	if err != nil {
		return mcp.NewToolResultError("process_id is required"), nil
	}
	format, err := diagram.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	def, err := s.engine.Definition(processID)
	if err != nil {
		return toolError("process lookup failed", err), nil
	}

	var overlay *diagram.Overlay
	if instanceID := req.GetString("instance_id", ""); instanceID != "" {
		view, err := s.engine.Snapshot(ctx, instanceID)
		if err != nil {
			return toolError("instance lookup failed", err), nil
		}
		if view.ProcessID != def.ID {
			return mcp.NewToolResultError(fmt.Sprintf("instance %s belongs to process %s", instanceID, view.ProcessID)), nil
		}
		hist, err := s.engine.History(ctx, instanceID)
		if err != nil {
			return toolError("history failed", err), nil
		}
		overlay = diagram.OverlayFor(view, hist)
	}

	model, err := diagram.Build(def, overlay)
	if err != nil {
		return toolError("diagram build failed", err), nil
	}
	out, err := diagram.Render(model, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}
	if format.Binary() {
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// --- Helpers ---

// toolError reports a failure, keeping the FlowError code visible to the caller.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return mcp.NewToolResultError(fmt.Sprintf("%s [%s]: %s", prefix, fe.Code, fe.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
