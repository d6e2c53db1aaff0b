package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

const leaveDoc = `
id: leave
name: Leave request
nodes:
  - { id: start, type: start }
  - { id: approve, type: userTask, name: Approve leave, properties: { candidateGroups: managers } }
  - { id: decide, type: exclusiveGateway }
  - { id: granted, type: end }
  - { id: rejected, type: end }
flows:
  - { from: start, to: approve }
  - { from: approve, to: decide }
  - { from: decide, to: granted, condition: approved }
  - { from: decide, to: rejected }
`

// --- Helper ---

func newTestServer(t *testing.T) *Server {
	t.Helper()
	loader, err := definition.NewLoader(nil)
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	eng := engine.New(store.NewMemoryStore(), nil, engine.WithLogger(logger))
	return NewServer(Deps{Engine: eng, Loader: loader, Logger: logger})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func deployLeave(t *testing.T, s *Server) {
	t.Helper()
	result, err := s.handleDeploy(context.Background(), buildRequest("nxflow.deploy", map[string]any{"document": leaveDoc}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

func startLeave(t *testing.T, s *Server, key string) engine.InstanceView {
	t.Helper()
	result, err := s.handleStart(context.Background(), buildRequest("nxflow.start", map[string]any{
		"process_id":   "leave",
		"business_key": key,
		"variables":    map[string]any{"days": 3},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var view engine.InstanceView
	unmarshalResult(t, result, &view)
	return view
}

// --- Tests ---

func TestDeployTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDeploy(ctx, buildRequest("nxflow.deploy", map[string]any{"document": leaveDoc}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out deployResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, "leave", out.ID)
	assert.Equal(t, "Leave request", out.Name)
	assert.Equal(t, 5, out.Nodes)
	assert.Equal(t, []string{"leave"}, s.engine.DeployedIDs())
}

func TestDeployToolObject(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleDeploy(context.Background(), buildRequest("nxflow.deploy", map[string]any{
		"definition": map[string]any{
			"id": "tiny",
			"nodes": []any{
				map[string]any{"id": "start", "type": "start"},
				map[string]any{"id": "end", "type": "end"},
			},
			"flows": []any{map[string]any{"from": "start", "to": "end"}},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	def, err := s.engine.Definition("tiny")
	require.NoError(t, err)
	assert.Len(t, def.Nodes(), 2)
}

func TestDeployToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDeploy(ctx, buildRequest("nxflow.deploy", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "document or definition is required")

	result, err = s.handleDeploy(ctx, buildRequest("nxflow.deploy", map[string]any{
		"document": "id: broken\nnodes:\n  - { id: start, type: start }\nflows: []\n",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)
}

func TestStartTool(t *testing.T) {
	s := newTestServer(t)
	deployLeave(t, s)

	view := startLeave(t, s, "leave-1")
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "leave", view.ProcessID)
	assert.Equal(t, "leave-1", view.BusinessKey)
	assert.Equal(t, []string{"approve"}, view.WaitingNodes)
	assert.EqualValues(t, 3, view.Variables["days"])
}

func TestStartToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, buildRequest("nxflow.start", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "process_id is required")

	result, err = s.handleStart(ctx, buildRequest("nxflow.start", map[string]any{"process_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeDefinitionNotFound)
}

func TestClaimAndCompleteTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)
	view := startLeave(t, s, "leave-2")

	result, err := s.handleTasks(ctx, buildRequest("nxflow.tasks", map[string]any{"instance_id": view.ID}))
	require.NoError(t, err)
	var tasks []store.Task
	unmarshalResult(t, result, &tasks)
	require.Len(t, tasks, 1)
	taskID := tasks[0].ID
	assert.Equal(t, "Approve leave", tasks[0].Name)

	// Not a manager.
	result, err = s.handleClaim(ctx, buildRequest("nxflow.claim", map[string]any{
		"task_id": taskID, "user": "bob", "groups": []any{"staff"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeForbidden)

	result, err = s.handleClaim(ctx, buildRequest("nxflow.claim", map[string]any{
		"task_id": taskID, "user": "alice", "groups": []any{"managers"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var claimed store.Task
	unmarshalResult(t, result, &claimed)
	assert.Equal(t, "alice", claimed.Assignee)
	assert.Equal(t, schema.TaskStateAssigned, claimed.State)

	result, err = s.handleTasks(ctx, buildRequest("nxflow.tasks", map[string]any{"assignee": "alice", "state": "ASSIGNED"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &tasks)
	require.Len(t, tasks, 1)

	result, err = s.handleComplete(ctx, buildRequest("nxflow.complete", map[string]any{
		"task_id":   taskID,
		"variables": map[string]any{"approved": true},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var done engine.InstanceView
	unmarshalResult(t, result, &done)
	assert.True(t, done.Completed)
	assert.Equal(t, true, done.Variables["approved"])

	result, err = s.handleComplete(ctx, buildRequest("nxflow.complete", map[string]any{"task_id": taskID}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "a completed task cannot be completed again")
}

func TestClaimToolRelease(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)
	view := startLeave(t, s, "leave-3")

	tasks, err := s.engine.OpenTasks(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	result, err := s.handleClaim(ctx, buildRequest("nxflow.claim", map[string]any{"task_id": tasks[0].ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "user is required")

	_, err = s.engine.ClaimTask(ctx, tasks[0].ID, "alice", []string{"managers"})
	require.NoError(t, err)

	result, err = s.handleClaim(ctx, buildRequest("nxflow.claim", map[string]any{"task_id": tasks[0].ID, "release": true}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var released store.Task
	unmarshalResult(t, result, &released)
	assert.Empty(t, released.Assignee)
	assert.Equal(t, schema.TaskStateOpen, released.State)
}

func TestTasksToolClaimable(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)
	startLeave(t, s, "leave-4")

	result, err := s.handleTasks(ctx, buildRequest("nxflow.tasks", map[string]any{
		"claimable_by": "carol", "groups": []any{"managers"},
	}))
	require.NoError(t, err)
	var tasks []store.Task
	unmarshalResult(t, result, &tasks)
	assert.Len(t, tasks, 1)

	result, err = s.handleTasks(ctx, buildRequest("nxflow.tasks", map[string]any{"claimable_by": "dave"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &tasks)
	assert.Empty(t, tasks)

	result, err = s.handleTasks(ctx, buildRequest("nxflow.tasks", map[string]any{"state": "LOST"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)
	view := startLeave(t, s, "leave-5")

	result, err := s.handleStatus(ctx, buildRequest("nxflow.status", map[string]any{
		"instance_id": view.ID,
		"history":     true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		ID           string         `json:"id"`
		WaitingNodes []string       `json:"waiting_nodes"`
		Tasks        []store.Task   `json:"tasks"`
		History      *store.History `json:"history"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, view.ID, out.ID)
	assert.Equal(t, []string{"approve"}, out.WaitingNodes)
	require.Len(t, out.Tasks, 1)
	require.NotNil(t, out.History)
}

func TestStatusToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStatus(ctx, buildRequest("nxflow.status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleStatus(ctx, buildRequest("nxflow.status", map[string]any{"instance_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

func TestDiagramTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)
	view := startLeave(t, s, "leave-6")

	result, err := s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{"process_id": "leave"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Contains(t, extractText(t, result), "approve")

	result, err = s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{
		"process_id":  "leave",
		"instance_id": view.ID,
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "class approve waiting")

	result, err = s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{"process_id": "leave", "format": "png"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestDiagramToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	deployLeave(t, s)

	result, err := s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{"process_id": "leave", "format": "gif"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{"process_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagram(ctx, buildRequest("nxflow.diagram", map[string]any{"process_id": "leave", "instance_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
