package store

import (
	"encoding/json"
	"time"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Process is the durable record of a deployed definition.
type Process struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Source     string    `json:"source,omitempty"`
	DeployedAt time.Time `json:"deployed_at"`
}

// Instance is one execution of a deployed process.
type Instance struct {
	ID          string                `json:"id"`
	ProcessID   string                `json:"process_id"`
	BusinessKey string                `json:"business_key,omitempty"`
	Status      schema.InstanceStatus `json:"status"`
	Variables   map[string]any        `json:"variables"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// Token marks a position of execution inside an instance.
type Token struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Task is a unit of human work opened when a token reaches a user task.
type Task struct {
	ID              string           `json:"id"`
	InstanceID      string           `json:"instance_id"`
	NodeID          string           `json:"node_id"`
	Name            string           `json:"name"`
	FormKey         string           `json:"form_key,omitempty"`
	State           schema.TaskState `json:"state"`
	Assignee        string           `json:"assignee,omitempty"`
	CandidateUsers  []string         `json:"candidate_users,omitempty"`
	CandidateGroups []string         `json:"candidate_groups,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	DueAt           *time.Time       `json:"due_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Open reports whether the task still blocks its instance.
func (t *Task) Open() bool {
	return t.State == schema.TaskStateOpen || t.State == schema.TaskStateAssigned
}

// NewTask carries the fields needed to open a task.
type NewTask struct {
	InstanceID      string
	NodeID          string
	Name            string
	FormKey         string
	CandidateUsers  []string
	CandidateGroups []string
}

// Event is an immutable entry in an instance's history.
type Event struct {
	ID         int64           `json:"id"`
	InstanceID string          `json:"instance_id"`
	NodeID     string          `json:"node_id,omitempty"`
	TokenID    string          `json:"token_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// --- Filter types ---

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	InstanceID string
	Assignee   string
	State      schema.TaskState
	Limit      int
}

// InstanceFilter narrows ListInstances.
type InstanceFilter struct {
	ProcessID   string
	BusinessKey string
	Status      schema.InstanceStatus
	Limit       int
}
