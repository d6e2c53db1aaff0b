package schema

import "strings"

// Event type constants for the instance history log.
const (
	EventInstanceStarted   = "instance_started"
	EventInstanceCompleted = "instance_completed"

	EventTokenCreated  = "token_created"
	EventTokenMoved    = "token_moved"
	EventTokenConsumed = "token_consumed"

	EventServiceExecuted = "service_executed"
	EventJoinArrived     = "join_arrived"
	EventJoinReleased    = "join_released"
	EventVariablesMerged = "variables_merged"

	EventTaskCreated   = "task_created"
	EventTaskClaimed   = "task_claimed"
	EventTaskUnclaimed = "task_unclaimed"
	EventTaskCompleted = "task_completed"
)

// InstanceStatus represents the lifecycle state of a process instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "RUNNING"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
)

// TaskState represents the lifecycle state of a human task.
type TaskState string

const (
	TaskStateOpen      TaskState = "OPEN"
	TaskStateAssigned  TaskState = "ASSIGNED"
	TaskStateCompleted TaskState = "COMPLETED"
)

// ParseTaskState maps a case-insensitive name to a TaskState. Unknown names yield "".
func ParseTaskState(s string) TaskState {
	switch st := TaskState(strings.ToUpper(strings.TrimSpace(s))); st {
	case TaskStateOpen, TaskStateAssigned, TaskStateCompleted:
		return st
	}
	return ""
}
