package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and by transactional Ports; the FSM
// emits history events through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidTaskTransitions lists the states a task may move to from each state.
var ValidTaskTransitions = map[schema.TaskState][]schema.TaskState{
	schema.TaskStateOpen:     {schema.TaskStateAssigned, schema.TaskStateCompleted},
	schema.TaskStateAssigned: {schema.TaskStateOpen, schema.TaskStateCompleted},
}

type taskHookKey struct {
	from, to schema.TaskState
}

// TaskFSM validates task state changes and records them in the instance history.
type TaskFSM struct {
	mu     sync.Mutex
	before map[taskHookKey][]TransitionHook
	after  map[taskHookKey][]TransitionHook
}

// NewTaskFSM creates a TaskFSM with no hooks.
func NewTaskFSM() *TaskFSM {
	return &TaskFSM{
		before: make(map[taskHookKey][]TransitionHook),
		after:  make(map[taskHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a task transition.
func (f *TaskFSM) OnBefore(from, to schema.TaskState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a task transition.
func (f *TaskFSM) OnAfter(from, to schema.TaskState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to for task and emits the matching event through
// appender. The caller persists the new state.
func (f *TaskFSM) Transition(ctx context.Context, appender EventAppender, task *store.Task, from, to schema.TaskState) error {
	if !slices.Contains(ValidTaskTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", from, to).
			WithDetails(map[string]any{"task_id": task.ID, "from": string(from), "to": string(to)})
	}

	f.mu.Lock()
	key := taskHookKey{from, to}
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"task_id":  task.ID,
		"from":     string(from),
		"to":       string(to),
		"assignee": task.Assignee,
	})
	event := &store.Event{
		InstanceID: task.InstanceID,
		NodeID:     task.NodeID,
		Type:       taskEventType(from, to),
		Payload:    payload,
	}
	if err := appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit task event: %s", err.Error()).WithCause(err)
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func taskEventType(from, to schema.TaskState) string {
	switch to {
	case schema.TaskStateAssigned:
		return schema.EventTaskClaimed
	case schema.TaskStateCompleted:
		return schema.EventTaskCompleted
	default:
		if from == schema.TaskStateAssigned {
			return schema.EventTaskUnclaimed
		}
		return ""
	}
}
