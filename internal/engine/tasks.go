package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/regygeorge/nx-workflow/internal/logging"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// ClaimTask assigns an open, unassigned task to user. A user who is not among
// the task's candidates (directly or through groups) is refused with FORBIDDEN;
// losing a race against another claim yields CONFLICT.
func (e *Engine) ClaimTask(ctx context.Context, taskID, user string, groups []string) (*store.Task, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "user is required to claim a task")
	}
	claimed, err := e.assign(ctx, taskID, schema.TaskStateOpen, schema.TaskStateAssigned, user,
		func(task *store.Task) error {
			if !store.CanClaim(task, user, groups) {
				return schema.NewErrorf(schema.ErrCodeForbidden, "user %q is not a candidate for task %s", user, task.ID).
					WithDetails(map[string]any{"task_id": task.ID, "user": user})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	ctx = logging.WithNodeID(logging.WithInstanceID(ctx, claimed.InstanceID), claimed.NodeID)
	logging.LogWith(ctx, e.logger).Info("task claimed",
		slog.String("task_id", claimed.ID),
		slog.String("assignee", user))
	return claimed, nil
}

// UnclaimTask returns an assigned task to the open pool.
func (e *Engine) UnclaimTask(ctx context.Context, taskID string) (*store.Task, error) {
	task, err := e.assign(ctx, taskID, schema.TaskStateAssigned, schema.TaskStateOpen, "", nil)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithNodeID(logging.WithInstanceID(ctx, task.InstanceID), task.NodeID)
	logging.LogWith(ctx, e.logger).Info("task unclaimed", slog.String("task_id", task.ID))
	return task, nil
}

// assign moves a task between OPEN and ASSIGNED in one transaction: the state
// check, the FSM hooks, the history event and the conditional update commit
// together or not at all.
func (e *Engine) assign(ctx context.Context, taskID string, from, to schema.TaskState, assignee string,
	check func(task *store.Task) error,
) (*store.Task, error) {
	var (
		out       *store.Task
		processID string
		recorded  []*store.Event
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, port store.Port) error {
		tx := &recordingPort{Port: port}
		defer func() { recorded = tx.events }()

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.State != from || (from == schema.TaskStateOpen && task.Assignee != "") {
			return schema.NewErrorf(schema.ErrCodeConflict, "task %s is already %s", task.ID, task.State).
				WithNode(task.NodeID).
				WithDetails(map[string]any{"task_id": task.ID, "state": string(task.State)})
		}
		if check != nil {
			if err := check(task); err != nil {
				return err
			}
		}
		inst, err := tx.GetInstance(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		processID = inst.ProcessID

		task.Assignee = assignee
		if err := e.fsm.Transition(ctx, tx, task, from, to); err != nil {
			return err
		}
		if to == schema.TaskStateAssigned {
			out, err = tx.ClaimTask(ctx, task.ID, assignee)
		} else {
			out, err = tx.UnclaimTask(ctx, task.ID)
		}
		return err
	})
	if err != nil {
		e.metrics.failed(schema.CodeOf(err))
		return nil, err
	}
	e.publish(ctx, processID, recorded)
	return out, nil
}

// SetTaskDueDate records a due date on a task, or clears it when due is nil.
// The engine never acts on due dates.
func (e *Engine) SetTaskDueDate(ctx context.Context, taskID string, due *time.Time) (*store.Task, error) {
	if due != nil {
		t := due.UTC()
		due = &t
	}
	return e.store.SetTaskDueDate(ctx, taskID, due)
}

// Task returns a task by id.
func (e *Engine) Task(ctx context.Context, taskID string) (*store.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// Tasks lists tasks matching filter. An empty state means OPEN.
func (e *Engine) Tasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	if filter.State == "" {
		filter.State = schema.TaskStateOpen
	}
	return e.store.ListTasks(ctx, filter)
}

// OpenTasks lists the tasks an instance is waiting on, assigned or not.
func (e *Engine) OpenTasks(ctx context.Context, instanceID string) ([]*store.Task, error) {
	if _, err := e.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	all, err := e.store.ListTasks(ctx, store.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	out := make([]*store.Task, 0, len(all))
	for _, t := range all {
		if t.Open() {
			out = append(out, t)
		}
	}
	return out, nil
}

// ClaimableTasks lists open, unassigned tasks that user or one of groups may claim.
func (e *Engine) ClaimableTasks(ctx context.Context, user string, groups []string) ([]*store.Task, error) {
	return e.store.ClaimableTasks(ctx, strings.TrimSpace(user), groups)
}
