package store

import (
	"context"
	"time"
)

// Port is the set of atomic operations the engine performs while advancing an
// instance. Store implements it directly and hands out transactional views of it
// through WithTx.
type Port interface {
	// Instances
	CreateInstance(ctx context.Context, processID, businessKey string, vars map[string]any) (*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	CompleteInstance(ctx context.Context, id string) error
	// MutateVariables loads the instance variables, hands them to fn and writes back
	// whatever fn left in the map. The result is the stored map after the write.
	MutateVariables(ctx context.Context, instanceID string, fn func(vars map[string]any)) (map[string]any, error)

	// Tokens
	CreateToken(ctx context.Context, instanceID, nodeID string) (*Token, error)
	MoveToken(ctx context.Context, tokenID, nodeID string) error
	ConsumeToken(ctx context.Context, tokenID string) error
	ActiveTokens(ctx context.Context, instanceID string) ([]*Token, error)

	// Join counters. ResetJoin removes the counter once the join has fired.
	IncrementJoin(ctx context.Context, instanceID, nodeID string) (int, error)
	ResetJoin(ctx context.Context, instanceID, nodeID string) error

	// Tasks
	CreateTask(ctx context.Context, task NewTask) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	CompleteTask(ctx context.Context, id string) error
	// ClaimTask assigns an OPEN, unassigned task to user; UnclaimTask returns an
	// ASSIGNED task to the pool. Both are conditional updates that fail with
	// CONFLICT when the task is in any other state.
	ClaimTask(ctx context.Context, id, user string) (*Task, error)
	UnclaimTask(ctx context.Context, id string) (*Task, error)
	HasOpenTasks(ctx context.Context, instanceID string) (bool, error)

	// History
	AppendEvent(ctx context.Context, event *Event) error
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	Port

	// WithTx runs fn against a transactional Port. Any error returned by fn rolls
	// back every change made through it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Port) error) error

	// Processes
	SaveProcess(ctx context.Context, p *Process) error
	GetProcess(ctx context.Context, id string) (*Process, error)
	ListProcesses(ctx context.Context) ([]*Process, error)

	// Queries
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	ClaimableTasks(ctx context.Context, user string, groups []string) ([]*Task, error)
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error)

	// Task metadata
	SetTaskDueDate(ctx context.Context, id string, due *time.Time) (*Task, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
