package engine

import (
	"context"

	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// InstanceView is a read-only projection of an instance and its live tokens.
type InstanceView struct {
	ID          string                `json:"id"`
	ProcessID   string                `json:"process_id"`
	BusinessKey string                `json:"business_key,omitempty"`
	Status      schema.InstanceStatus `json:"status"`
	Completed   bool                  `json:"completed"`
	Variables   map[string]any        `json:"variables"`
	ActiveNodes []string              `json:"active_nodes"`
	// WaitingNodes are the nodes of the open tasks the instance waits on. A user
	// task consumes its token, so these are not in ActiveNodes.
	WaitingNodes []string `json:"waiting_nodes,omitempty"`
	// TokenAt is the first active node, else the first waiting node, else "".
	TokenAt string `json:"token_at,omitempty"`
}

// Snapshot reads the current state of an instance. An instance with no active
// tokens and no open tasks reports Completed even before its status is flagged.
func (e *Engine) Snapshot(ctx context.Context, instanceID string) (*InstanceView, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	tokens, err := e.store.ActiveTokens(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	var waiting []string
	for _, t := range tasks {
		if t.Open() {
			waiting = append(waiting, t.NodeID)
		}
	}

	view := &InstanceView{
		ID:           inst.ID,
		ProcessID:    inst.ProcessID,
		BusinessKey:  inst.BusinessKey,
		Status:       inst.Status,
		Completed:    inst.Status == schema.InstanceStatusCompleted || (len(tokens) == 0 && len(waiting) == 0),
		Variables:    inst.Variables,
		ActiveNodes:  make([]string, 0, len(tokens)),
		WaitingNodes: waiting,
	}
	if view.Variables == nil {
		view.Variables = map[string]any{}
	}
	for _, t := range tokens {
		view.ActiveNodes = append(view.ActiveNodes, t.NodeID)
	}
	switch {
	case len(view.ActiveNodes) > 0:
		view.TokenAt = view.ActiveNodes[0]
	case len(waiting) > 0:
		view.TokenAt = waiting[0]
	}
	return view, nil
}

// Instances lists instances matching filter.
func (e *Engine) Instances(ctx context.Context, filter store.InstanceFilter) ([]*store.Instance, error) {
	return e.store.ListInstances(ctx, filter)
}
