package diagram

import (
	"fmt"

	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Overlay is the runtime state of one instance drawn on top of its definition.
type Overlay struct {
	ActiveNodes  []string
	WaitingNodes []string
	Visits       map[string]int
}

// OverlayFor builds an overlay from an instance view. hist may be nil; when
// present its per-node arrival counts become visit counts.
func OverlayFor(view *engine.InstanceView, hist *store.History) *Overlay {
	ov := &Overlay{}
	if view != nil {
		ov.ActiveNodes = view.ActiveNodes
		ov.WaitingNodes = view.WaitingNodes
	}
	if hist != nil {
		ov.Visits = make(map[string]int, len(hist.Nodes))
		for id, act := range hist.Nodes {
			ov.Visits[id] = act.Arrivals
		}
	}
	return ov
}

// Build constructs a Model from a definition and an optional overlay. Nodes are
// laid out in breadth-first levels from the start node; nodes the start node
// cannot reach go in a final level of their own.
func Build(def *process.Definition, ov *Overlay) (*Model, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: definition is nil")
	}
	start, err := def.Start()
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	model := &Model{ID: def.ID, Title: def.Name}
	for _, n := range def.Nodes() {
		node := &Node{
			ID:     n.ID,
			Label:  n.Name,
			Kind:   n.Kind,
			Detail: nodeDetail(n),
		}
		overlayStatus(node, ov)
		model.Nodes = append(model.Nodes, node)
		for _, f := range n.Outgoing {
			model.Edges = append(model.Edges, Edge{ID: f.ID, From: f.From, To: f.To, Label: f.Label()})
		}
	}
	model.Levels = buildLevels(def, start.ID)
	return model, nil
}

// nodeDetail is the secondary label line of a node.
func nodeDetail(n *process.Node) string {
	switch n.Kind {
	case process.KindServiceTask:
		if _, d := schema.DelegateProperty(n.Properties); d != "" {
			return "delegate " + d
		}
		if u := n.Property(schema.PropHTTPURL); u != "" {
			return "http " + u
		}
		if n.TaskType != n.ID {
			return n.TaskType
		}
	case process.KindUserTask:
		if f := n.Property(schema.PropFormKey); f != "" {
			return "form " + f
		}
	case process.KindParallelGateway:
		switch {
		case n.IsFork():
			return "fork"
		case n.IsJoin():
			return "join"
		}
	}
	return ""
}

func overlayStatus(node *Node, ov *Overlay) {
	if ov == nil {
		return
	}
	tokens := count(ov.ActiveNodes, node.ID)
	waiting := count(ov.WaitingNodes, node.ID)
	visits := ov.Visits[node.ID]

	var status string
	switch {
	case tokens > 0:
		status = StatusActive
	case waiting > 0:
		status = StatusWaiting
	case visits > 0:
		status = StatusVisited
	default:
		return
	}
	node.Status = &StatusOverlay{Status: status, Tokens: tokens, Visits: visits}
}

func count(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

// buildLevels assigns every node the breadth-first depth at which it is first
// reached. Back edges of loops are ignored that way.
func buildLevels(def *process.Definition, startID string) [][]string {
	depth := map[string]int{startID: 0}
	queue := []string{startID}
	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, _ := def.Node(id)
		for _, f := range n.Outgoing {
			if _, seen := depth[f.To]; seen {
				continue
			}
			depth[f.To] = depth[id] + 1
			if depth[f.To] > maxDepth {
				maxDepth = depth[f.To]
			}
			queue = append(queue, f.To)
		}
	}

	levels := make([][]string, maxDepth+1)
	var unreached []string
	for _, n := range def.Nodes() {
		d, ok := depth[n.ID]
		if !ok {
			unreached = append(unreached, n.ID)
			continue
		}
		levels[d] = append(levels[d], n.ID)
	}
	if len(unreached) > 0 {
		levels = append(levels, unreached)
	}
	return levels
}
