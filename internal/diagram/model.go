package diagram

import "github.com/regygeorge/nx-workflow/internal/process"

// Runtime states a node can carry in an overlay.
const (
	StatusActive  = "active"  // a token sits on the node
	StatusWaiting = "waiting" // an open user task waits on the node
	StatusVisited = "visited" // the history shows the node was reached
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	ID     string
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single process node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   process.Kind
	Detail string // task type, form key or gateway role
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status string
	Tokens int
	Visits int
}

// Edge is one sequence flow.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
}

// Node looks up a node by id.
func (m *Model) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
