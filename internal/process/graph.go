// Package process holds the immutable in-memory model of a deployed process:
// typed nodes connected by conditional sequence flows.
package process

import (
	"fmt"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Kind classifies a node.
type Kind string

const (
	KindStart            Kind = "start"
	KindEnd              Kind = "end"
	KindUserTask         Kind = "userTask"
	KindServiceTask      Kind = "serviceTask"
	KindExclusiveGateway Kind = "exclusiveGateway"
	KindParallelGateway  Kind = "parallelGateway"
)

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindEnd, KindUserTask, KindServiceTask, KindExclusiveGateway, KindParallelGateway:
		return true
	}
	return false
}

// Condition is a predicate over instance variables guarding a sequence flow.
type Condition interface {
	Eval(vars map[string]any) bool
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(vars map[string]any) bool

func (f ConditionFunc) Eval(vars map[string]any) bool { return f(vars) }

// Equals returns a condition that holds when vars[key] equals want.
func Equals(key string, want any) Condition {
	return ConditionFunc(func(vars map[string]any) bool {
		v, ok := vars[key]
		return ok && v == want
	})
}

// SequenceFlow is a directed edge between two nodes. A nil Condition always holds.
type SequenceFlow struct {
	ID        string
	From      string
	To        string
	Condition Condition
}

// Holds evaluates the flow's condition against vars.
func (f *SequenceFlow) Holds(vars map[string]any) bool {
	return f.Condition == nil || f.Condition.Eval(vars)
}

// Conditional reports whether the flow carries a condition.
func (f *SequenceFlow) Conditional() bool {
	return f.Condition != nil
}

// Label returns a printable form of the condition, or "" when the flow is unconditional.
func (f *SequenceFlow) Label() string {
	if f.Condition == nil {
		return ""
	}
	if s, ok := f.Condition.(fmt.Stringer); ok {
		return s.String()
	}
	return "?"
}

// Node is one vertex of a process graph.
type Node struct {
	ID         string
	Name       string
	Kind       Kind
	TaskType   string // service tasks only; defaults to ID
	Properties map[string]string
	Outgoing   []*SequenceFlow
	Incoming   []*SequenceFlow
}

// Property returns the named property or "".
func (n *Node) Property(key string) string {
	if n.Properties == nil {
		return ""
	}
	return n.Properties[key]
}

// IsFork reports whether a parallel gateway splits: more than one outgoing and at most one incoming flow.
func (n *Node) IsFork() bool {
	return len(n.Outgoing) > 1 && len(n.Incoming) <= 1
}

// IsJoin reports whether a parallel gateway merges: more than one incoming and exactly one outgoing flow.
func (n *Node) IsJoin() bool {
	return len(n.Incoming) > 1 && len(n.Outgoing) == 1
}

// Definition is a deployed process graph. It is read-only once built.
type Definition struct {
	ID   string
	Name string
	// InputSchema is an optional JSON Schema that start variables must satisfy.
	InputSchema []byte
	startID     string
	order       []string
	nodes       map[string]*Node
}

// Node looks up a node by id.
func (d *Definition) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (d *Definition) Nodes() []*Node {
	out := make([]*Node, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// Flows returns every sequence flow, grouped by source node in insertion order.
func (d *Definition) Flows() []*SequenceFlow {
	var out []*SequenceFlow
	for _, id := range d.order {
		out = append(out, d.nodes[id].Outgoing...)
	}
	return out
}

// Start returns the start node.
func (d *Definition) Start() (*Node, error) {
	if d.startID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "process %q has no start node", d.ID)
	}
	return d.nodes[d.startID], nil
}

// ServiceTasks returns the service-task nodes in insertion order.
func (d *Definition) ServiceTasks() []*Node {
	var out []*Node
	for _, n := range d.Nodes() {
		if n.Kind == KindServiceTask {
			out = append(out, n)
		}
	}
	return out
}
