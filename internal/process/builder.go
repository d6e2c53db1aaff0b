package process

import (
	"github.com/google/uuid"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Builder assembles a Definition. Nodes must be added before the flows that reference them.
// A Builder is single use: once Build succeeds it rejects further changes.
type Builder struct {
	def   *Definition
	built bool
}

// NewBuilder starts a definition with the given id and display name.
func NewBuilder(id, name string) *Builder {
	if name == "" {
		name = id
	}
	return &Builder{def: &Definition{
		ID:    id,
		Name:  name,
		nodes: make(map[string]*Node),
	}}
}

// AddNode registers a node. A Start node becomes the definition's start node; a
// second Start node is rejected.
func (b *Builder) AddNode(n *Node) error {
	if b.built {
		return b.errBuilt()
	}
	if n == nil || n.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "node id is empty")
	}
	if !n.Kind.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %q has unknown kind %q", n.ID, n.Kind)
	}
	if _, dup := b.def.nodes[n.ID]; dup {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
	}
	if n.Kind == KindStart {
		if b.def.startID != "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"node %q: process already has start node %q", n.ID, b.def.startID)
		}
		b.def.startID = n.ID
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	if n.Kind == KindServiceTask && n.TaskType == "" {
		n.TaskType = n.ID
	}
	if n.Properties == nil {
		n.Properties = map[string]string{}
	}
	n.Outgoing, n.Incoming = nil, nil

	b.def.nodes[n.ID] = n
	b.def.order = append(b.def.order, n.ID)
	return nil
}

// Start adds a start node.
func (b *Builder) Start(id string) error {
	return b.AddNode(&Node{ID: id, Name: "Start", Kind: KindStart})
}

// End adds an end node.
func (b *Builder) End(id string) error {
	return b.AddNode(&Node{ID: id, Name: "End", Kind: KindEnd})
}

// UserTask adds a human task node.
func (b *Builder) UserTask(id, name string, props map[string]string) error {
	return b.AddNode(&Node{ID: id, Name: name, Kind: KindUserTask, Properties: props})
}

// ServiceTask adds an automated step dispatched by taskType.
func (b *Builder) ServiceTask(id, name, taskType string, props map[string]string) error {
	return b.AddNode(&Node{ID: id, Name: name, Kind: KindServiceTask, TaskType: taskType, Properties: props})
}

// Exclusive adds an exclusive gateway.
func (b *Builder) Exclusive(id string) error {
	return b.AddNode(&Node{ID: id, Kind: KindExclusiveGateway})
}

// Parallel adds a parallel gateway.
func (b *Builder) Parallel(id string) error {
	return b.AddNode(&Node{ID: id, Kind: KindParallelGateway})
}

// AddFlow connects two registered nodes. An empty id gets a generated one.
func (b *Builder) AddFlow(id, from, to string, cond Condition) (*SequenceFlow, error) {
	if b.built {
		return nil, b.errBuilt()
	}
	src, ok := b.def.nodes[from]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "flow source %q is not a node", from)
	}
	dst, ok := b.def.nodes[to]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "flow target %q is not a node", to)
	}
	if id == "" {
		id = uuid.New().String()
	}
	f := &SequenceFlow{ID: id, From: from, To: to, Condition: cond}
	src.Outgoing = append(src.Outgoing, f)
	dst.Incoming = append(dst.Incoming, f)
	return f, nil
}

// Connect is AddFlow with a generated id.
func (b *Builder) Connect(from, to string, cond Condition) error {
	_, err := b.AddFlow("", from, to, cond)
	return err
}

// InputSchema sets the JSON Schema that start variables must satisfy. It is
// ignored once the definition is built.
func (b *Builder) InputSchema(raw []byte) {
	if b.built {
		return
	}
	b.def.InputSchema = raw
}

// Build returns the finished definition. It fails when no start node was added
// or when the definition was already built.
func (b *Builder) Build() (*Definition, error) {
	if b.built {
		return nil, b.errBuilt()
	}
	if b.def.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "process id is empty")
	}
	if b.def.startID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "process %q has no start node", b.def.ID)
	}
	b.built = true
	return b.def, nil
}

func (b *Builder) errBuilt() error {
	return schema.NewErrorf(schema.ErrCodeValidation, "process %q is already built", b.def.ID)
}
