package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func linear(t *testing.T) *Definition {
	t.Helper()
	b := NewBuilder("leave", "Leave request")
	require.NoError(t, b.Start("start"))
	require.NoError(t, b.UserTask("review", "Review request", nil))
	require.NoError(t, b.ServiceTask("notify", "", "", map[string]string{"http.url": "http://x"}))
	require.NoError(t, b.End("end"))
	require.NoError(t, b.Connect("start", "review", nil))
	require.NoError(t, b.Connect("review", "notify", nil))
	require.NoError(t, b.Connect("notify", "end", nil))
	def, err := b.Build()
	require.NoError(t, err)
	return def
}

func TestBuilder_Linear(t *testing.T) {
	def := linear(t)

	start, err := def.Start()
	require.NoError(t, err)
	assert.Equal(t, "start", start.ID)
	assert.Equal(t, "Start", start.Name)
	require.Len(t, start.Outgoing, 1)
	assert.Equal(t, "review", start.Outgoing[0].To)
	assert.NotEmpty(t, start.Outgoing[0].ID)

	ids := make([]string, 0)
	for _, n := range def.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"start", "review", "notify", "end"}, ids)
	assert.Len(t, def.Flows(), 3)

	notify, ok := def.Node("notify")
	require.True(t, ok)
	assert.Equal(t, "notify", notify.TaskType, "task type defaults to the node id")
	assert.Equal(t, "notify", notify.Name, "name defaults to the node id")
	assert.Equal(t, "http://x", notify.Property("http.url"))
	assert.Len(t, def.ServiceTasks(), 1)

	end, _ := def.Node("end")
	require.Len(t, end.Incoming, 1)
	assert.Equal(t, "notify", end.Incoming[0].From)
}

func TestBuilder_UnknownFlowEndpointFailsImmediately(t *testing.T) {
	b := NewBuilder("p", "")
	require.NoError(t, b.Start("start"))

	_, err := b.AddFlow("f1", "start", "missing", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = b.AddFlow("f2", "ghost", "start", nil)
	require.Error(t, err)
}

func TestBuilder_BuildWithoutStartFails(t *testing.T) {
	b := NewBuilder("p", "")
	require.NoError(t, b.End("end"))
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start node")

	def := &Definition{ID: "raw"}
	_, err = def.Start()
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
}

func TestBuilder_RejectsChangesAfterBuild(t *testing.T) {
	b := NewBuilder("p", "")
	require.NoError(t, b.Start("start"))
	require.NoError(t, b.End("end"))
	require.NoError(t, b.Connect("start", "end", nil))
	def, err := b.Build()
	require.NoError(t, err)

	err = b.End("late")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "already built")
	require.Error(t, b.Connect("end", "start", nil))
	b.InputSchema([]byte(`{"type":"object"}`))
	_, err = b.Build()
	require.Error(t, err)

	_, ok := def.Node("late")
	assert.False(t, ok)
	assert.Len(t, def.Nodes(), 2)
	assert.Len(t, def.Flows(), 1)
	start, err := def.Start()
	require.NoError(t, err)
	assert.Len(t, start.Outgoing, 1)
	assert.Empty(t, def.InputSchema)
}

func TestBuilder_RejectsSecondStartAndDuplicates(t *testing.T) {
	b := NewBuilder("p", "")
	require.NoError(t, b.Start("s1"))
	err := b.Start("s2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has start node")

	require.Error(t, b.End("s1"))
	require.Error(t, b.AddNode(&Node{ID: "x", Kind: Kind("timer")}))
	require.Error(t, b.AddNode(&Node{Kind: KindEnd}))
}

func TestNode_ParallelShapes(t *testing.T) {
	b := NewBuilder("p", "")
	require.NoError(t, b.Start("start"))
	require.NoError(t, b.Parallel("fork"))
	require.NoError(t, b.UserTask("a", "A", nil))
	require.NoError(t, b.UserTask("b", "B", nil))
	require.NoError(t, b.Parallel("join"))
	require.NoError(t, b.End("end"))
	for _, f := range [][2]string{{"start", "fork"}, {"fork", "a"}, {"fork", "b"}, {"a", "join"}, {"b", "join"}, {"join", "end"}} {
		require.NoError(t, b.Connect(f[0], f[1], nil))
	}
	def, err := b.Build()
	require.NoError(t, err)

	fork, _ := def.Node("fork")
	join, _ := def.Node("join")
	assert.True(t, fork.IsFork())
	assert.False(t, fork.IsJoin())
	assert.True(t, join.IsJoin())
	assert.False(t, join.IsFork())
}

func TestSequenceFlow_Conditions(t *testing.T) {
	always := &SequenceFlow{}
	assert.True(t, always.Holds(nil))
	assert.False(t, always.Conditional())
	assert.Equal(t, "", always.Label())

	eq := &SequenceFlow{Condition: Equals("path", "A")}
	assert.True(t, eq.Holds(map[string]any{"path": "A"}))
	assert.False(t, eq.Holds(map[string]any{"path": "B"}))
	assert.False(t, eq.Holds(map[string]any{}))
	assert.Equal(t, "?", eq.Label())
}
