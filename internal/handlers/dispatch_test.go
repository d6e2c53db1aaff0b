package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func serviceNode(id, taskType string, props map[string]string) *process.Node {
	return &process.Node{ID: id, Kind: process.KindServiceTask, TaskType: taskType, Properties: props}
}

func TestDispatcher_ResolveChain(t *testing.T) {
	typed := HandlerFunc(func(context.Context, *Execution) error { return nil })
	delegate := HandlerFunc(func(context.Context, *Execution) error { return nil })

	d := NewDispatcher(nil, nil, nil)
	d.Types.Register("charge", typed)
	d.Delegates.Register("audit", delegate)

	tests := []struct {
		name  string
		node  *process.Node
		route Route
	}{
		{"type handler wins", serviceNode("a", "charge", map[string]string{"http.url": "x", "delegate": "audit"}), RouteType},
		{"http by url", serviceNode("b", "b", map[string]string{"http.url": "http://x", "delegate": "audit"}), RouteHTTP},
		{"http by type", serviceNode("c", "c", map[string]string{"type": "Http"}), RouteHTTP},
		{"delegate", serviceNode("d", "d", map[string]string{"delegate": "audit"}), RouteDelegate},
		{"java.class alias", serviceNode("j", "j", map[string]string{"java.class": "audit"}), RouteDelegate},
		{"noop", serviceNode("e", "e", nil), RouteNoop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, route, err := d.Resolve(tt.node)
			require.NoError(t, err)
			assert.NotNil(t, h)
			assert.Equal(t, tt.route, route)
		})
	}
}

func TestDispatcher_UnknownDelegate(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	_, _, err := d.Resolve(serviceNode("x", "x", map[string]string{"delegate": "ghost"}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownHandler))
}

func TestDispatcher_JavaClassAlias(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	d.Delegates.Register("com.acme.Audit", HandlerFunc(func(context.Context, *Execution) error { return nil }))

	_, _, err := d.Resolve(serviceNode("x", "x", map[string]string{"java.class": "com.acme.Ghost"}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownHandler))
	assert.Contains(t, err.Error(), "com.acme.Ghost")

	_, route, err := d.Resolve(serviceNode("y", "y", map[string]string{"delegate": "com.acme.Audit", "java.class": "com.acme.Ghost"}))
	require.NoError(t, err)
	assert.Equal(t, RouteDelegate, route, "delegate takes precedence over java.class")

	b := process.NewBuilder("p", "P")
	require.NoError(t, b.Start("start"))
	require.NoError(t, b.ServiceTask("known", "", "", map[string]string{"java.class": "com.acme.Audit"}))
	require.NoError(t, b.ServiceTask("ghost", "", "", map[string]string{"java.class": "com.acme.Ghost"}))
	require.NoError(t, b.End("end"))
	require.NoError(t, b.Connect("start", "known", nil))
	require.NoError(t, b.Connect("known", "ghost", nil))
	require.NoError(t, b.Connect("ghost", "end", nil))
	def, err := b.Build()
	require.NoError(t, err)

	err = d.Validate(def)
	require.Error(t, err)
	var se *schema.FlowError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"com.acme.Ghost"}, se.Details["delegates"])
	assert.Equal(t, []string{"ghost"}, se.Details["nodes"])
}

func TestDispatcher_Validate(t *testing.T) {
	b := process.NewBuilder("p", "P")
	require.NoError(t, b.Start("start"))
	require.NoError(t, b.ServiceTask("known", "Known", "", map[string]string{"delegate": "audit"}))
	require.NoError(t, b.ServiceTask("ghost", "Ghost", "", map[string]string{"delegate": "ghost"}))
	require.NoError(t, b.ServiceTask("typed", "Typed", "charge", map[string]string{"delegate": "missing-but-typed"}))
	require.NoError(t, b.End("end"))
	require.NoError(t, b.Connect("start", "known", nil))
	require.NoError(t, b.Connect("known", "ghost", nil))
	require.NoError(t, b.Connect("ghost", "typed", nil))
	require.NoError(t, b.Connect("typed", "end", nil))
	def, err := b.Build()
	require.NoError(t, err)

	d := NewDispatcher(nil, nil, nil)
	d.Delegates.Register("audit", Noop)
	d.Types.Register("charge", Noop)

	err = d.Validate(def)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownHandler))
	assert.Contains(t, err.Error(), "ghost")
	assert.NotContains(t, err.Error(), "missing-but-typed")

	d.Delegates.Register("ghost", Noop)
	assert.NoError(t, d.Validate(def))
}
