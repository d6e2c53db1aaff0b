package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	calls := ""

	r.RegisterFunc("charge", func(context.Context, *Execution) error { calls += "a"; return nil })
	r.RegisterFunc("charge", func(context.Context, *Execution) error { calls += "b"; return nil })

	h, ok := r.Get("charge")
	require.True(t, ok)
	require.NoError(t, h.Execute(context.Background(), &Execution{}))
	assert.Equal(t, "b", calls)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_GetMissing(t *testing.T) {
	_, ok := NewRegistry().Get("nope")
	assert.False(t, ok)
}

func TestRegistry_NilUnregisters(t *testing.T) {
	r := NewRegistry()
	r.Register("x", Noop)
	assert.True(t, r.Has("x"))
	r.Register("x", nil)
	assert.False(t, r.Has("x"))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("b", Noop)
	r.Register("a", Noop)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); r.Register("h", Noop) }()
		go func() { defer wg.Done(); r.Get("h") }()
	}
	wg.Wait()
	assert.True(t, r.Has("h"))
}

func TestExecution_Property(t *testing.T) {
	e := &Execution{Properties: map[string]string{"k": "  v "}}
	assert.Equal(t, "v", e.Property("k"))
	assert.Equal(t, "", e.Property("missing"))
}
