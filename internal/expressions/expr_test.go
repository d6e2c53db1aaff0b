package expressions

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Comparison(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "amount > 100", map[string]any{"amount": 150})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "amount > 100", map[string]any{"amount": 50})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestExpr_SameProgramDifferentTypes(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "x == 1", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "x == 1", map[string]any{"x": "one"})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_StringOps(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"status": "APPROVED"}

	out, err := e.Evaluate(context.Background(), `status == "APPROVED" && len(status) == 8`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "a +", map[string]any{"a": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	assert.Error(t, e.Compile("(("))
	assert.NoError(t, e.Compile("a > 1"))
}

func TestExpr_EmptyExpression(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n * 2", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n*2, out)
		}(i)
	}
	wg.Wait()
}

func TestExpr_CacheIsBounded(t *testing.T) {
	e := NewExprEngine()
	for i := range maxPrograms + 10 {
		require.NoError(t, e.Compile(fmt.Sprintf("x == %d", i)))
	}
	assert.LessOrEqual(t, e.cache.len(), maxPrograms)

	_, err := e.Evaluate(context.Background(), "x == 3", map[string]any{"x": 3})
	require.NoError(t, err)
}
