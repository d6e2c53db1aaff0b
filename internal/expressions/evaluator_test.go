package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripMarkers(t *testing.T) {
	tests := map[string]string{
		"  amount > 1 ":   "amount > 1",
		"#{approved}":     "approved",
		"${ approved }":   "approved",
		"={x == 1}":       "x == 1",
		"${{ approved }}": "${{ approved }}",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripMarkers(in), in)
	}
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, "true", " YES ", "1", 1, int64(-3), uint8(2), 0.5, json.Number("7")}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v", v)
	}
	falsy := []any{nil, false, "no", "", 0, 0.0, json.Number("0"), []any{1}, map[string]any{}}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v", v)
	}
}

func TestEvaluator_Bool(t *testing.T) {
	for _, lang := range []string{"expr", "cel"} {
		t.Run(lang, func(t *testing.T) {
			ev := NewEvaluator(ForLanguage(lang))
			vars := map[string]any{"approved": true, "amount": 150}

			assert.True(t, ev.Bool("", vars))
			assert.True(t, ev.Bool("#{approved}", vars))
			assert.True(t, ev.Bool("amount > 100", vars))
			assert.False(t, ev.Bool("amount > 1000", vars))
		})
	}
}

func TestEvaluator_BareVariable(t *testing.T) {
	ev := NewEvaluator(nil)
	vars := map[string]any{"decision": "yes", "weird-name": true}

	assert.Equal(t, "yes", ev.Value("decision", vars))
	assert.True(t, ev.Bool("decision", vars))
	assert.True(t, ev.Bool("${weird-name}", vars))
}

func TestEvaluator_FailuresAreFalse(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.Nil(t, ev.Value("((", map[string]any{}))
	assert.False(t, ev.Bool("((", map[string]any{}))
	assert.False(t, ev.Bool("missing > 1", map[string]any{}))
}

func TestEvaluator_Condition(t *testing.T) {
	ev := NewEvaluator(nil)

	assert.Nil(t, ev.Condition("  "))

	cond := ev.Condition("#{approved}")
	if assert.NotNil(t, cond) {
		assert.True(t, cond.Eval(map[string]any{"approved": true}))
		assert.False(t, cond.Eval(map[string]any{"approved": false}))
		assert.Equal(t, "#{approved}", cond.(interface{ String() string }).String())
	}
}

func TestEvaluator_Check(t *testing.T) {
	ev := NewEvaluator(nil)
	assert.Equal(t, "expr", ev.Language())
	assert.NoError(t, ev.Check(""))
	assert.NoError(t, ev.Check("#{amount > 1}"))
	assert.Error(t, ev.Check("${amount >}"))

	cel := NewEvaluator(NewCELEngine())
	assert.Equal(t, "cel", cel.Language())
	assert.NoError(t, cel.Check("size(items) > 2"))
	assert.Error(t, cel.Check("size(items) >"))

	jq := NewEvaluator(NewGoJQEngine())
	assert.NoError(t, jq.Check("not jq at all ((("), "engines without Compile always pass")
}
