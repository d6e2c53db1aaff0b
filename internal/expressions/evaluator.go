package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/regygeorge/nx-workflow/internal/process"
)

// Evaluator turns condition text into values and booleans. It never returns an
// error: anything that fails to compile or run evaluates to nil, hence false.
type Evaluator struct {
	engine Engine
}

// NewEvaluator wraps a condition engine. A nil engine selects expr.
func NewEvaluator(engine Engine) *Evaluator {
	if engine == nil {
		engine = NewExprEngine()
	}
	return &Evaluator{engine: engine}
}

// Language returns the name of the underlying engine.
func (ev *Evaluator) Language() string {
	return ev.engine.Name()
}

// compiler is implemented by engines that can check an expression without
// running it.
type compiler interface {
	Compile(expression string) error
}

// Check reports whether expression compiles in the evaluator's language. Blank
// expressions and engines that cannot check ahead of time pass.
func (ev *Evaluator) Check(expression string) error {
	text := StripMarkers(expression)
	if text == "" {
		return nil
	}
	c, ok := ev.engine.(compiler)
	if !ok {
		return nil
	}
	return c.Compile(text)
}

// Value evaluates expression against vars. Blank expressions and failures yield nil.
func (ev *Evaluator) Value(expression string, vars map[string]any) any {
	text := StripMarkers(expression)
	if text == "" {
		return nil
	}
	if v, ok := vars[text]; ok {
		return v
	}
	out, err := ev.engine.Evaluate(context.Background(), text, vars)
	if err != nil {
		return nil
	}
	return out
}

// Bool evaluates expression as a predicate. A blank expression holds.
func (ev *Evaluator) Bool(expression string, vars map[string]any) bool {
	if StripMarkers(expression) == "" {
		return true
	}
	return Truthy(ev.Value(expression, vars))
}

// Condition returns a flow condition backed by expression, or nil when the
// expression is blank so the flow is unconditional.
func (ev *Evaluator) Condition(expression string) process.Condition {
	if StripMarkers(expression) == "" {
		return nil
	}
	return &condition{ev: ev, text: expression}
}

type condition struct {
	ev   *Evaluator
	text string
}

func (c *condition) Eval(vars map[string]any) bool { return c.ev.Bool(c.text, vars) }

func (c *condition) String() string { return c.text }

var markers = [][2]string{{"#{", "}"}, {"${", "}"}, {"={", "}"}}

// StripMarkers trims whitespace and removes one #{...}, ${...} or ={...} wrapper
// enclosing the whole expression.
func StripMarkers(expression string) string {
	s := strings.TrimSpace(expression)
	for _, m := range markers {
		if strings.HasPrefix(s, m[0]) && strings.HasSuffix(s, m[1]) && !strings.HasPrefix(s, "${{") {
			return strings.TrimSpace(s[len(m[0]) : len(s)-len(m[1])])
		}
	}
	return s
}

// Truthy coerces an evaluation result to a boolean: booleans as-is, the strings
// "true", "yes" and "1" in any case, non-zero numbers. Everything else is false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
		return false
	case int:
		return t != 0
	case int8:
		return t != 0
	case int16:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case uint8:
		return t != 0
	case uint16:
		return t != 0
	case uint32:
		return t != 0
	case uint64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	}
	return false
}
