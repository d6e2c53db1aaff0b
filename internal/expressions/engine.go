package expressions

import "context"

// Engine evaluates one expression language against a variable map.
// ExprEngine and CELEngine back flow conditions; GoJQEngine reshapes HTTP responses.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ForLanguage returns the condition engine for a language name. Unknown and empty
// names select expr.
func ForLanguage(lang string) Engine {
	if lang == "cel" {
		return NewCELEngine()
	}
	return NewExprEngine()
}
