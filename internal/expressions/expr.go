package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// ExprEngine implements Engine using expr-lang/expr. Programs are compiled without a
// typed environment so that one compiled condition serves every instance, whatever
// the runtime types of its variables. Undefined variables evaluate to nil.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program](maxPrograms)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return schema.LanguageExpr
}

// Evaluate compiles (or retrieves from cache) an expression and runs it with the
// variable map as its environment.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// Compile checks that an expression parses. The definition loader calls it to
// warn about conditions that would always evaluate to false.
func (e *ExprEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	return e.cache.getOrCompile(expression, func() (*vm.Program, error) {
		prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"expr compile error in %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return prg, nil
	})
}

var _ Engine = (*ExprEngine)(nil)
