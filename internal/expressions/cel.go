package expressions

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

var (
	celIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	celToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// CELEngine implements Engine using Google's Common Expression Language. Every
// variable the expression mentions is declared as a dyn-typed top-level
// variable, so `amount > 100 && status == "APPROVED"` reads instance variables
// directly. Programs are cached per (referenced variable names, expression), so
// unrelated variables do not multiply the cache.
type CELEngine struct {
	cache *programCache[cel.Program]
}

// NewCELEngine creates a new CEL expression engine.
func NewCELEngine() *CELEngine {
	return &CELEngine{cache: newProgramCache[cel.Program](maxPrograms)}
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return schema.LanguageCEL
}

// Evaluate compiles (or retrieves from cache) a CEL expression for the variables
// of data it references and evaluates it.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	names := celNames(expression, data)
	prg, err := e.getOrCompile(expression, names)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(names))
	for _, n := range names {
		activation[n] = data[n]
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// Compile checks the syntax of an expression. Variables are only known at run
// time, so references are not resolved here.
func (e *CELEngine) Compile(expression string) error {
	env, err := cel.NewEnv()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "create CEL environment: %s", err.Error()).WithCause(err)
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"CEL syntax error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	return nil
}

func (e *CELEngine) getOrCompile(expression string, names []string) (cel.Program, error) {
	key := strings.Join(names, ",") + "\x00" + expression
	return e.cache.getOrCompile(key, func() (cel.Program, error) {
		opts := make([]cel.EnvOption, 0, len(names))
		for _, n := range names {
			opts = append(opts, cel.Variable(n, cel.DynType))
		}
		env, err := cel.NewEnv(opts...)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "create CEL environment: %s", err.Error()).WithCause(err)
		}

		ast, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL compile error in %q: %s", expression, issues.Err().Error()).
				WithCause(issues.Err()).
				WithDetails(map[string]any{"expression": expression})
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL program error for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return prg, nil
	})
}

// celNames returns the sorted names of data that are usable as CEL identifiers
// and appear in expression.
func celNames(expression string, data map[string]any) []string {
	mentioned := make(map[string]bool)
	for _, tok := range celToken.FindAllString(expression, -1) {
		mentioned[tok] = true
	}
	names := make([]string, 0, len(mentioned))
	for k := range data {
		if mentioned[k] && celIdent.MatchString(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

var _ Engine = (*CELEngine)(nil)
