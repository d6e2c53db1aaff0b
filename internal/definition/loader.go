// Package definition turns YAML or JSON process documents into executable
// process definitions.
package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/regygeorge/nx-workflow/internal/expressions"
	"github.com/regygeorge/nx-workflow/internal/process"
	"github.com/regygeorge/nx-workflow/internal/validation"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Result is a loaded document together with its compiled definition.
type Result struct {
	Document   *schema.ProcessDocument
	Definition *process.Definition
	Warnings   []schema.ValidationIssue
	Source     string
	Path       string
}

// Loader decodes, validates and compiles process documents.
type Loader struct {
	validator *validation.DocumentValidator
	language  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithDefaultLanguage sets the condition language for documents that do not
// name one. Unknown names fall back to expr.
func WithDefaultLanguage(lang string) Option {
	return func(l *Loader) { l.language = lang }
}

// NewLoader creates a Loader. delegates may be nil to skip delegate checks.
func NewLoader(delegates validation.HandlerLookup, opts ...Option) (*Loader, error) {
	v, err := validation.NewDocumentValidator(delegates)
	if err != nil {
		return nil, err
	}
	l := &Loader{validator: v}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Validator exposes the document validator, which also checks start input.
func (l *Loader) Validator() *validation.DocumentValidator {
	return l.validator
}

// Decode parses a YAML or JSON payload into a ProcessDocument. Only the
// structural stage runs here.
func (l *Loader) Decode(data []byte) (*schema.ProcessDocument, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition: empty document")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition: decode document").WithCause(err)
	}
	if raw == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition: document is not a mapping")
	}
	if err := l.validator.ValidateRaw(raw).ToError(); err != nil {
		return nil, err
	}

	var doc schema.ProcessDocument
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringifyScalars,
		Result:     &doc,
	})
	if err != nil {
		return nil, fmt.Errorf("definition: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition: decode document").WithCause(err)
	}
	return &doc, nil
}

// Validate runs the full validation pipeline on a decoded document.
func (l *Loader) Validate(doc *schema.ProcessDocument) *schema.ValidationResult {
	return l.validator.Validate(doc)
}

// Compile builds a process.Definition from a document that passed validation.
// Flow conditions are bound to the document's expression language.
func (l *Loader) Compile(doc *schema.ProcessDocument) (*process.Definition, error) {
	ev := l.evaluator(doc)
	b := process.NewBuilder(doc.ID, doc.Name)

	for _, n := range doc.Nodes {
		node := &process.Node{
			ID:         n.ID,
			Name:       n.Name,
			Kind:       process.Kind(n.Type),
			TaskType:   n.TaskType,
			Properties: maps.Clone(n.Properties),
		}
		if err := b.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, f := range doc.Flows {
		if _, err := b.AddFlow(f.ID, f.From, f.To, ev.Condition(f.Condition)); err != nil {
			return nil, err
		}
	}
	if len(doc.InputSchema) > 0 {
		raw, err := json.Marshal(doc.InputSchema)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "definition: encode input schema").WithCause(err)
		}
		b.InputSchema(raw)
	}
	return b.Build()
}

// CheckConditions compiles every flow condition in the document's language.
// A condition that does not compile evaluates to false at run time, so each one
// is reported as a warning rather than rejected.
func (l *Loader) CheckConditions(doc *schema.ProcessDocument) *schema.ValidationResult {
	ev := l.evaluator(doc)
	result := &schema.ValidationResult{}
	for i, f := range doc.Flows {
		if err := ev.Check(f.Condition); err != nil {
			result.AddWarning(fmt.Sprintf("flows[%d].condition", i), schema.ErrCodeValidation,
				fmt.Sprintf("condition %q does not compile as %s and will never hold: %v",
					f.Condition, ev.Language(), err))
		}
	}
	return result
}

func (l *Loader) evaluator(doc *schema.ProcessDocument) *expressions.Evaluator {
	lang := doc.ExpressionLanguage
	if lang == "" {
		lang = l.language
	}
	return expressions.NewEvaluator(expressions.ForLanguage(lang))
}

// Load decodes, validates and compiles one document.
func (l *Loader) Load(data []byte) (*Result, error) {
	doc, err := l.Decode(data)
	if err != nil {
		return nil, err
	}
	vr := l.Validate(doc)
	if err := vr.ToError(); err != nil {
		return nil, err
	}
	vr.Merge(l.CheckConditions(doc))
	def, err := l.Compile(doc)
	if err != nil {
		return nil, err
	}
	return &Result{
		Document:   doc,
		Definition: def,
		Warnings:   vr.Warnings,
		Source:     string(data),
	}, nil
}

// CompileSource loads a stored source document. It matches engine.CompileFunc.
func (l *Loader) CompileSource(source string) (*process.Definition, error) {
	res, err := l.Load([]byte(source))
	if err != nil {
		return nil, err
	}
	return res.Definition, nil
}

// LoadFile loads a document from disk.
func (l *Loader) LoadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definition: read %s: %w", path, err)
	}
	res, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res.Path = path
	return res, nil
}

// LoadDir loads every .yaml, .yml and .json file in dir, in name order. Files
// that fail are reported together; the rest are still returned.
func (l *Loader) LoadDir(dir string) ([]*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("definition: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsDocumentFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		results []*Result
		errs    error
	)
	for _, name := range names {
		res, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// IsDocumentFile reports whether name has a document extension.
func IsDocumentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// stringifyScalars lets property values be written as plain YAML numbers and
// booleans while the document keeps them as strings.
func stringifyScalars(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(data), nil
	}
	return data, nil
}
