package validation

import (
	"errors"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// DocumentValidator runs the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, start node, flow endpoints, node properties)
// 3. Graph (reachability, busy loops)
type DocumentValidator struct {
	jsonSchema *JSONSchemaValidator
	delegates  HandlerLookup
}

// NewDocumentValidator creates a DocumentValidator. delegates may be nil to
// skip delegate registration checks.
func NewDocumentValidator(delegates HandlerLookup) (*DocumentValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{jsonSchema: jsv, delegates: delegates}, nil
}

// Validate runs the pipeline and returns every issue found. Structural errors
// stop it early; so do semantic errors, since the graph may be malformed.
func (dv *DocumentValidator) Validate(doc *schema.ProcessDocument) *schema.ValidationResult {
	if doc == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "process document is nil")
		return r
	}

	result := structural(dv.jsonSchema.ValidateDocument(doc))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(doc, dv.delegates))
	if result.Valid() {
		result.Merge(validateGraph(doc))
	}
	return result
}

// ValidateRaw runs only the structural stage against an undecoded document.
func (dv *DocumentValidator) ValidateRaw(raw any) *schema.ValidationResult {
	return structural(dv.jsonSchema.ValidateRaw(raw))
}

// ValidateDocument satisfies the Validator interface.
func (dv *DocumentValidator) ValidateDocument(doc *schema.ProcessDocument) error {
	return dv.Validate(doc).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (dv *DocumentValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return dv.jsonSchema.ValidateInput(input, inputSchema)
}

// structural turns a JSON Schema error into one issue per violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}

var _ Validator = (*DocumentValidator)(nil)
