package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

const documentSchemaURL = "https://nxflow.dev/schemas/process.json"

// documentSchemaJSON describes a ProcessDocument.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nxflow.dev/schemas/process.json",
  "type": "object",
  "required": ["id", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9_.:-]+$" },
    "name": { "type": "string" },
    "expressionLanguage": { "type": "string", "enum": ["expr", "cel"] },
    "inputSchema": { "type": "object" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "flows": {
      "type": "array",
      "items": { "$ref": "#/$defs/flow" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["start", "end", "userTask", "serviceTask", "exclusiveGateway", "parallelGateway"]
        },
        "name": { "type": "string" },
        "taskType": { "type": "string" },
        "properties": {
          "type": "object",
          "additionalProperties": { "type": ["string", "number", "boolean"] }
        }
      },
      "additionalProperties": false
    },
    "flow": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "id": { "type": "string" },
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates documents and start variables with JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema

	// mu guards the cache of compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the document schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal process schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add process schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile process schema: %w", err)
	}
	return &JSONSchemaValidator{
		documentSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument checks the shape of a decoded document.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.ProcessDocument) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "process document is nil")
	}
	return v.ValidateRaw(doc)
}

// ValidateRaw checks any JSON-encodable value, typically the map a YAML or JSON
// source decodes into, against the document schema.
func (v *JSONSchemaValidator) ValidateRaw(raw any) error {
	value, err := toJSONValue(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "process document is not JSON-encodable").WithCause(err)
	}
	if err := v.documentSchema.Validate(value); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateInput validates start variables against a JSON Schema given as raw
// bytes. Compiled schemas are cached by their text. An empty schema accepts anything.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}
	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	value, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "variables are not JSON-encodable").WithCause(err)
	}
	if err := compiled.Validate(value); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("nxflow://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through encoding/json so numbers become json.Number,
// which the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError flattens a jsonschema.ValidationError into a VALIDATION_ERROR whose
// details carry one "location: message" line per violated leaf.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
