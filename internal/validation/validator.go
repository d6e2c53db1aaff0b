// Package validation checks process documents before they are compiled: JSON
// Schema for structure, then graph semantics, then reachability.
package validation

import "github.com/regygeorge/nx-workflow/pkg/schema"

// Validator checks process documents and start variables.
type Validator interface {
	ValidateDocument(doc *schema.ProcessDocument) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// HandlerLookup reports whether a named delegate is registered.
type HandlerLookup interface {
	Has(name string) bool
}
