package validation

import "github.com/rendis/credlogic/pkg/schema"

// Validator is the persistence gate for condition nodes: a node whose
// configuration does not pass Validate must not be saved.
type Validator interface {
	Validate(raw []byte) *schema.ValidationResult
	ValidateContext(data map[string]any, contextSchema []byte) error
}
