package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/credlogic/pkg/schema"
)

const conditionSchemaURL = "https://credlogic.dev/schemas/condition.json"

// conditionSchemaJSON is the JSON Schema for a stored condition document.
// Embedded as a constant to avoid filesystem dependencies.
const conditionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://credlogic.dev/schemas/condition.json",
  "type": "object",
  "required": ["mode"],
  "properties": {
    "version": {
      "type": "integer",
      "minimum": 1
    },
    "mode": {
      "type": "string",
      "enum": ["visual", "expert"]
    },
    "rules": {
      "type": "array",
      "items": { "$ref": "#/$defs/rule" }
    },
    "expression": {}
  },
  "additionalProperties": false,
  "allOf": [
    {
      "if": { "properties": { "mode": { "const": "visual" } }, "required": ["mode"] },
      "then": { "required": ["rules"], "not": { "required": ["expression"] } }
    },
    {
      "if": { "properties": { "mode": { "const": "expert" } }, "required": ["mode"] },
      "then": { "required": ["expression"], "not": { "required": ["rules"] } }
    }
  ],
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["id", "field", "operator", "value"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "field": {
          "type": "string",
          "minLength": 1
        },
        "operator": {
          "type": "string",
          "enum": ["equals", "notEquals", "greaterThan", "lessThan", "greaterOrEqual", "lessOrEqual", "contains", "in"]
        },
        "value": { "type": "string" },
        "connector": {
          "type": "string",
          "enum": ["and", "or"]
        }
      },
      "additionalProperties": false
    }
  }
}`

// Violation is one leaf JSON Schema failure.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// JSONSchemaValidator checks condition documents and execution contexts
// against JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	conditionSchema *jsonschema.Schema

	// mu guards the cache of compiled context schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the condition schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(conditionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal condition schema: %w", err)
	}
	if err := c.AddResource(conditionSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add condition schema resource: %w", err)
	}

	compiled, err := c.Compile(conditionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile condition schema: %w", err)
	}

	return &JSONSchemaValidator{
		conditionSchema: compiled,
		cache:           make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument checks raw condition JSON against the condition schema and
// returns every violation found. The error is non-nil only when raw is not JSON.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) ([]Violation, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "condition document is not valid JSON: %s", err.Error()).
			WithCause(err)
	}
	if err := v.conditionSchema.Validate(doc); err != nil {
		return violationsOf(err), nil
	}
	return nil, nil
}

// ValidateContext validates an execution context against a JSON Schema provided
// as raw bytes. An empty schema accepts everything. Compiled schemas are cached.
func (v *JSONSchemaValidator) ValidateContext(data map[string]any, contextSchema []byte) error {
	if len(bytes.TrimSpace(contextSchema)) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(contextSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid context schema").WithCause(err)
	}

	if data == nil {
		data = map[string]any{}
	}
	doc, err := toJSONValue(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeContext, "failed to serialize context").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toCondError(schema.ErrCodeContext, err)
	}
	return nil
}

// CompileSchema reports whether contextSchema is a usable JSON Schema.
func (v *JSONSchemaValidator) CompileSchema(contextSchema []byte) error {
	if _, err := v.getOrCompile(contextSchema); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid context schema: %s", err.Error()).WithCause(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets its own URL and compiler to avoid resource collisions.
	url := fmt.Sprintf("credlogic://context-schema/%d", len(v.cache))
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

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toCondError converts a jsonschema.ValidationError into a CondError listing
// every violation.
func toCondError(code string, err error) *schema.CondError {
	violations := violationsOf(err)
	if len(violations) == 1 {
		return schema.NewErrorf(code, "%s: %s", violations[0].Path, violations[0].Message).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(code, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func violationsOf(err error) []Violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return []Violation{{Path: "/", Message: verr.Error()}}
	}
	return violations
}

// collectViolations walks a ValidationError tree and collects the leaves with
// their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []Violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []Violation{{Path: loc, Message: leafMessage(verr)}}
	}

	var violations []Violation
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// leafMessage strips the "jsonschema validation failed" preamble that
// ValidationError.Error adds to every message.
func leafMessage(verr *jsonschema.ValidationError) string {
	msg := verr.Error()
	if i := strings.Index(msg, "- at '"); i >= 0 {
		rest := msg[i+len("- at '"):]
		if j := strings.Index(rest, "': "); j >= 0 {
			return rest[j+len("': "):]
		}
	}
	return msg
}
