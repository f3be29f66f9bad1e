package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rendis/credlogic/internal/compiler"
	"github.com/rendis/credlogic/pkg/schema"
)

// Checked is a condition document that passed validation, with its compiled
// canonical tree.
type Checked struct {
	Config     schema.ConditionConfig
	Expression schema.Node
}

// ConditionValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema of the stored document)
// 2. Compile (the same compiler used at save time)
// 3. Warnings (connectors that have no effect, operators that will fail at run time)
type ConditionValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewConditionValidator creates a ConditionValidator.
func NewConditionValidator() (*ConditionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ConditionValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
func (cv *ConditionValidator) Validate(raw []byte) *schema.ValidationResult {
	result, _ := cv.Check(raw)
	return result
}

// Check is Validate that also returns the decoded configuration and its
// compiled tree when there are no errors. Structural errors short-circuit:
// later stages are skipped.
func (cv *ConditionValidator) Check(raw []byte) (*schema.ValidationResult, *Checked) {
	result := &schema.ValidationResult{}

	// Stage 1: Structural.
	violations, err := cv.jsonSchema.ValidateDocument(raw)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, messageOf(err))
		return result, nil
	}
	for _, v := range violations {
		result.AddError(v.Path, schema.ErrCodeValidation, v.Message)
	}
	if !result.Valid() {
		return result, nil
	}

	var cfg schema.ConditionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		result.AddError("/", codeOf(err), messageOf(err))
		return result, nil
	}

	// Stage 2: Compile.
	node, err := compiler.Compile(cfg)
	if err != nil {
		result.Add(compileIssue(cfg, err))
		return result, nil
	}

	// Stage 3: Warnings.
	switch cfg.Mode() {
	case schema.ModeVisual:
		warnIgnoredConnectors(result, cfg.Rules())
	case schema.ModeExpert:
		warnRuntimeFailures(result, node)
	}

	return result, &Checked{Config: cfg, Expression: node}
}

// CheckConfig validates an in-memory configuration.
func (cv *ConditionValidator) CheckConfig(cfg schema.ConditionConfig) (*schema.ValidationResult, *Checked) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		result := &schema.ValidationResult{}
		result.AddError("/", schema.ErrCodeValidation, messageOf(err))
		return result, nil
	}
	return cv.Check(raw)
}

// ValidateContext delegates to the underlying JSONSchemaValidator.
func (cv *ConditionValidator) ValidateContext(data map[string]any, contextSchema []byte) error {
	return cv.jsonSchema.ValidateContext(data, contextSchema)
}

// CompileSchema delegates to the underlying JSONSchemaValidator.
func (cv *ConditionValidator) CompileSchema(contextSchema []byte) error {
	return cv.jsonSchema.CompileSchema(contextSchema)
}

// compileIssue locates a compile error in the input. Rule-level failures
// point at the offending field of that rule and carry its operator.
func compileIssue(cfg schema.ConditionConfig, err error) schema.ValidationIssue {
	issue := schema.ValidationIssue{Code: codeOf(err), Message: messageOf(err), Severity: schema.SeverityError}

	var ce *schema.CondError
	if errors.As(err, &ce) {
		if idx, ok := ce.Details["rule_index"].(int); ok {
			field := "value"
			if ce.Code == schema.ErrCodeInvalidOperator {
				field = "operator"
			}
			issue.Path = schema.RulePath(idx, field)
			issue.RuleIndex = &idx
			if list := cfg.Rules(); idx < len(list) {
				issue.Operator = string(list[idx].Operator)
			}
			return issue
		}
	}

	switch {
	case issue.Code == schema.ErrCodeEmptyRuleSet:
		issue.Path = "/rules"
	case cfg.Mode() == schema.ModeExpert:
		issue.Path = "/expression"
	default:
		issue.Path = "/"
	}
	return issue
}

// warnIgnoredConnectors flags rules whose connector differs from the first
// rule's. Only the first connector decides the group, so such a connector has
// no effect.
func warnIgnoredConnectors(result *schema.ValidationResult, list []schema.VisualRule) {
	if len(list) < 2 {
		return
	}
	first := effectiveConnector(list[0].Connector)
	for i, r := range list[1:] {
		if effectiveConnector(r.Connector) == first {
			continue
		}
		result.AddWarning(schema.RulePath(i+1, "connector"), schema.WarnCodeConnectorIgnored,
			fmt.Sprintf("connector %q is ignored; all rules are joined with %q", r.Connector, first))
	}
}

func effectiveConnector(c schema.Connector) schema.Connector {
	if c == schema.ConnectorOr {
		return schema.ConnectorOr
	}
	return schema.ConnectorAnd
}

// warnRuntimeFailures reports subtrees that will fail when evaluation reaches
// them. They are warnings: a short-circuited branch never fails.
func warnRuntimeFailures(result *schema.ValidationResult, n schema.Node) {
	report := func(inv *schema.Invalid) {
		err := inv.Err()
		result.Add(schema.ValidationIssue{
			Path:     "/expression",
			Code:     err.Code,
			Message:  err.Message,
			Severity: schema.SeverityWarning,
			Operator: inv.Key,
		})
	}
	schema.Walk(n, func(node schema.Node) bool {
		switch v := node.(type) {
		case *schema.Invalid:
			report(v)
		case *schema.Compare:
			for _, o := range []schema.Operand{v.Left, v.Right} {
				if o.Invalid != nil {
					report(o.Invalid)
				}
			}
		}
		return true
	})
}

func messageOf(err error) string {
	if ce, ok := err.(*schema.CondError); ok {
		return ce.Message
	}
	return err.Error()
}

func codeOf(err error) string {
	if code := schema.CodeOf(err); code != "" {
		return code
	}
	return schema.ErrCodeValidation
}
