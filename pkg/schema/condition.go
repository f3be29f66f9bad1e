package schema

import (
	"bytes"
	"encoding/json"
)

// ConditionSchemaVersion is the version tag written on every stored condition
// document. Bump it when the canonical operator set changes incompatibly.
const ConditionSchemaVersion = 1

// ConditionMode selects how a condition node is authored.
type ConditionMode string

const (
	ModeVisual ConditionMode = "visual"
	ModeExpert ConditionMode = "expert"
)

// ConditionConfig is the persisted "conditional expression" configuration of a
// workflow node. It is either a visual rule list or an expert-mode expression
// text, never both; the fields are unexported so only the constructors and the
// JSON decoder can build one.
type ConditionConfig struct {
	version    int
	mode       ConditionMode
	rules      []VisualRule
	expression string
}

// NewVisualConfig builds a visual-mode configuration.
func NewVisualConfig(rules []VisualRule) ConditionConfig {
	cp := make([]VisualRule, len(rules))
	copy(cp, rules)
	return ConditionConfig{version: ConditionSchemaVersion, mode: ModeVisual, rules: cp}
}

// NewExpertConfig builds an expert-mode configuration from raw expression text.
func NewExpertConfig(expression string) ConditionConfig {
	return ConditionConfig{version: ConditionSchemaVersion, mode: ModeExpert, expression: expression}
}

func (c ConditionConfig) Version() int        { return c.version }
func (c ConditionConfig) Mode() ConditionMode { return c.mode }

// Rules returns a copy of the visual rules; nil in expert mode.
func (c ConditionConfig) Rules() []VisualRule {
	if c.mode != ModeVisual {
		return nil
	}
	cp := make([]VisualRule, len(c.rules))
	copy(cp, c.rules)
	return cp
}

// Expression returns the expert-mode text; "" in visual mode.
func (c ConditionConfig) Expression() string {
	return c.expression
}

type conditionWire struct {
	Version    int             `json:"version"`
	Mode       ConditionMode   `json:"mode"`
	Rules      []VisualRule    `json:"rules,omitempty"`
	Expression json.RawMessage `json:"expression,omitempty"`
}

func (c ConditionConfig) MarshalJSON() ([]byte, error) {
	w := conditionWire{Version: c.version, Mode: c.mode}
	if w.Version == 0 {
		w.Version = ConditionSchemaVersion
	}
	switch c.mode {
	case ModeVisual:
		w.Rules = c.rules
		if w.Rules == nil {
			w.Rules = []VisualRule{}
		}
	case ModeExpert:
		text, err := json.Marshal(c.expression)
		if err != nil {
			return nil, err
		}
		w.Expression = text
	default:
		return nil, NewErrorf(ErrCodeValidation, "condition mode %q is not set", c.mode)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored condition document. The expert expression may
// be stored either as a JSON string holding the text or inline as a JSON
// value, in which case its raw bytes become the text.
func (c *ConditionConfig) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return NewErrorf(ErrCodeValidation, "invalid condition document: %s", err.Error()).WithCause(err)
	}

	if w.Version == 0 {
		w.Version = ConditionSchemaVersion
	}
	if w.Version > ConditionSchemaVersion {
		return NewErrorf(ErrCodeValidation,
			"condition document version %d is newer than supported version %d", w.Version, ConditionSchemaVersion)
	}

	switch w.Mode {
	case ModeVisual:
		if len(w.Expression) > 0 {
			return NewError(ErrCodeValidation, "visual condition must not carry an expression")
		}
		*c = ConditionConfig{version: w.Version, mode: ModeVisual, rules: w.Rules}
	case ModeExpert:
		if len(w.Rules) > 0 {
			return NewError(ErrCodeValidation, "expert condition must not carry visual rules")
		}
		text, err := expressionText(w.Expression)
		if err != nil {
			return err
		}
		*c = ConditionConfig{version: w.Version, mode: ModeExpert, expression: text}
	default:
		return NewErrorf(ErrCodeValidation, "unknown condition mode %q", w.Mode)
	}
	return nil
}

func expressionText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] != '"' {
		return string(trimmed), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", NewError(ErrCodeValidation, "invalid expression text").WithCause(err)
	}
	return s, nil
}
