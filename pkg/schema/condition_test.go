package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionConfig_VisualRoundTrip(t *testing.T) {
	cfg := NewVisualConfig([]VisualRule{
		{ID: "r1", Field: "status", Operator: OpEquals, Value: "active", Connector: ConnectorAnd},
	})

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"mode":"visual","rules":[{"id":"r1","field":"status","operator":"equals","value":"active","connector":"and"}]}`, string(data))

	var back ConditionConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ModeVisual, back.Mode())
	assert.Equal(t, 1, back.Version())
	assert.Equal(t, cfg.Rules(), back.Rules())
	assert.Empty(t, back.Expression())
}

func TestConditionConfig_ExpertRoundTrip(t *testing.T) {
	cfg := NewExpertConfig(`{"===":[{"var":"a"},1]}`)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var back ConditionConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ModeExpert, back.Mode())
	assert.Equal(t, `{"===":[{"var":"a"},1]}`, back.Expression())
	assert.Nil(t, back.Rules())
}

func TestConditionConfig_ExpertInlineExpression(t *testing.T) {
	var cfg ConditionConfig
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"expert","expression":{"===":[{"var":"a"},1]}}`), &cfg))
	assert.Equal(t, ModeExpert, cfg.Mode())
	assert.JSONEq(t, `{"===":[{"var":"a"},1]}`, cfg.Expression())
	assert.Equal(t, ConditionSchemaVersion, cfg.Version())
}

func TestConditionConfig_RejectsMixedOrUnknown(t *testing.T) {
	cases := map[string]string{
		"visual with expression": `{"mode":"visual","rules":[],"expression":"{}"}`,
		"expert with rules":      `{"mode":"expert","expression":"{}","rules":[{"id":"r"}]}`,
		"unknown mode":           `{"mode":"magic"}`,
		"future version":         `{"version":99,"mode":"visual","rules":[]}`,
		"not an object":          `[]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			var cfg ConditionConfig
			err := json.Unmarshal([]byte(doc), &cfg)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeValidation))
		})
	}
}

func TestConditionConfig_ZeroValueDoesNotMarshal(t *testing.T) {
	_, err := json.Marshal(ConditionConfig{})
	assert.Error(t, err)
}

func TestConditionConfig_RulesAreCopied(t *testing.T) {
	rules := []VisualRule{{ID: "r1", Field: "a", Operator: OpEquals, Value: "1"}}
	cfg := NewVisualConfig(rules)
	rules[0].Field = "mutated"

	got := cfg.Rules()
	assert.Equal(t, "a", got[0].Field)
	got[0].Field = "again"
	assert.Equal(t, "a", cfg.Rules()[0].Field)
}

func TestBranchFor(t *testing.T) {
	assert.Equal(t, BranchYes, BranchFor(true))
	assert.Equal(t, BranchNo, BranchFor(false))
	assert.True(t, ErrorPolicy("").Valid())
	assert.False(t, ErrorPolicy("retry").Valid())
}
