// Package rules holds the visual rule model: constructors and the literal
// coercion shared by the compiler and preview rendering.
package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/credlogic/pkg/schema"
)

// NewRule returns an empty equality rule with a fresh id.
func NewRule() schema.VisualRule {
	return schema.VisualRule{
		ID:        uuid.New().String(),
		Operator:  schema.OpEquals,
		Connector: schema.ConnectorAnd,
	}
}

// CoerceLiteral turns a typed value into the literal stored in the compiled
// tree: a float64 when the trimmed text is a finite number, otherwise the
// original string untouched.
func CoerceLiteral(raw string) any {
	if n, ok := ParseNumber(raw); ok {
		return n
	}
	return raw
}

// ParseNumber parses s the way a user-typed number is read: surrounding
// whitespace is ignored, decimal, exponent and 0x/0o/0b forms are accepted.
// Empty input, NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(s, "_") {
		return 0, false
	}

	if len(lower) > 2 && lower[0] == '0' && (lower[1] == 'x' || lower[1] == 'o' || lower[1] == 'b') {
		u, err := strconv.ParseUint(lower[2:], radix(lower[1]), 64)
		if err != nil {
			return 0, false
		}
		return float64(u), true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func radix(c byte) int {
	switch c {
	case 'x':
		return 16
	case 'o':
		return 8
	default:
		return 2
	}
}

// ParseArrayLiteral parses the value of an "in" rule. Anything other than a
// JSON array is an InvalidArrayLiteral error; there is no fallback to string.
func ParseArrayLiteral(raw string) ([]any, error) {
	var arr []any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil || arr == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidArrayLiteral,
			"value %q is not a JSON array", raw).WithCause(err)
	}
	return arr, nil
}
