package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeUnknownOperator, "unknown operator %q", "xor")
	assert.Equal(t, `[UNKNOWN_OPERATOR] unknown operator "xor"`, err.Error())

	err.WithNode("node-1")
	assert.Equal(t, `[UNKNOWN_OPERATOR] node node-1: unknown operator "xor"`, err.Error())
}

func TestCondError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "save failed").WithCause(cause)
	wrapped := fmt.Errorf("save node: %w", err)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeStore, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeStore))
	assert.False(t, IsCode(nil, ErrCodeStore))
	assert.Equal(t, "", CodeOf(cause))
}
