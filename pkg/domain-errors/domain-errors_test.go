package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CarriesCodeAndMessage(t *testing.T) {
	err := New(CodeNotFound, "record missing")

	assert.Equal(t, "record missing", err.Error())
	assert.True(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(err, CodeConflict))
}

func TestWrap_PreservesExistingCode(t *testing.T) {
	inner := New(CodeForbidden, "not yours")
	wrapped := Wrap(inner, CodeInternal, "store layer failed")

	assert.True(t, HasCode(wrapped, CodeForbidden),
		"wrapping must not launder a domain code into internal")
	assert.True(t, errors.Is(wrapped, inner))
}

func TestWrap_AssignsCodeToPlainErrors(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	wrapped := Wrap(inner, CodeUnavailable, "redis publish")

	assert.True(t, HasCode(wrapped, CodeUnavailable))
	assert.True(t, errors.Is(wrapped, inner))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(CodeConflict, "duplicate provider")
	b := New(CodeConflict, "different message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(CodeNotFound, "")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTimeout, CodeOf(New(CodeTimeout, "slow")))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestError_FallsBackToCode(t *testing.T) {
	err := &Error{Code: CodeUnavailable}
	require.Equal(t, "unavailable", err.Error())
}
