package kgerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfAndWrapping(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := StorageFailure(cause, "writing batch for %s", "/repo/a.ts")

	assert.Equal(t, KindStorageFailure, KindOf(err))
	assert.ErrorIs(t, errors.Unwrap(err), cause)
	assert.Contains(t, err.Error(), "socket closed")

	assert.Equal(t, KindStorageFailure, KindOf(fmt.Errorf("plain")), "unstructured errors default to INTERNAL_ERROR")
}

func TestFatalSeverity(t *testing.T) {
	assert.True(t, IsFatal(Fatal("engine unreachable")))
	assert.False(t, IsFatal(ParseFailure(fmt.Errorf("bad token"), "parsing")))
	assert.False(t, IsFatal(fmt.Errorf("plain")))
}

func TestEnvelopeShape(t *testing.T) {
	err := Validation("bad direction %q", "sideways").WithContext("direction", "sideways")

	env := ToEnvelope(err)
	assert.Equal(t, KindValidation, env.Error.Code)
	assert.Contains(t, env.Error.Message, "sideways")
	require.NotNil(t, env.Error.Details)
	assert.Equal(t, "sideways", env.Error.Details["direction"])
	assert.False(t, env.Timestamp.IsZero())
}

func TestHTTPStatusSplit(t *testing.T) {
	assert.Equal(t, 400, HTTPStatus(KindValidation))
	assert.Equal(t, 400, HTTPStatus(KindBadRequest))
	assert.Equal(t, 404, HTTPStatus(KindNotFound))
	assert.Equal(t, 500, HTTPStatus(KindStorageFailure))
}

func TestIsMatchesOnKind(t *testing.T) {
	err := NotFound("entity %s", "Function:/a.ts:foo:1")
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation}))
}
