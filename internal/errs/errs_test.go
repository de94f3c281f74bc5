package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapChain(t *testing.T) {
	base := New(TransientFailure, "connection reset")
	wrapped := fmt.Errorf("stage call: %w", base)

	assert.Equal(t, TransientFailure, KindOf(wrapped))
	assert.True(t, Is(wrapped, TransientFailure))
	assert.False(t, Is(wrapped, SchemaViolation))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(InvalidResponse, cause, "empty completion")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INVALID_RESPONSE")
	assert.Contains(t, err.Error(), "boom")
}

func TestBuildersRecordStageContext(t *testing.T) {
	err := Newf(SchemaViolation, "missing key %q", "title").
		WithStage("input-parser").
		WithAttempt(2)

	assert.Equal(t, "input-parser", err.Stage)
	assert.Equal(t, 2, err.Attempt)
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{MissingDependency, false},
		{AuthenticationFailure, false},
		{TransientFailure, true},
		{InvalidResponse, true},
		{SchemaViolation, true},
		{LengthViolation, true},
		{ConsistencyViolation, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Retryable(New(tc.kind, "x")), "kind %s", tc.kind)
	}

	assert.True(t, Retryable(errors.New("unclassified")))
}
