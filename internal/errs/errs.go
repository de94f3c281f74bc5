// Package errs defines the failure taxonomy shared by the pipeline,
// the backend adapter, the validators, and the fan-out executor.
//
// Every failure that crosses a stage boundary is an *Error carrying a
// Kind. The Kind decides the retry policy: transient and validation
// failures may be retried up to the stage cap, dependency and credential
// failures may not.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// MissingDependency means a required upstream artifact does not exist.
	// An ordering invariant was broken; never retried.
	MissingDependency Kind = "MISSING_DEPENDENCY"

	// AuthenticationFailure means a credential is absent or rejected.
	AuthenticationFailure Kind = "AUTHENTICATION_FAILURE"

	// TransientFailure covers network errors, timeouts, and rate limits.
	TransientFailure Kind = "TRANSIENT_FAILURE"

	// InvalidResponse means a backend returned empty or unusable output.
	InvalidResponse Kind = "INVALID_RESPONSE"

	// SchemaViolation means a structured artifact is missing required
	// shape or keys.
	SchemaViolation Kind = "SCHEMA_VIOLATION"

	// LengthViolation means generated content is over a declared maximum
	// or under a declared minimum.
	LengthViolation Kind = "LENGTH_VIOLATION"

	// ConsistencyViolation means cross-references between artifacts do
	// not line up (missing diagram files, duplicated section markers).
	ConsistencyViolation Kind = "CONSISTENCY_VIOLATION"
)

// Error is the concrete failure type. Stage and Attempt are filled in at
// the stage boundary by the orchestrator; producers only set the Kind.
type Error struct {
	Kind    Kind
	Stage   string
	Attempt int

	msg   string
	cause error
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause. The cause
// remains reachable through errors.Is / errors.As.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// WithStage records the owning stage id and returns the receiver.
func (e *Error) WithStage(stageID string) *Error {
	e.Stage = stageID
	return e
}

// WithAttempt records the attempt number and returns the receiver.
func (e *Error) WithAttempt(n int) *Error {
	e.Attempt = n
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the cause chain.
func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the Kind of the outermost *Error in err's chain, or ""
// when the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's chain carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a fresh attempt of the failed stage could
// succeed. Errors carrying no Kind are treated as retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case MissingDependency, AuthenticationFailure:
		return false
	default:
		return true
	}
}
