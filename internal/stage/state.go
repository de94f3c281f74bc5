package stage

import "fmt"

// AttemptState tracks one stage attempt through the retry contract.
type AttemptState string

const (
	AttemptPending   AttemptState = "pending"
	AttemptInFlight  AttemptState = "in_flight"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptRetrying  AttemptState = "retrying"
	AttemptFailed    AttemptState = "failed"
)

// Transition validates a state move. Legal moves:
//
//	pending   -> in_flight
//	in_flight -> succeeded | retrying | failed
//	retrying  -> in_flight
//
// succeeded and failed are terminal.
func Transition(from, to AttemptState) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("invalid attempt transition %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to AttemptState) bool {
	switch from {
	case AttemptPending:
		return to == AttemptInFlight
	case AttemptInFlight:
		return to == AttemptSucceeded || to == AttemptRetrying || to == AttemptFailed
	case AttemptRetrying:
		return to == AttemptInFlight
	default:
		return false
	}
}

// Attempt is the mutable attempt tracker for one stage. Attempts are
// strictly sequential; Number counts started attempts.
type Attempt struct {
	Stage  ID
	Number int
	State  AttemptState
}

// NewAttempt returns a pending tracker with no started attempts.
func NewAttempt(stage ID) *Attempt {
	return &Attempt{Stage: stage, State: AttemptPending}
}

// Begin moves to in_flight and bumps the attempt number.
func (a *Attempt) Begin() error {
	if err := Transition(a.State, AttemptInFlight); err != nil {
		return err
	}
	a.State = AttemptInFlight
	a.Number++
	return nil
}

// Succeed marks the in-flight attempt terminal-successful.
func (a *Attempt) Succeed() error {
	if err := Transition(a.State, AttemptSucceeded); err != nil {
		return err
	}
	a.State = AttemptSucceeded
	return nil
}

// Retry marks the in-flight attempt failed with attempts remaining.
func (a *Attempt) Retry() error {
	if err := Transition(a.State, AttemptRetrying); err != nil {
		return err
	}
	a.State = AttemptRetrying
	return nil
}

// Fail marks the in-flight attempt terminal-failed.
func (a *Attempt) Fail() error {
	if err := Transition(a.State, AttemptFailed); err != nil {
		return err
	}
	a.State = AttemptFailed
	return nil
}
