// Package finalize drives a round from the end of voting to payout:
// tally, proposal, one-shot finalization and the ready-for-payout mark.
package finalize

import (
	"errors"
	"fmt"
)

type State string

const (
	StateOpen        State = "OPEN"
	StateTallying    State = "TALLYING"
	StateProposed    State = "DISTRIBUTION_PROPOSED"
	StateFinalized   State = "DISTRIBUTION_FINALIZED"
	StateReady       State = "READY_FOR_PAYOUT"
	StateErrorReview State = "ERROR_REVIEW"
)

// rank orders the forward states; ERROR_REVIEW sits after FINALIZED.
func (s State) rank() int {
	switch s {
	case StateOpen:
		return 0
	case StateTallying:
		return 1
	case StateProposed:
		return 2
	case StateFinalized:
		return 3
	case StateReady, StateErrorReview:
		return 4
	default:
		return -1
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateErrorReview
}

var (
	// ErrRoundStillOpen is returned by BeginTally before the round end time.
	ErrRoundStillOpen = errors.New("round is still open for voting")
	// ErrNoProposal is returned when a round has no active distribution.
	ErrNoProposal = errors.New("round has no proposed distribution")
)

// TransitionError is returned when an operation is not allowed in the
// round's current state.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a round in state %s", e.Op, e.State)
}

// ReviewError is returned when a failure after finalization moved the round
// to ERROR_REVIEW.
type ReviewError struct {
	Step string
	Err  error
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("round moved to %s after %s failed: %v", StateErrorReview, e.Step, e.Err)
}

func (e *ReviewError) Unwrap() error {
	return e.Err
}
