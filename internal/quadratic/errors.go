package quadratic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoVotes is returned by Calculate when every tally has zero weight.
var ErrNoVotes = errors.New("no votes cast in round")

// AuthorizationError reports a vote from an address missing in the voter register.
type AuthorizationError struct {
	Voter string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("voter %s is not registered", e.Voter)
}

// BudgetExceededError reports a voter whose votes in one batch spend more than the credit budget.
type BudgetExceededError struct {
	Voter  string
	Spent  uint64
	Budget uint64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("voter %s spent %d credits, budget is %d", e.Voter, e.Spent, e.Budget)
}

// ProjectIDMismatchError lists reference projects absent from a candidate distribution.
type ProjectIDMismatchError struct {
	Missing []string
}

func (e *ProjectIDMismatchError) Error() string {
	return fmt.Sprintf("project ids missing from distribution: %s", strings.Join(e.Missing, ", "))
}

// PercentageSumError reports candidate percentages that do not add up to 1 at 4 decimals.
type PercentageSumError struct {
	Sum float64
}

func (e *PercentageSumError) Error() string {
	return fmt.Sprintf("match pool percentages add up to %.4f, want 1.0000", e.Sum)
}

// ParseError is a schema violation in an uploaded distribution file.
type ParseError struct {
	Index  int // -1 when the document itself is malformed
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid distribution file: %s", e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid distribution entry %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid distribution entry %d: %s %s", e.Index, e.Field, e.Reason)
}
