package ledger

import (
	"errors"
	"fmt"
)

// ErrTxReverted is returned when a mined transaction failed; retrying will not help.
var ErrTxReverted = errors.New("transaction reverted")

// LedgerUnavailableError wraps a failed ledger read or write that may succeed on retry.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LedgerUnavailableError{Op: op, Err: err}
}
