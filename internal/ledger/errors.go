package ledger

import (
	"errors"
	"fmt"
)

// Sentinel validation errors. They are always wrapped in an *OpError.
var (
	ErrInvalidAmount  = errors.New("calories must be a positive number")
	ErrOutOfRange     = errors.New("entry position out of range")
	ErrNothingToReset = errors.New("nothing to reset")
)

// OpError describes a rejected operation together with the record state
// the caller needs to correct its input.
type OpError struct {
	Op    string
	Err   error
	Count int
	Total int
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v (entries=%d, total=%d)", e.Op, e.Err, e.Count, e.Total)
}

func (e *OpError) Unwrap() error { return e.Err }
