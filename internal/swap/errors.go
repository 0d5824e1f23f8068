package swap

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the Coordinator matches exactly one
// of these with errors.Is, except internal storage faults.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrCommitment    = errors.New("commitment error")
	ErrTiming        = errors.New("timing error")
	ErrTransfer      = errors.New("transfer failure")
)

// Causes
var (
	ErrSwapNotFound     = errors.New("swap not found")
	ErrSwapExists       = errors.New("swap already exists")
	ErrAlreadyFinalized = errors.New("swap already finalized")
	ErrSameParties      = errors.New("initiator and participant must differ")
	ErrEmptyAccount     = errors.New("account is required")
	ErrOperatorIsParty  = errors.New("operator must differ from both principals")
	ErrCustodyIsParty   = errors.New("custody account cannot be a party")
)

// Error is a classified coordinator failure.
type Error struct {
	Op   string // initiate, complete, refund, get
	Kind error  // one of the kind sentinels
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fail(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrValidation, "validation"},
	{ErrAuthorization, "authorization"},
	{ErrState, "state"},
	{ErrCommitment, "commitment"},
	{ErrTiming, "timing"},
	{ErrTransfer, "transfer"},
}

// KindOf returns the kind sentinel of err, or nil if err is unclassified.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// KindName returns a short label for err's kind, "internal" when
// unclassified and "" for nil.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	for _, k := range kinds {
		if kind == k.err {
			return k.name
		}
	}
	return "internal"
}
