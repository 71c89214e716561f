package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected failure modes. Business outcomes are returned
// as tagged results; these kinds cover the error leg of those results so
// callers can map them to protocol responses and retry policy.
type ErrorKind int

const (
	// KindValidation: bad request shape or business-rule violation. Reported
	// to the originator, never retried automatically.
	KindValidation ErrorKind = iota + 1
	// KindLiquidity: insufficient reservable capacity. Reported, not retried.
	KindLiquidity
	// KindDuplicateConflict: same id, different body. Client error; the
	// original transfer is untouched.
	KindDuplicateConflict
	// KindInvalidState: operation against a transfer in the wrong lifecycle
	// state. Fatal for that message; logged for manual reconciliation.
	KindInvalidState
	// KindBackend: I/O failure against a store. Retryable only where an
	// idempotency key guarantees no double effect.
	KindBackend
	// KindInvariant: a conservation or summation invariant was violated.
	// Treated as a bug, not a business error.
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindLiquidity:
		return "LIQUIDITY"
	case KindDuplicateConflict:
		return "DUPLICATE_CONFLICT"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindBackend:
		return "BACKEND"
	case KindInvariant:
		return "INVARIANT"
	}
	return "UNKNOWN"
}

// Error is the typed domain error carried by tagged results.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ValidationError(message string) *Error {
	return NewError(KindValidation, message)
}

func LiquidityError(message string) *Error {
	return NewError(KindLiquidity, message)
}

func DuplicateConflictError(message string) *Error {
	return NewError(KindDuplicateConflict, message)
}

func InvalidStateError(message string) *Error {
	return NewError(KindInvalidState, message)
}

func BackendError(message string, err error) *Error {
	return WrapError(KindBackend, message, err)
}

func InvariantError(message string) *Error {
	return NewError(KindInvariant, message)
}

// KindOf returns the ErrorKind of err, or 0 if err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
