package program

import (
	"errors"
	"fmt"
)

// Every failed invocation maps to exactly one of these kinds.
var (
	ErrDecode              = errors.New("instruction data could not be decoded")
	ErrArity               = errors.New("not enough account references")
	ErrMissingSignature    = errors.New("missing required signature")
	ErrWrongOwner          = errors.New("account has the wrong owner")
	ErrWrongAddress        = errors.New("account address does not match derivation")
	ErrFrozen              = errors.New("program is frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSchema              = errors.New("account data does not match record schema")
	ErrHost                = errors.New("host service failed")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrNotWritable         = errors.New("account is not writable")
)

var kinds = []error{
	ErrDecode,
	ErrArity,
	ErrMissingSignature,
	ErrWrongOwner,
	ErrWrongAddress,
	ErrFrozen,
	ErrInsufficientBalance,
	ErrSchema,
	ErrHost,
	ErrOverflow,
	ErrNotWritable,
}

// Kind returns the error kind err belongs to, or nil if it is not a program error.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Errorf wraps kind with context.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// HostError wraps a failure reported by a host service.
func HostError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHost, op, err)
}
