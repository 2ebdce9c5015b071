// Package svm holds the execution budget shared by the runtime and its native
// programs.
package svm

import (
	"errors"
	"fmt"
)

// Compute unit costs charged by the lab runtime.
const (
	CUDefault              = uint64(200_000)   // Default transaction budget
	CUMax                  = uint64(1_400_000) // Largest budget a runtime may configure
	CUSignatureVerify      = uint64(720)       // Per ed25519 signature
	CUInvokeBase           = uint64(1_000)     // Per top-level or cross-program invocation
	CUSystemProgramDefault = uint64(150)       // Per system program instruction
	CUWriteLock            = uint64(300)       // Per writable account
)

// CPIDepthMax bounds nested invocations.
const CPIDepthMax = 4

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = errors.New("compute budget exceeded")

	// ErrComputeInvalidLimit is returned for an out-of-range limit.
	ErrComputeInvalidLimit = errors.New("invalid compute unit limit")
)

// ComputeMeter tracks compute unit consumption for one transaction.
// It is owned by a single executing goroutine.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a meter with the given limit.
func NewComputeMeter(limit uint64) (*ComputeMeter, error) {
	if limit == 0 || limit > CUMax {
		return nil, fmt.Errorf("%w: %d", ErrComputeInvalidLimit, limit)
	}
	return &ComputeMeter{remaining: limit, limit: limit}, nil
}

// Consume charges cost units. Once exhausted the meter stays at zero.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if left := cm.remaining; left < cost {
		cm.consumed += left
		cm.remaining = 0
		return fmt.Errorf("%w: need %d, %d of %d left", ErrComputeExceeded, cost, left, cm.limit)
	}
	cm.remaining -= cost
	cm.consumed += cost
	return nil
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
