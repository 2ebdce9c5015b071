package runtime

import "errors"

// Transaction-level failures.
var (
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrAlreadyProcessed      = errors.New("transaction already processed")
	ErrProgramNotFound       = errors.New("program not registered")
	ErrProgramExists         = errors.New("program already registered")
	ErrNoInstructions        = errors.New("transaction has no instructions")
	ErrUnknownAccount        = errors.New("account is not part of the transaction")
	ErrCallDepth             = errors.New("cross-program invocation too deep")
)

// Invariants the runtime enforces on every program segment.
var (
	ErrReadOnlyModified      = errors.New("read-only account modified")
	ErrExecutableModified    = errors.New("executable account modified")
	ErrOwnerModified         = errors.New("account owner modified illegally")
	ErrDataSizeChanged       = errors.New("account data resized by non-owner")
	ErrExternalDataModified  = errors.New("data of a foreign account modified")
	ErrExternalLamportSpend  = errors.New("lamports of a foreign account debited")
	ErrUnbalancedInstruction = errors.New("sum of lamports changed")
)
