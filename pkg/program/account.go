// Package program holds the pieces every lab program is built from: the account
// references a host hands to an invocation, the error kinds, the resolver that
// binds positional accounts to roles, the ordered validation pipeline and the
// lamport transfer primitive.
package program

import (
	"fmt"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// AccountRef is the host-provided view of one account for one invocation.
// Programs may change Lamports and the contents of Data in place. Owner and the
// length of Data only change through Host services.
type AccountRef struct {
	Address    types.Pubkey
	Owner      types.Pubkey
	IsSigner   bool
	IsWritable bool
	Lamports   uint64
	Data       []byte
	Executable bool
}

func (a *AccountRef) String() string {
	flags := ""
	if a.IsSigner {
		flags += "s"
	}
	if a.IsWritable {
		flags += "w"
	}
	return fmt.Sprintf("%s[%s]", a.Address, flags)
}

// IsEmpty reports whether the account was never created.
func (a *AccountRef) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && a.Owner == types.SystemProgramAddr
}

// Host is what the runtime offers a program during an invocation.
type Host interface {
	// CreateAccount funds target from payer with lamports, allocates space bytes
	// of zeroed data and assigns it to owner. signerSeeds authorize a target
	// derived from the calling program.
	CreateAccount(payer, target *AccountRef, lamports, space uint64, owner types.Pubkey, signerSeeds ...[]byte) error

	// AssignOwner hands target to owner.
	AssignOwner(target *AccountRef, owner types.Pubkey, signerSeeds ...[]byte) error

	// MinimumBalance is the lamports an account of space bytes must hold.
	MinimumBalance(space uint64) uint64

	// Log appends a line to the transaction's program log.
	Log(msg string)
}

// Entrypoint is implemented by every program the runtime can invoke.
type Entrypoint interface {
	Process(host Host, programID types.Pubkey, accounts []*AccountRef, data []byte) error
}

// EntrypointFunc adapts a function to Entrypoint.
type EntrypointFunc func(host Host, programID types.Pubkey, accounts []*AccountRef, data []byte) error

// Process calls f.
func (f EntrypointFunc) Process(host Host, programID types.Pubkey, accounts []*AccountRef, data []byte) error {
	return f(host, programID, accounts, data)
}
