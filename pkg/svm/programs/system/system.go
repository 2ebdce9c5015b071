// Package system implements the native system program.
//
// The system program owns every account that has not been handed to another
// program yet. It is the only way to:
// - create accounts
// - move lamports out of wallet accounts
// - assign accounts to a program
// - allocate account space
package system

import (
	"errors"
	"fmt"
	"math"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
)

// ProgramID is the system program address.
var ProgramID = types.SystemProgramAddr

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// MaxAccountDataSize bounds Allocate and CreateAccount.
const MaxAccountDataSize = 10 * 1024 * 1024

// Instruction is the system program's wire format: a one byte variant index
// followed by the variant's fields.
type Instruction struct {
	Enum          borsh.Enum `borsh_enum:"true"`
	CreateAccount CreateAccount
	Assign        Assign
	Transfer      Transfer
	Allocate      Allocate
}

// Variant indexes.
const (
	InstructionCreateAccount borsh.Enum = iota
	InstructionAssign
	InstructionTransfer
	InstructionAllocate
)

// CreateAccount accounts: [0] funder (signer, writable), [1] new account (signer, writable).
type CreateAccount struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// Assign accounts: [0] account (signer, writable).
type Assign struct {
	Owner types.Pubkey
}

// Transfer accounts: [0] from (signer, writable), [1] to (writable).
type Transfer struct {
	Lamports uint64
}

// Allocate accounts: [0] account (signer, writable).
type Allocate struct {
	Space uint64
}

// Encode serializes the instruction.
func (ix Instruction) Encode() []byte {
	data, err := borsh.Serialize(ix)
	if err != nil {
		// Only an out-of-range Enum fails, which the constructors never produce.
		panic(fmt.Sprintf("system: encode instruction: %v", err))
	}
	return data
}

// EncodeCreateAccount builds CreateAccount instruction data.
func EncodeCreateAccount(lamports, space uint64, owner types.Pubkey) []byte {
	return Instruction{Enum: InstructionCreateAccount, CreateAccount: CreateAccount{Lamports: lamports, Space: space, Owner: owner}}.Encode()
}

// EncodeAssign builds Assign instruction data.
func EncodeAssign(owner types.Pubkey) []byte {
	return Instruction{Enum: InstructionAssign, Assign: Assign{Owner: owner}}.Encode()
}

// EncodeTransfer builds Transfer instruction data.
func EncodeTransfer(lamports uint64) []byte {
	return Instruction{Enum: InstructionTransfer, Transfer: Transfer{Lamports: lamports}}.Encode()
}

// EncodeAllocate builds Allocate instruction data.
func EncodeAllocate(space uint64) []byte {
	return Instruction{Enum: InstructionAllocate, Allocate: Allocate{Space: space}}.Encode()
}

// Processor executes system program instructions.
type Processor struct{}

// NewProcessor creates a new system program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a system program instruction.
func (p *Processor) Process(host program.Host, _ types.Pubkey, accounts []*program.AccountRef, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstructionData
	}
	var ix Instruction
	if err := borsh.Deserialize(&ix, data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	switch ix.Enum {
	case InstructionCreateAccount:
		return p.processCreateAccount(host, accounts, ix.CreateAccount)
	case InstructionAssign:
		return p.processAssign(host, accounts, ix.Assign)
	case InstructionTransfer:
		return p.processTransfer(host, accounts, ix.Transfer)
	case InstructionAllocate:
		return p.processAllocate(host, accounts, ix.Allocate)
	default:
		return ErrInvalidInstructionData
	}
}

func account(accounts []*program.AccountRef, i int) (*program.AccountRef, error) {
	if i >= len(accounts) {
		return nil, ErrNotEnoughAccountKeys
	}
	return accounts[i], nil
}

func isUnused(a *program.AccountRef) bool {
	return a.Owner == ProgramID && len(a.Data) == 0 && a.Lamports == 0
}

func (p *Processor) processCreateAccount(host program.Host, accounts []*program.AccountRef, params CreateAccount) error {
	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := account(accounts, 0)
	if err != nil {
		return err
	}
	newAccount, err := account(accounts, 1)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}
	if !isUnused(newAccount) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, newAccount.Address)
	}
	if funder.Lamports < params.Lamports {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, funder.Address, funder.Lamports, params.Lamports)
	}
	if params.Lamports < host.MinimumBalance(params.Space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= params.Lamports
	newAccount.Lamports = params.Lamports
	newAccount.Data = make([]byte, params.Space)
	newAccount.Owner = params.Owner

	host.Log(fmt.Sprintf("CreateAccount: %s space=%d owner=%s", newAccount.Address, params.Space, params.Owner))
	return nil
}

func (p *Processor) processAssign(host program.Host, accounts []*program.AccountRef, params Assign) error {
	acc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if !acc.IsSigner {
		return ErrMissingRequiredSignature
	}
	if acc.Owner == params.Owner {
		return nil
	}
	if acc.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	acc.Owner = params.Owner

	host.Log(fmt.Sprintf("Assign: %s owner=%s", acc.Address, params.Owner))
	return nil
}

func (p *Processor) processTransfer(host program.Host, accounts []*program.AccountRef, params Transfer) error {
	from, err := account(accounts, 0)
	if err != nil {
		return err
	}
	to, err := account(accounts, 1)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if len(from.Data) > 0 || from.Owner != ProgramID {
		return fmt.Errorf("%w: transfer source %s must be a plain system account", ErrInvalidAccountOwner, from.Address)
	}
	if from.Lamports < params.Lamports {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from.Address, from.Lamports, params.Lamports)
	}
	if to.Lamports > math.MaxUint64-params.Lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= params.Lamports
	to.Lamports += params.Lamports

	host.Log(fmt.Sprintf("Transfer: %d lamports %s -> %s", params.Lamports, from.Address, to.Address))
	return nil
}

func (p *Processor) processAllocate(host program.Host, accounts []*program.AccountRef, params Allocate) error {
	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	acc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if !acc.IsSigner {
		return ErrMissingRequiredSignature
	}
	if acc.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(acc.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, acc.Address)
	}
	acc.Data = make([]byte, params.Space)

	host.Log(fmt.Sprintf("Allocate: %s space=%d", acc.Address, params.Space))
	return nil
}

var _ program.Entrypoint = (*Processor)(nil)
