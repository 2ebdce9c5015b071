package vault

import (
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/pkg/program"
)

// Instruction is the vault program's wire format: a one byte variant index
// followed by the variant's fields. Variant indexes are stable.
type Instruction struct {
	Enum              borsh.Enum `borsh_enum:"true"`
	Initialise        Initialise
	InitialiseVault   InitialiseVault
	Deposit           Deposit
	Withdraw          Withdraw
	SetState          SetState
	CloseContract     CloseContract
	DepositToOpponent DepositToOpponent
}

// Variant indexes.
const (
	InstructionInitialise borsh.Enum = iota
	InstructionInitialiseVault
	InstructionDeposit
	InstructionWithdraw
	InstructionSetState
	InstructionCloseContract
	InstructionDepositToOpponent
)

// Initialise creates the config, state and treasury records.
//
//  0. [s,w] payer, becomes admin
//  1. [w] config PDA ("config")
//  2. [w] state PDA ("state")
//  3. [w] treasury PDA ("vault")
//  4. [] system program
type Initialise struct{}

// InitialiseVault creates a user vault.
//
//  0. [s,w] user
//  1. [w] vault PDA (user, "vault")
//  2. [] system program
type InitialiseVault struct{}

// Deposit adds Amount to a vault's counter.
//
//  0. [w] vault
type Deposit struct {
	Amount uint32
}

// Withdraw moves a vault's whole balance to its authority and closes it.
//
//  0. [s,w] user
//  1. [w] vault
//  2. [] state
type Withdraw struct{}

// SetState changes the freeze flag.
//
//  0. [s] admin
//  1. [] config
//  2. [w] state
type SetState struct {
	Desired FreezeState
}

// CloseContract drains the treasury to the admin.
//
//  0. [s,w] admin
//  1. [] config
//  2. [w] treasury
type CloseContract struct{}

// DepositToOpponent credits Amount to the opponent and twice Amount to the player.
//
//  0. [w] player vault
//  1. [w] opponent vault
type DepositToOpponent struct {
	Amount uint32
}

func (ix Instruction) String() string {
	switch ix.Enum {
	case InstructionInitialise:
		return "Initialise"
	case InstructionInitialiseVault:
		return "InitialiseVault"
	case InstructionDeposit:
		return fmt.Sprintf("Deposit{%d}", ix.Deposit.Amount)
	case InstructionWithdraw:
		return "Withdraw"
	case InstructionSetState:
		return fmt.Sprintf("SetState{%s}", ix.SetState.Desired)
	case InstructionCloseContract:
		return "CloseContract"
	case InstructionDepositToOpponent:
		return fmt.Sprintf("DepositToOpponent{%d}", ix.DepositToOpponent.Amount)
	default:
		return fmt.Sprintf("Instruction(%d)", ix.Enum)
	}
}

// Encode serializes the instruction.
func (ix Instruction) Encode() []byte {
	data, err := borsh.Serialize(ix)
	if err != nil {
		panic(fmt.Sprintf("vault: encode instruction: %v", err))
	}
	return data
}

// DecodeInstruction parses instruction data. Every failure is ErrDecode:
// empty input, unknown variant, short payload, trailing bytes, or an
// out-of-range FreezeState.
func DecodeInstruction(data []byte) (Instruction, error) {
	var ix Instruction
	if len(data) == 0 {
		return ix, program.Errorf(program.ErrDecode, "empty instruction data")
	}
	if err := borsh.Deserialize(&ix, data); err != nil {
		return Instruction{}, program.Errorf(program.ErrDecode, "%v", err)
	}
	if ix.Enum == InstructionSetState && ix.SetState.Desired > Frozen {
		return Instruction{}, program.Errorf(program.ErrDecode, "freeze state %d", uint8(ix.SetState.Desired))
	}
	if n := len(ix.Encode()); n != len(data) {
		return Instruction{}, program.Errorf(program.ErrDecode, "%d trailing bytes after %s", len(data)-n, ix)
	}
	return ix, nil
}
