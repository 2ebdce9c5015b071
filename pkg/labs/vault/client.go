package vault

import (
	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

// Addresses holds the program-wide derived addresses of one deployment.
type Addresses struct {
	ProgramID types.Pubkey
	Config    types.Pubkey
	State     types.Pubkey
	Treasury  types.Pubkey
}

// DeriveAddresses computes the program-wide addresses of programID.
func DeriveAddresses(programID types.Pubkey) (Addresses, error) {
	a := Addresses{ProgramID: programID}
	var err error
	if a.Config, _, err = ConfigAddress(programID); err != nil {
		return a, err
	}
	if a.State, _, err = StateAddress(programID); err != nil {
		return a, err
	}
	if a.Treasury, _, err = TreasuryAddress(programID); err != nil {
		return a, err
	}
	return a, nil
}

// UserVault derives the vault of user.
func (a Addresses) UserVault(user types.Pubkey) (types.Pubkey, error) {
	addr, _, err := UserVaultAddress(a.ProgramID, user)
	return addr, err
}

func (a Addresses) instruction(ix Instruction, metas ...runtime.AccountMeta) runtime.Instruction {
	return runtime.Instruction{ProgramID: a.ProgramID, Accounts: metas, Data: ix.Encode()}
}

// NewInitialise builds Initialise with payer as admin.
func (a Addresses) NewInitialise(payer types.Pubkey) runtime.Instruction {
	return a.instruction(Instruction{Enum: InstructionInitialise},
		runtime.WritableSigner(payer),
		runtime.Writable(a.Config),
		runtime.Writable(a.State),
		runtime.Writable(a.Treasury),
		runtime.ReadOnly(system.ProgramID),
	)
}

// NewInitialiseVault builds InitialiseVault for user.
func (a Addresses) NewInitialiseVault(user types.Pubkey) (runtime.Instruction, error) {
	vault, err := a.UserVault(user)
	if err != nil {
		return runtime.Instruction{}, err
	}
	return a.instruction(Instruction{Enum: InstructionInitialiseVault},
		runtime.WritableSigner(user),
		runtime.Writable(vault),
		runtime.ReadOnly(system.ProgramID),
	), nil
}

// NewDeposit builds Deposit into vault.
func (a Addresses) NewDeposit(vault types.Pubkey, amount uint32) runtime.Instruction {
	return a.instruction(Instruction{Enum: InstructionDeposit, Deposit: Deposit{Amount: amount}},
		runtime.Writable(vault),
	)
}

// NewWithdraw builds Withdraw of vault to user. signed controls whether user
// is declared as signer.
func (a Addresses) NewWithdraw(user, vault types.Pubkey, signed bool) runtime.Instruction {
	userMeta := runtime.Writable(user)
	userMeta.IsSigner = signed
	return a.instruction(Instruction{Enum: InstructionWithdraw},
		userMeta,
		runtime.Writable(vault),
		runtime.ReadOnly(a.State),
	)
}

// NewSetState builds SetState authorized by admin against config.
func (a Addresses) NewSetState(admin, config types.Pubkey, desired FreezeState) runtime.Instruction {
	return a.instruction(Instruction{Enum: InstructionSetState, SetState: SetState{Desired: desired}},
		runtime.Signer(admin),
		runtime.ReadOnly(config),
		runtime.Writable(a.State),
	)
}

// NewCloseContract builds CloseContract authorized by admin against config.
func (a Addresses) NewCloseContract(admin, config types.Pubkey) runtime.Instruction {
	return a.instruction(Instruction{Enum: InstructionCloseContract},
		runtime.WritableSigner(admin),
		runtime.ReadOnly(config),
		runtime.Writable(a.Treasury),
	)
}

// NewDepositToOpponent builds DepositToOpponent between two vaults.
func (a Addresses) NewDepositToOpponent(playerVault, opponentVault types.Pubkey, amount uint32) runtime.Instruction {
	return a.instruction(Instruction{Enum: InstructionDepositToOpponent, DepositToOpponent: DepositToOpponent{Amount: amount}},
		runtime.Writable(playerVault),
		runtime.Writable(opponentVault),
	)
}
