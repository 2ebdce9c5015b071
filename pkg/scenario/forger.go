package scenario

import (
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/pda"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

// ForgerProgramID is where the attacker's helper program is deployed.
var ForgerProgramID = types.MustPubkeyFromBase58("Forger1111111111111111111111111111111111111")

// ForgeArgs asks the forger to create an account it owns at the address
// derived from Seed and fill it with Record.
type ForgeArgs struct {
	Seed   string
	Record []byte
}

var forgeSchema = program.Schema{"payer", "target"}

// Forger is an attacker-controlled program that writes arbitrary records into
// accounts it owns. Records it produces look exactly like the vault program's.
type Forger struct{}

// Process implements program.Entrypoint.
func (Forger) Process(host program.Host, programID types.Pubkey, accounts []*program.AccountRef, data []byte) error {
	var args ForgeArgs
	if err := borsh.Deserialize(&args, data); err != nil {
		return program.Errorf(program.ErrDecode, "%v", err)
	}
	b, err := program.Resolve(accounts, forgeSchema)
	if err != nil {
		return err
	}
	payer, target := b.Get("payer"), b.Get("target")

	addr, bump, err := pda.FindProgramAddress([][]byte{[]byte(args.Seed)}, programID)
	if err != nil {
		return err
	}
	if err := program.RequireAddress(target, addr); err != nil {
		return err
	}

	space := uint64(len(args.Record))
	if err := host.CreateAccount(payer, target, host.MinimumBalance(space), space, programID, []byte(args.Seed), []byte{bump}); err != nil {
		return err
	}
	copy(target.Data, args.Record)
	host.Log(fmt.Sprintf("Forged %d bytes at %s", len(args.Record), target.Address))
	return nil
}

// ForgedAddress derives the account the forger creates for seed.
func ForgedAddress(seed string) (types.Pubkey, error) {
	addr, _, err := pda.FindProgramAddress([][]byte{[]byte(seed)}, ForgerProgramID)
	return addr, err
}

// NewForge builds a forger instruction paid by payer.
func NewForge(payer types.Pubkey, seed string, record []byte) (runtime.Instruction, types.Pubkey, error) {
	target, err := ForgedAddress(seed)
	if err != nil {
		return runtime.Instruction{}, types.Pubkey{}, err
	}
	data, err := borsh.Serialize(ForgeArgs{Seed: seed, Record: record})
	if err != nil {
		return runtime.Instruction{}, types.Pubkey{}, err
	}
	return runtime.Instruction{
		ProgramID: ForgerProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(payer),
			runtime.Writable(target),
			runtime.ReadOnly(system.ProgramID),
		},
		Data: data,
	}, target, nil
}

var _ program.Entrypoint = Forger{}
