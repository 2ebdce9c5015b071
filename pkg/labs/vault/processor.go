// Package vault implements the vault lab program: a config record naming an
// admin, a global freeze flag, a program treasury and per-user vaults, all at
// addresses derived from the program id.
//
// Every instruction runs as decode, resolve, an ordered check pipeline and one
// state transition. A Processor built with Flaws leaves out the checks those
// flaws name, reproducing the corresponding lab.
package vault

import (
	"fmt"
	"math"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
)

// Account schemas, in positional order.
var (
	InitialiseSchema        = program.Schema{"payer", "config", "state", "treasury", "system_program"}
	InitialiseVaultSchema   = program.Schema{"user", "vault", "system_program"}
	DepositSchema           = program.Schema{"vault"}
	WithdrawSchema          = program.Schema{"user", "vault", "state"}
	SetStateSchema          = program.Schema{"admin", "config", "state"}
	CloseContractSchema     = program.Schema{"admin", "config", "treasury"}
	DepositToOpponentSchema = program.Schema{"player_vault", "opponent_vault"}
)

// Processor executes vault instructions.
type Processor struct {
	Flaws  Flaws
	Layout VaultLayout
}

// NewProcessor returns a processor for profile.
func NewProcessor(profile Profile) *Processor {
	return &Processor{Flaws: profile.Flaws, Layout: profile.Layout}
}

// plan is a resolved instruction: the checks to run and the transition to
// apply once they pass.
type plan struct {
	checks *program.Pipeline
	apply  func() error
}

// Process implements program.Entrypoint.
func (p *Processor) Process(host program.Host, programID types.Pubkey, accounts []*program.AccountRef, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	host.Log("Instruction: " + ix.String())

	pl, err := p.plan(host, programID, ix, accounts)
	if err != nil {
		return err
	}
	if err := pl.checks.Run(); err != nil {
		return err
	}
	return pl.apply()
}

func (p *Processor) plan(host program.Host, programID types.Pubkey, ix Instruction, accounts []*program.AccountRef) (*plan, error) {
	var schema program.Schema
	var build func(host program.Host, programID types.Pubkey, b program.Bindings) *plan

	switch ix.Enum {
	case InstructionInitialise:
		schema, build = InitialiseSchema, p.initialise
	case InstructionInitialiseVault:
		schema, build = InitialiseVaultSchema, p.initialiseVault
	case InstructionDeposit:
		schema = DepositSchema
		build = func(h program.Host, id types.Pubkey, b program.Bindings) *plan {
			return p.deposit(h, id, b, ix.Deposit.Amount)
		}
	case InstructionWithdraw:
		schema, build = WithdrawSchema, p.withdraw
	case InstructionSetState:
		schema = SetStateSchema
		build = func(h program.Host, id types.Pubkey, b program.Bindings) *plan {
			return p.setState(h, id, b, ix.SetState.Desired)
		}
	case InstructionCloseContract:
		schema, build = CloseContractSchema, p.closeContract
	case InstructionDepositToOpponent:
		schema = DepositToOpponentSchema
		build = func(h program.Host, id types.Pubkey, b program.Bindings) *plan {
			return p.depositToOpponent(h, id, b, ix.DepositToOpponent.Amount)
		}
	default:
		return nil, program.Errorf(program.ErrDecode, "unhandled %s", ix)
	}

	b, err := program.Resolve(accounts, schema)
	if err != nil {
		return nil, err
	}
	return build(host, programID, b), nil
}

// derived captures the address and bump of a derivation for later signing.
type derived struct {
	addr types.Pubkey
	bump uint8
}

func (d *derived) from(fn func() (types.Pubkey, uint8, error)) func() (types.Pubkey, error) {
	return func() (types.Pubkey, error) {
		addr, bump, err := fn()
		if err != nil {
			return types.Pubkey{}, err
		}
		d.addr, d.bump = addr, bump
		return addr, nil
	}
}

func (d *derived) seeds(seeds ...[]byte) [][]byte {
	return append(seeds, []byte{d.bump})
}

func (p *Processor) initialise(host program.Host, programID types.Pubkey, b program.Bindings) *plan {
	payer, config, state, treasury := b.Get("payer"), b.Get("config"), b.Get("state"), b.Get("treasury")
	var cfgPDA, statePDA, treasuryPDA derived

	checks := program.NewPipeline().
		Signer("payer", payer).
		Address("config", config, cfgPDA.from(func() (types.Pubkey, uint8, error) { return ConfigAddress(programID) })).
		Address("state", state, statePDA.from(func() (types.Pubkey, uint8, error) { return StateAddress(programID) })).
		Address("treasury", treasury, treasuryPDA.from(func() (types.Pubkey, uint8, error) { return TreasuryAddress(programID) }))

	apply := func() error {
		records := []struct {
			ref    *program.AccountRef
			pda    *derived
			seed   []byte
			record []byte
		}{
			{config, &cfgPDA, SeedConfig, Config{Admin: payer.Address}.Encode()},
			{state, &statePDA, SeedState, State{Frozen: false}.Encode()},
			{treasury, &treasuryPDA, SeedVault, p.Layout.Encode(Vault{Authority: payer.Address})},
		}
		for _, r := range records {
			space := uint64(len(r.record))
			if err := host.CreateAccount(payer, r.ref, host.MinimumBalance(space), space, programID, r.pda.seeds(r.seed)...); err != nil {
				return err
			}
			if err := write(r.ref, r.record); err != nil {
				return err
			}
		}
		host.Log(fmt.Sprintf("Initialised with admin %s", payer.Address))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) initialiseVault(host program.Host, programID types.Pubkey, b program.Bindings) *plan {
	user, vault := b.Get("user"), b.Get("vault")
	var vaultPDA derived

	checks := program.NewPipeline().
		Signer("user", user).
		Address("vault", vault, vaultPDA.from(func() (types.Pubkey, uint8, error) { return UserVaultAddress(programID, user.Address) }))

	apply := func() error {
		record := p.Layout.Encode(Vault{Authority: user.Address})
		space := uint64(len(record))
		if err := host.CreateAccount(user, vault, host.MinimumBalance(space), space, programID, vaultPDA.seeds(user.Address.Bytes(), SeedVault)...); err != nil {
			return err
		}
		if err := write(vault, record); err != nil {
			return err
		}
		host.Log(fmt.Sprintf("Vault %s initialised for %s", vault.Address, user.Address))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) deposit(host program.Host, programID types.Pubkey, b program.Bindings, amount uint32) *plan {
	vault := b.Get("vault")

	checks := program.NewPipeline().Writable("vault", vault)
	if !p.Flaws.Has(FlawUncheckedDepositOwner) {
		checks.Owner("vault", vault, programID)
	}

	apply := func() error {
		v, err := DecodeVault(vault.Data)
		if err != nil {
			return err
		}
		if v.Amount, err = p.add(v.Amount, amount); err != nil {
			return err
		}
		if err := write(vault, v.Encode()); err != nil {
			return err
		}
		host.Log(fmt.Sprintf("Deposited %d into vault", amount))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) withdraw(host program.Host, programID types.Pubkey, b program.Bindings) *plan {
	user, vault, state := b.Get("user"), b.Get("vault"), b.Get("state")

	checks := program.NewPipeline().
		Owner("vault", vault, programID).
		Owner("state", state, programID).
		Address("state", state, dropBump(func() (types.Pubkey, uint8, error) { return StateAddress(programID) }))
	if !p.Flaws.Has(FlawMissingWithdrawSigner) {
		checks.Signer("user", user)
	}
	checks.
		Then("authority(vault)", func() error { return requireAuthority(vault, user) }).
		Then("unfrozen(state)", func() error { return RequireUnfrozen(state) }).
		Address("vault", vault, dropBump(func() (types.Pubkey, uint8, error) { return UserVaultAddress(programID, user.Address) }))

	apply := func() error {
		amount, err := program.Drain(vault, user)
		if err != nil {
			return err
		}
		program.Close(vault)
		host.Log(fmt.Sprintf("Withdrew %d lamports to %s", amount, user.Address))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) setState(host program.Host, programID types.Pubkey, b program.Bindings, desired FreezeState) *plan {
	admin, config, state := b.Get("admin"), b.Get("config"), b.Get("state")

	checks := program.NewPipeline()
	p.configChecks(checks, programID, config)
	checks.
		Owner("state", state, programID).
		Address("state", state, dropBump(func() (types.Pubkey, uint8, error) { return StateAddress(programID) })).
		Signer("admin", admin).
		Then("admin(config)", func() error { return requireAdmin(config, admin) })

	apply := func() error {
		if err := write(state, State{Frozen: desired == Frozen}.Encode()); err != nil {
			return err
		}
		host.Log("State changed to " + desired.String())
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) closeContract(host program.Host, programID types.Pubkey, b program.Bindings) *plan {
	admin, config, treasury := b.Get("admin"), b.Get("config"), b.Get("treasury")

	checks := program.NewPipeline().Signer("admin", admin)
	p.configChecks(checks, programID, config)
	checks.
		Then("admin(config)", func() error { return requireAdmin(config, admin) }).
		Owner("treasury", treasury, programID).
		Address("treasury", treasury, dropBump(func() (types.Pubkey, uint8, error) { return TreasuryAddress(programID) }))

	apply := func() error {
		amount, err := program.Drain(treasury, admin)
		if err != nil {
			return err
		}
		program.Close(treasury)
		host.Log(fmt.Sprintf("Contract closed, %d lamports sent to %s", amount, admin.Address))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

func (p *Processor) depositToOpponent(host program.Host, programID types.Pubkey, b program.Bindings, amount uint32) *plan {
	player, opponent := b.Get("player_vault"), b.Get("opponent_vault")

	checks := program.NewPipeline().
		Writable("player_vault", player).
		Writable("opponent_vault", opponent).
		Then("distinct(player_vault,opponent_vault)", func() error {
			if player.Address == opponent.Address {
				return program.Errorf(program.ErrWrongAddress, "player and opponent vault are both %s", player.Address)
			}
			return nil
		})
	if !p.Flaws.Has(FlawUncheckedDepositOwner) {
		checks.
			Owner("player_vault", player, programID).
			Owner("opponent_vault", opponent, programID)
	}

	apply := func() error {
		pv, err := DecodeVault(player.Data)
		if err != nil {
			return err
		}
		ov, err := DecodeVault(opponent.Data)
		if err != nil {
			return err
		}
		double, err := p.add(amount, amount)
		if err != nil {
			return err
		}
		if ov.Amount, err = p.add(ov.Amount, amount); err != nil {
			return err
		}
		if pv.Amount, err = p.add(pv.Amount, double); err != nil {
			return err
		}
		if err := write(opponent, ov.Encode()); err != nil {
			return err
		}
		if err := write(player, pv.Encode()); err != nil {
			return err
		}
		host.Log(fmt.Sprintf("Deposited %d to opponent, %d back to player", amount, double))
		return nil
	}
	return &plan{checks: checks, apply: apply}
}

// configChecks authenticates the config record before anything trusts it.
func (p *Processor) configChecks(checks *program.Pipeline, programID types.Pubkey, config *program.AccountRef) {
	if p.Flaws.Has(FlawUncheckedConfigOwner) {
		return
	}
	checks.Owner("config", config, programID)
	if !p.Flaws.Has(FlawUncheckedConfigAddress) {
		checks.Address("config", config, dropBump(func() (types.Pubkey, uint8, error) { return ConfigAddress(programID) }))
	}
}

// add is checked u32 addition unless the counter is allowed to wrap.
func (p *Processor) add(a, b uint32) (uint32, error) {
	if p.Flaws.Has(FlawWrappingCounter) {
		return a + b, nil
	}
	if a > math.MaxUint32-b {
		return 0, program.Errorf(program.ErrOverflow, "%d + %d", a, b)
	}
	return a + b, nil
}

func requireAuthority(vault, user *program.AccountRef) error {
	v, err := DecodeVault(vault.Data)
	if err != nil {
		return err
	}
	if v.Authority != user.Address {
		return program.Errorf(program.ErrWrongOwner, "vault %s belongs to %s, not %s", vault.Address, v.Authority, user.Address)
	}
	return nil
}

func requireAdmin(config, admin *program.AccountRef) error {
	c, err := DecodeConfig(config.Data)
	if err != nil {
		return err
	}
	if c.Admin != admin.Address {
		return program.Errorf(program.ErrWrongOwner, "%s is not the admin", admin.Address)
	}
	return nil
}

func dropBump(fn func() (types.Pubkey, uint8, error)) func() (types.Pubkey, error) {
	return func() (types.Pubkey, error) {
		addr, _, err := fn()
		return addr, err
	}
}

var _ program.Entrypoint = (*Processor)(nil)
