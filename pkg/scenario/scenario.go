// Package scenario drives the lab programs through end-to-end stories: the
// honest flows every lab starts from and the exploits each flaw allows.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
	"github.com/fortiblox/X1-Vaultlab/pkg/journal"
	"github.com/fortiblox/X1-Vaultlab/pkg/labs/vault"
	"github.com/fortiblox/X1-Vaultlab/pkg/labs/welcome"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
)

// LamportsPerSOL is the native unit scale.
const LamportsPerSOL = 1_000_000_000

// ErrLedgerNotEmpty is returned when an environment is built on a used ledger.
var ErrLedgerNotEmpty = errors.New("ledger is not empty")

// Config configures an Env.
type Config struct {
	Profile vault.Profile

	// ProgramID is where the vault program is deployed.
	ProgramID types.Pubkey

	// DB defaults to a fresh in-memory store.
	DB accounts.DB

	Journal      *journal.Journal
	ComputeLimit uint64
	Logger       *zap.Logger
}

// DefaultConfig returns a secure deployment at the default program id.
func DefaultConfig() Config {
	return Config{
		Profile:   vault.ProfileSecure,
		ProgramID: types.VaultLabProgramAddr,
		Logger:    zap.NewNop(),
	}
}

// Env is a runtime with the lab programs deployed and the vault program
// initialised by Admin.
type Env struct {
	Runtime *runtime.Runtime
	Addrs   vault.Addresses
	Profile vault.Profile
	Admin   *types.Keypair

	log *zap.Logger
}

// NewEnv deploys the vault program with cfg.Profile, the welcome program and
// the forger, funds an admin and initialises the vault program.
func NewEnv(cfg Config) (*Env, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DB == nil {
		cfg.DB = accounts.NewMemoryDB()
	}
	if n, err := cfg.DB.AccountsCount(); err != nil {
		return nil, err
	} else if n > 0 {
		return nil, fmt.Errorf("%w: %d accounts", ErrLedgerNotEmpty, n)
	}

	rcfg := runtime.DefaultConfig()
	rcfg.Journal = cfg.Journal
	rcfg.Logger = cfg.Logger
	if cfg.ComputeLimit != 0 {
		rcfg.ComputeLimit = cfg.ComputeLimit
	}
	rt, err := runtime.New(cfg.DB, rcfg)
	if err != nil {
		return nil, err
	}

	programs := []struct {
		id    types.Pubkey
		name  string
		entry program.Entrypoint
	}{
		{cfg.ProgramID, "vault", vault.NewProcessor(cfg.Profile)},
		{types.WelcomeProgramAddr, "welcome", welcome.Processor{}},
		{ForgerProgramID, "forger", Forger{}},
	}
	for _, p := range programs {
		if err := rt.RegisterProgram(p.id, p.name, p.entry); err != nil {
			return nil, err
		}
	}

	addrs, err := vault.DeriveAddresses(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Runtime: rt,
		Addrs:   addrs,
		Profile: cfg.Profile,
		log:     cfg.Logger.Named("scenario"),
	}

	if env.Admin, err = env.NewWallet(100 * LamportsPerSOL); err != nil {
		return nil, err
	}
	if err := env.Submit([]*types.Keypair{env.Admin}, addrs.NewInitialise(env.Admin.Pubkey())); err != nil {
		return nil, fmt.Errorf("initialise: %w", err)
	}
	return env, nil
}

// NewWallet creates a keypair funded with lamports.
func (e *Env) NewWallet(lamports uint64) (*types.Keypair, error) {
	kp, err := types.NewKeypair()
	if err != nil {
		return nil, err
	}
	if err := e.Runtime.Airdrop(kp.Pubkey(), lamports); err != nil {
		return nil, err
	}
	return kp, nil
}

// Submit executes one transaction and returns its outcome.
func (e *Env) Submit(signers []*types.Keypair, ixs ...runtime.Instruction) error {
	_, err := e.execute(signers, ixs...)
	return err
}

func (e *Env) execute(signers []*types.Keypair, ixs ...runtime.Instruction) (*runtime.Result, error) {
	tx, err := runtime.NewTransaction(ixs, signers...)
	if err != nil {
		return nil, err
	}
	res, err := e.Runtime.Execute(tx)
	if err != nil {
		return nil, err
	}
	return res, res.Err
}

// NewPlayer creates a funded wallet with an initialised vault.
func (e *Env) NewPlayer() (*types.Keypair, types.Pubkey, error) {
	kp, err := e.NewWallet(10 * LamportsPerSOL)
	if err != nil {
		return nil, types.Pubkey{}, err
	}
	ix, err := e.Addrs.NewInitialiseVault(kp.Pubkey())
	if err != nil {
		return nil, types.Pubkey{}, err
	}
	if err := e.Submit([]*types.Keypair{kp}, ix); err != nil {
		return nil, types.Pubkey{}, fmt.Errorf("initialise vault: %w", err)
	}
	vaultAddr, err := e.Addrs.UserVault(kp.Pubkey())
	return kp, vaultAddr, err
}

// Vault reads a committed vault record.
func (e *Env) Vault(addr types.Pubkey) (vault.Vault, error) {
	acc, err := e.Runtime.GetAccount(addr)
	if err != nil {
		return vault.Vault{}, err
	}
	return vault.DecodeVault(acc.Data)
}

// Frozen reads the committed freeze flag.
func (e *Env) Frozen() (bool, error) {
	acc, err := e.Runtime.GetAccount(e.Addrs.State)
	if err != nil {
		return false, err
	}
	s, err := vault.DecodeState(acc.Data)
	return s.Frozen, err
}

// Step is one transaction of a scenario.
type Step struct {
	Action string
	Err    error
	Logs   []string
}

// OK reports whether the step committed.
func (s Step) OK() bool { return s.Err == nil }

// Report is the outcome of a scenario run.
type Report struct {
	Scenario string
	Profile  string
	Steps    []Step

	// Exploited is set when the attack in the scenario succeeded.
	Exploited bool
	Result    string
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s (profile %s)\n", r.Scenario, r.Profile)
	for i, s := range r.Steps {
		status := "ok"
		if s.Err != nil {
			status = "failed: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, s.Action, status)
	}
	fmt.Fprintf(&b, "result: %s\n", r.Result)
	if r.Exploited {
		b.WriteString("exploited: yes\n")
	} else {
		b.WriteString("exploited: no\n")
	}
	return b.String()
}

// step signs and runs one transaction and records it.
func (e *Env) step(r *Report, action string, signers []*types.Keypair, ixs ...runtime.Instruction) (Step, error) {
	tx, err := runtime.NewTransaction(ixs, signers...)
	if err != nil {
		return Step{}, err
	}
	return e.stepTx(r, action, tx)
}

// stepTx runs an already signed transaction and records it. The returned error
// reports storage failures only; a rejected transaction is part of the story
// and is kept in Step.Err.
func (e *Env) stepTx(r *Report, action string, tx *runtime.Transaction) (Step, error) {
	res, err := e.Runtime.Execute(tx)
	if err != nil {
		return Step{}, err
	}
	s := Step{Action: action, Err: res.Err, Logs: res.Logs}
	r.Steps = append(r.Steps, s)
	e.log.Info("step",
		zap.String("scenario", r.Scenario),
		zap.String("action", action),
		zap.Bool("ok", s.OK()),
		zap.Error(res.Err),
	)
	return s, nil
}

// Scenario is a named story.
type Scenario struct {
	Name        string
	Description string
	run         func(e *Env, r *Report) error
}

var registry = map[string]Scenario{}

func register(s Scenario) {
	registry[s.Name] = s
}

// All lists the scenarios by name.
func All() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
	return s, nil
}

// Run plays s in e.
func (s Scenario) Run(e *Env) (*Report, error) {
	r := &Report{Scenario: s.Name, Profile: e.Profile.Name}
	if err := s.run(e, r); err != nil {
		return r, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return r, nil
}

// errorKind names the error kind of a failed step for reports.
func errorKind(err error) string {
	if err == nil {
		return "ok"
	}
	if k := program.Kind(err); k != nil {
		return k.Error()
	}
	return err.Error()
}
