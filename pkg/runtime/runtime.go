// Package runtime executes signed transactions against an accounts database.
//
// It plays the host role for lab programs: it verifies signatures, loads the
// referenced accounts as working copies, invokes each instruction's program,
// enforces the account invariants after every program segment and commits all
// writes atomically only if every instruction succeeded.
package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
	"github.com/fortiblox/X1-Vaultlab/pkg/journal"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

// AccountStorageOverhead is the per-account byte overhead charged by rent.
const AccountStorageOverhead = 128

// Rent determines the minimum balance of an account.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// MinimumBalance returns the rent-exempt balance for space bytes of data.
func (r Rent) MinimumBalance(space uint64) uint64 {
	return (space + AccountStorageOverhead) * r.LamportsPerByteYear * r.ExemptionYears
}

// Config holds runtime configuration.
type Config struct {
	// ComputeLimit is the per-transaction compute budget.
	ComputeLimit uint64

	Rent Rent

	// Journal, if set, receives one entry per executed transaction.
	Journal *journal.Journal

	Logger *zap.Logger
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ComputeLimit: svm.CUDefault,
		Rent: Rent{
			LamportsPerByteYear: 3480,
			ExemptionYears:      2,
		},
		Logger: zap.NewNop(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ComputeLimit == 0 || c.ComputeLimit > svm.CUMax {
		return fmt.Errorf("%w: %d", svm.ErrComputeInvalidLimit, c.ComputeLimit)
	}
	if c.Rent.LamportsPerByteYear == 0 {
		return errors.New("rent: lamports per byte-year must be positive")
	}
	return nil
}

type registeredProgram struct {
	name  string
	entry program.Entrypoint
}

// Runtime executes transactions.
type Runtime struct {
	db     accounts.DB
	cfg    Config
	log    *zap.Logger
	system *system.Processor
	locks  *lockTable

	mu        sync.RWMutex
	programs  map[types.Pubkey]registeredProgram
	processed map[types.Hash]struct{}

	// inflight holds ids that passed precheck and have not finished yet.
	inflight map[types.Hash]struct{}
}

// New creates a runtime over db with the system program registered.
func New(db accounts.DB, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rt := &Runtime{
		db:        db,
		cfg:       cfg,
		log:       cfg.Logger.Named("runtime"),
		system:    system.NewProcessor(),
		locks:     newLockTable(),
		programs:  make(map[types.Pubkey]registeredProgram),
		processed: make(map[types.Hash]struct{}),
		inflight:  make(map[types.Hash]struct{}),
	}
	if err := rt.RegisterProgram(system.ProgramID, "system", rt.system); err != nil {
		return nil, err
	}
	return rt, nil
}

// RegisterProgram deploys entry under id. The program account is written as an
// executable account owned by the native loader.
func (r *Runtime) RegisterProgram(id types.Pubkey, name string, entry program.Entrypoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrProgramExists, id)
	}
	err := r.db.SetAccount(id, &accounts.Account{
		Lamports:   r.cfg.Rent.MinimumBalance(0),
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	})
	if err != nil {
		return fmt.Errorf("store program account: %w", err)
	}
	r.programs[id] = registeredProgram{name: name, entry: entry}
	r.log.Info("program registered", zap.String("name", name), zap.Stringer("id", id))
	return nil
}

// Rent returns the rent parameters programs are charged with.
func (r *Runtime) Rent() Rent {
	return r.cfg.Rent
}

// Airdrop credits lamports to a wallet, creating it if needed.
func (r *Runtime) Airdrop(to types.Pubkey, lamports uint64) error {
	release := r.locks.acquire([]types.Pubkey{to}, map[types.Pubkey]bool{to: true})
	defer release()

	acc, err := r.db.GetAccount(to)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acc = &accounts.Account{Owner: system.ProgramID}
	} else if err != nil {
		return err
	}
	if acc.Lamports+lamports < acc.Lamports {
		return fmt.Errorf("airdrop to %s: %w", to, program.ErrOverflow)
	}
	acc.Lamports += lamports
	return r.db.Apply([]accounts.Update{{Pubkey: to, Account: acc}})
}

// GetAccount returns the committed state of an account.
func (r *Runtime) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return r.db.GetAccount(pubkey)
}

// Balance returns the committed lamports of an account, zero if it doesn't exist.
func (r *Runtime) Balance(pubkey types.Pubkey) (uint64, error) {
	acc, err := r.db.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}

// Result is the outcome of one transaction.
type Result struct {
	ID types.Hash

	// Err is the reason the transaction was rolled back, nil on success.
	Err error

	Logs             []string
	ComputeUnitsUsed uint64

	// ModifiedAccounts lists committed accounts, sorted.
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
}

// Success reports whether the transaction committed.
func (res *Result) Success() bool {
	return res.Err == nil
}

// Process executes tx and returns the transaction's error, if any.
func (r *Runtime) Process(tx *Transaction) error {
	res, err := r.Execute(tx)
	if err != nil {
		return err
	}
	return res.Err
}

// Execute runs tx. The returned error reports storage failures; a rejected or
// failed transaction is reported in Result.Err with nothing committed.
func (r *Runtime) Execute(tx *Transaction) (*Result, error) {
	res := &Result{ID: tx.ID()}

	res.Err = r.precheck(tx, res.ID)
	if errors.Is(res.Err, ErrAlreadyProcessed) {
		return res, nil
	}
	if res.Err != nil {
		return res, r.record(tx, res)
	}
	defer r.finish(res.ID)

	keys, writable, signers := collectAccounts(tx)
	release := r.locks.acquire(keys, writable)
	defer release()

	meter, err := svm.NewComputeMeter(r.cfg.ComputeLimit)
	if err != nil {
		return nil, err
	}
	tc := &txContext{
		rt:       r,
		meter:    meter,
		accounts: make(map[types.Pubkey]*program.AccountRef, len(keys)),
	}

	loaded := make(map[types.Pubkey]*accounts.Account, len(keys))
	for _, key := range keys {
		acc, err := r.db.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acc = &accounts.Account{Owner: system.ProgramID, Data: []byte{}}
		} else if err != nil {
			return nil, fmt.Errorf("load account %s: %w", key, err)
		}
		loaded[key] = acc
		working := acc.Clone()
		tc.accounts[key] = &program.AccountRef{
			Address:    key,
			Owner:      working.Owner,
			IsSigner:   signers[key],
			IsWritable: writable[key],
			Lamports:   working.Lamports,
			Data:       working.Data,
			Executable: working.Executable,
		}
	}

	res.Err = r.run(tx, tc, len(signers), writable)
	res.Logs = tc.logs
	res.ComputeUnitsUsed = meter.Consumed()

	if res.Err == nil {
		if err := r.commit(tc, loaded, res); err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.processed[res.ID] = struct{}{}
		r.mu.Unlock()
	}

	if res.Err != nil {
		r.log.Debug("transaction failed", zap.Stringer("id", res.ID), zap.Error(res.Err))
	} else {
		r.log.Debug("transaction committed",
			zap.Stringer("id", res.ID),
			zap.Int("modified", len(res.ModifiedAccounts)),
			zap.Uint64("cu", res.ComputeUnitsUsed),
		)
	}
	return res, r.record(tx, res)
}

// precheck rejects malformed and replayed transactions. On success the id is
// reserved until finish, so concurrent copies of one transaction cannot both run.
func (r *Runtime) precheck(tx *Transaction, id types.Hash) error {
	if len(tx.Message.Instructions) == 0 {
		return ErrNoInstructions
	}
	if err := tx.Verify(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.processed[id]; seen {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, id)
	}
	if _, running := r.inflight[id]; running {
		return fmt.Errorf("%w: %s is executing", ErrAlreadyProcessed, id)
	}
	if r.cfg.Journal != nil {
		rec, err := r.cfg.Journal.Lookup(id)
		if err == nil && rec.Entry.Success {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, id)
		}
	}
	r.inflight[id] = struct{}{}
	return nil
}

func (r *Runtime) finish(id types.Hash) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// collectAccounts returns every account of tx in order of first use, together
// with the merged writable and signer flags.
func collectAccounts(tx *Transaction) ([]types.Pubkey, map[types.Pubkey]bool, map[types.Pubkey]bool) {
	var keys []types.Pubkey
	writable := make(map[types.Pubkey]bool)
	signers := make(map[types.Pubkey]bool)
	seen := make(map[types.Pubkey]bool)

	add := func(pk types.Pubkey) {
		if !seen[pk] {
			seen[pk] = true
			keys = append(keys, pk)
		}
	}
	for _, ix := range tx.Message.Instructions {
		add(ix.ProgramID)
		for _, meta := range ix.Accounts {
			add(meta.Pubkey)
			writable[meta.Pubkey] = writable[meta.Pubkey] || meta.IsWritable
			signers[meta.Pubkey] = signers[meta.Pubkey] || meta.IsSigner
		}
	}
	return keys, writable, signers
}

func (r *Runtime) run(tx *Transaction, tc *txContext, numSigners int, writable map[types.Pubkey]bool) error {
	if err := tc.meter.Consume(uint64(numSigners) * svm.CUSignatureVerify); err != nil {
		return err
	}
	for _, w := range writable {
		if w {
			if err := tc.meter.Consume(svm.CUWriteLock); err != nil {
				return err
			}
		}
	}

	for i, ix := range tx.Message.Instructions {
		if err := r.runInstruction(tc, ix); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runtime) runInstruction(tc *txContext, ix Instruction) error {
	r.mu.RLock()
	prog, ok := r.programs[ix.ProgramID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, ix.ProgramID)
	}

	cost := svm.CUInvokeBase
	if ix.ProgramID == system.ProgramID {
		cost = svm.CUSystemProgramDefault
	}
	if err := tc.meter.Consume(cost); err != nil {
		return err
	}

	refs := make([]*program.AccountRef, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		refs[i] = tc.accounts[meta.Pubkey]
	}

	iv := &invocation{tx: tc, programID: ix.ProgramID, refs: refs}
	return iv.run(prog.entry, ix.Data)
}

// commit writes every writable account that changed, in one batch.
func (r *Runtime) commit(tc *txContext, loaded map[types.Pubkey]*accounts.Account, res *Result) error {
	var updates []accounts.Update
	for key, ref := range tc.accounts {
		if !ref.IsWritable {
			continue
		}
		before := loaded[key]
		if before.Lamports == ref.Lamports && before.Owner == ref.Owner && bytes.Equal(before.Data, ref.Data) {
			continue
		}
		updates = append(updates, accounts.Update{
			Pubkey: key,
			Account: &accounts.Account{
				Lamports:   ref.Lamports,
				Data:       ref.Data,
				Owner:      ref.Owner,
				Executable: ref.Executable,
			},
		})
		res.ModifiedAccounts = append(res.ModifiedAccounts, key)
	}

	if err := r.db.Apply(updates); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	delta, err := accounts.ComputeDeltaHash(r.db, res.ModifiedAccounts)
	if err != nil {
		return fmt.Errorf("delta hash: %w", err)
	}
	res.DeltaHash = delta
	return nil
}

func (r *Runtime) record(tx *Transaction, res *Result) error {
	if r.cfg.Journal == nil {
		return nil
	}
	entry := journal.Entry{
		TxID:         res.ID,
		Signers:      tx.Message.RequiredSigners(),
		Success:      res.Success(),
		Logs:         res.Logs,
		ComputeUnits: res.ComputeUnitsUsed,
		Modified:     res.ModifiedAccounts,
		DeltaHash:    res.DeltaHash,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if _, err := r.cfg.Journal.Append(entry); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}
