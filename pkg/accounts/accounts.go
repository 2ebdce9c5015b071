// Package accounts stores the ledger state the lab runtime executes against.
//
// Every address maps to one Account: a lamport balance, an owner program and an
// opaque data buffer. Only the owner program may change the data or debit the
// balance; the runtime enforces that, this package only persists the result.
//
// Two stores are provided. MemoryDB backs tests and one-shot scenario runs,
// BadgerDB persists state across CLI invocations. Both apply a transaction's
// writes through Apply, which is all-or-nothing.
package accounts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize bounds a single account's data buffer.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account is a single ledger entry.
type Account struct {
	// Lamports is the native balance.
	Lamports uint64

	// Data is owned by Owner and opaque to everybody else.
	Data []byte

	// Owner is the program allowed to modify Data and debit Lamports.
	Owner types.Pubkey

	// Executable marks program accounts. They are never modified.
	Executable bool
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
	}
}

// IsZero reports whether the account holds no lamports. Such accounts are
// reclaimed when a transaction commits.
func (a *Account) IsZero() bool {
	return a == nil || a.Lamports == 0
}

// Serialize encodes the account for storage.
func (a *Account) Serialize() ([]byte, error) {
	if len(a.Data) > MaxAccountDataSize {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidData, len(a.Data))
	}
	return borsh.Serialize(*a)
}

// DeserializeAccount decodes an account written by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	var acc Account
	if err := borsh.Deserialize(&acc, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if acc.Data == nil {
		acc.Data = []byte{}
	}
	return &acc, nil
}

// Update is one pending write. A nil or zero-lamport Account deletes the entry.
type Update struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Apply writes every update atomically and advances Height by one.
	Apply(updates []Update) error

	// Height returns the number of batches applied so far.
	Height() uint64

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// ForEach visits every account in ascending pubkey order.
	ForEach(fn func(pubkey types.Pubkey, account *Account) error) error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	height   uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setLocked(pubkey, account)
	return nil
}

func (m *MemoryDB) setLocked(pubkey types.Pubkey, account *Account) {
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Apply writes all updates under one lock.
func (m *MemoryDB) Apply(updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, u := range updates {
		m.setLocked(u.Pubkey, u.Account)
	}
	m.height++
	return nil
}

// Height returns the number of applied batches.
func (m *MemoryDB) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// ForEach visits accounts in pubkey order. The callback receives copies.
func (m *MemoryDB) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	snapshot := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		keys = append(keys, k)
		snapshot[k] = v.Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
