// Package journal keeps an append-only, hash-chained log of executed transactions.
//
// Every entry records the outcome of one transaction (including failures) and the
// BLAKE3 hash of the previous entry, so rewriting history anywhere breaks Verify.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/near/borsh-go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

var (
	// ErrEntryNotFound is returned when a sequence number or id is unknown.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")

	// ErrChainBroken is returned by Verify when an entry does not link to its predecessor.
	ErrChainBroken = errors.New("journal hash chain broken")
)

var (
	bucketEntries = []byte("entries")
	bucketByID    = []byte("by_id")
	bucketMeta    = []byte("meta")

	keyHead = []byte("head")
)

// Config holds journal configuration options.
type Config struct {
	// Path is the bbolt database file.
	Path string

	// NoSync disables fsync after each append.
	NoSync bool

	// Timeout bounds waiting for the file lock.
	Timeout time.Duration

	// ReadOnly opens the journal for inspection only.
	ReadOnly bool

	Logger *zap.Logger
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
		Logger:  zap.NewNop(),
	}
}

// Entry is the outcome of one transaction.
type Entry struct {
	Seq          uint64
	TxID         types.Hash
	Signers      []types.Pubkey
	Success      bool
	Error        string
	Logs         []string
	ComputeUnits uint64
	Modified     []types.Pubkey
	DeltaHash    types.Hash
	UnixNano     int64
	PrevHash     types.Hash
}

// Record is a stored entry together with its chain hash.
type Record struct {
	Entry Entry
	Hash  types.Hash
}

// Hash returns the chain hash of e.
func (e *Entry) Hash() (types.Hash, error) {
	raw, err := borsh.Serialize(*e)
	if err != nil {
		return types.Hash{}, err
	}
	return types.ComputeHash(raw), nil
}

// Journal is a bbolt-backed transaction log.
type Journal struct {
	db  *bolt.DB
	log *zap.Logger

	mu       sync.RWMutex
	headSeq  uint64
	headHash types.Hash
	closed   bool
}

// Open creates or opens a journal at cfg.Path.
func Open(cfg Config) (*Journal, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  cfg.Timeout,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, log: cfg.Logger.Named("journal")}
	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketEntries, bucketByID, bucketMeta} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := j.loadHead(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load head: %w", err)
	}
	return j, nil
}

func (j *Journal) loadHead() error {
	return j.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		v := meta.Get(keyHead)
		if v == nil {
			return nil
		}
		if len(v) != 8+types.HashSize {
			return fmt.Errorf("corrupt head record: %d bytes", len(v))
		}
		j.headSeq = binary.BigEndian.Uint64(v[:8])
		copy(j.headHash[:], v[8:])
		return nil
	})
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// Append assigns the next sequence number and chain link to e and stores it.
func (j *Journal) Append(e Entry) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Record{}, ErrClosed
	}

	e.Seq = j.headSeq + 1
	e.PrevHash = j.headHash
	if e.UnixNano == 0 {
		e.UnixNano = time.Now().UnixNano()
	}
	hash, err := e.Hash()
	if err != nil {
		return Record{}, fmt.Errorf("hash entry: %w", err)
	}
	rec := Record{Entry: e, Hash: hash}
	raw, err := borsh.Serialize(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode entry: %w", err)
	}

	err = j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Put(seqKey(e.Seq), raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByID).Put(e.TxID[:], seqKey(e.Seq)); err != nil {
			return err
		}
		head := append(seqKey(e.Seq), hash[:]...)
		return tx.Bucket(bucketMeta).Put(keyHead, head)
	})
	if err != nil {
		return Record{}, fmt.Errorf("append entry %d: %w", e.Seq, err)
	}

	j.headSeq = e.Seq
	j.headHash = hash
	j.log.Debug("appended",
		zap.Uint64("seq", e.Seq),
		zap.Stringer("tx", e.TxID),
		zap.Bool("success", e.Success),
	)
	return rec, nil
}

// Head returns the latest sequence number and chain hash.
func (j *Journal) Head() (uint64, types.Hash) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headSeq, j.headHash
}

// Get returns the record with sequence number seq.
func (j *Journal) Get(seq uint64) (Record, error) {
	var rec Record
	err := j.view(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, seq)
		return err
	})
	return rec, err
}

// Lookup returns the most recent record for a transaction id.
func (j *Journal) Lookup(id types.Hash) (Record, error) {
	var rec Record
	err := j.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketByID).Get(id[:])
		if v == nil {
			return ErrEntryNotFound
		}
		var err error
		rec, err = getRecord(tx, binary.BigEndian.Uint64(v))
		return err
	})
	return rec, err
}

// Iterate visits records from sequence number from onwards. Returning an error
// from fn stops the walk.
func (j *Journal) Iterate(from uint64, fn func(Record) error) error {
	return j.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Verify recomputes every hash and link and returns the number of entries checked.
func (j *Journal) Verify() (uint64, error) {
	var (
		prev  types.Hash
		count uint64
	)
	err := j.Iterate(1, func(rec Record) error {
		count++
		if rec.Entry.Seq != count {
			return fmt.Errorf("%w: expected seq %d, found %d", ErrChainBroken, count, rec.Entry.Seq)
		}
		if rec.Entry.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not link to its predecessor", ErrChainBroken, rec.Entry.Seq)
		}
		hash, err := rec.Entry.Hash()
		if err != nil {
			return err
		}
		if hash != rec.Hash {
			return fmt.Errorf("%w: entry %d was modified", ErrChainBroken, rec.Entry.Seq)
		}
		prev = hash
		return nil
	})
	if err != nil {
		return count, err
	}
	if _, head := j.Head(); head != prev {
		return count, fmt.Errorf("%w: head does not match last entry", ErrChainBroken)
	}
	return count, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func (j *Journal) view(fn func(tx *bolt.Tx) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return j.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketEntries) == nil {
			return ErrEntryNotFound
		}
		return fn(tx)
	})
}

func getRecord(tx *bolt.Tx, seq uint64) (Record, error) {
	v := tx.Bucket(bucketEntries).Get(seqKey(seq))
	if v == nil {
		return Record{}, fmt.Errorf("%w: seq %d", ErrEntryNotFound, seq)
	}
	return decodeRecord(v)
}

func decodeRecord(v []byte) (Record, error) {
	var rec Record
	if err := borsh.Deserialize(&rec, v); err != nil {
		return Record{}, fmt.Errorf("decode entry: %w", err)
	}
	return rec, nil
}
