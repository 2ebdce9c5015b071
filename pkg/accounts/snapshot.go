package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

const snapshotVersion uint32 = 1

var snapshotMagic = [4]byte{'V', 'L', 'S', 'N'}

// Snapshot errors.
var (
	ErrBadSnapshot          = errors.New("not a snapshot file")
	ErrSnapshotVersion      = errors.New("unsupported snapshot version")
	ErrSnapshotHashMismatch = errors.New("snapshot state hash mismatch")
)

// SnapshotHeader describes the state captured in a snapshot.
type SnapshotHeader struct {
	Magic         [4]byte
	Version       uint32
	Height        uint64
	AccountsCount uint64
	StateHash     types.Hash
}

// The header is followed by a zstd stream of entries:
//
//	pubkey (32) || length (u32 LE) || serialized account
const headerSize = 4 + 4 + 8 + 8 + types.HashSize

// WriteSnapshot streams every account of db to w.
func WriteSnapshot(w io.Writer, db DB) (SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("compute state hash: %w", err)
	}
	count, err := db.AccountsCount()
	if err != nil {
		return SnapshotHeader{}, err
	}
	header := SnapshotHeader{
		Magic:         snapshotMagic,
		Version:       snapshotVersion,
		Height:        db.Height(),
		AccountsCount: count,
		StateHash:     stateHash,
	}
	raw, err := borsh.Serialize(header)
	if err != nil {
		return SnapshotHeader{}, err
	}
	if _, err := w.Write(raw); err != nil {
		return SnapshotHeader{}, fmt.Errorf("write header: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return SnapshotHeader{}, err
	}
	bw := bufio.NewWriter(enc)

	var written uint64
	err = db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		data, err := account.Serialize()
		if err != nil {
			return err
		}
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		for _, chunk := range [][]byte{pubkey[:], size[:], data} {
			if _, err := bw.Write(chunk); err != nil {
				return err
			}
		}
		written++
		return nil
	})
	if err != nil {
		enc.Close()
		return SnapshotHeader{}, fmt.Errorf("write accounts: %w", err)
	}
	if written != count {
		enc.Close()
		return SnapshotHeader{}, fmt.Errorf("accounts changed while snapshotting: counted %d, wrote %d", count, written)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return SnapshotHeader{}, err
	}
	if err := enc.Close(); err != nil {
		return SnapshotHeader{}, err
	}
	return header, nil
}

// ReadSnapshot loads a snapshot into db with a single Apply and checks the
// resulting accounts against the recorded state hash.
func ReadSnapshot(r io.Reader, db DB) (SnapshotHeader, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return SnapshotHeader{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	var header SnapshotHeader
	if err := borsh.Deserialize(&header, raw); err != nil {
		return SnapshotHeader{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if header.Magic != snapshotMagic {
		return SnapshotHeader{}, ErrBadSnapshot
	}
	if header.Version != snapshotVersion {
		return SnapshotHeader{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, header.Version)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return SnapshotHeader{}, err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	updates := make([]Update, 0, header.AccountsCount)
	for i := uint64(0); i < header.AccountsCount; i++ {
		var prefix [types.PubkeySize + 4]byte
		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			return SnapshotHeader{}, fmt.Errorf("account %d: %w", i, err)
		}
		size := binary.LittleEndian.Uint32(prefix[types.PubkeySize:])
		if size > MaxAccountDataSize+64 {
			return SnapshotHeader{}, fmt.Errorf("account %d: %w", i, ErrInvalidData)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return SnapshotHeader{}, fmt.Errorf("account %d: %w", i, err)
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return SnapshotHeader{}, fmt.Errorf("account %d: %w", i, err)
		}
		var pubkey types.Pubkey
		copy(pubkey[:], prefix[:types.PubkeySize])
		updates = append(updates, Update{Pubkey: pubkey, Account: account})
	}

	if got := hashUpdates(updates); got != header.StateHash {
		return SnapshotHeader{}, fmt.Errorf("%w: header %s, accounts %s", ErrSnapshotHashMismatch, header.StateHash, got)
	}
	if err := db.Apply(updates); err != nil {
		return SnapshotHeader{}, fmt.Errorf("apply snapshot: %w", err)
	}
	return header, nil
}

func hashUpdates(updates []Update) types.Hash {
	hashes := make([]types.Hash, len(updates))
	for i, u := range updates {
		if i > 0 && bytes.Compare(updates[i-1].Pubkey[:], u.Pubkey[:]) >= 0 {
			// Out of order entries can never match a state hash.
			return types.Hash{}
		}
		hashes[i] = ComputeAccountHash(u.Pubkey, u.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// CreateSnapshot writes a snapshot of db to path.
func CreateSnapshot(path string, db DB) (SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot file: %w", err)
	}
	header, err := WriteSnapshot(f, db)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return SnapshotHeader{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return SnapshotHeader{}, fmt.Errorf("finalize snapshot: %w", err)
	}
	return header, nil
}

// LoadSnapshot reads the snapshot at path into db.
func LoadSnapshot(path string, db DB) (SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(bufio.NewReader(f), db)
}
