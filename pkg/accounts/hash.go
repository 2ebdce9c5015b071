package accounts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/minio/sha256-simd"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// ComputeAccountHash hashes every field of an account together with its address:
// sha256(lamports || data || executable || owner || pubkey).
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	h := sha256.New()
	var lamports [8]byte
	binary.LittleEndian.PutUint64(lamports[:], account.Lamports)
	h.Write(lamports[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeStateHash is the merkle root over every account hash in pubkey order.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash hashes the current state of the given accounts. Deleted
// accounts contribute a zero hash. The pubkeys are sorted in place.
func ComputeDeltaHash(db DB, pubkeys []types.Pubkey) (types.Hash, error) {
	if len(pubkeys) == 0 {
		return types.Hash{}, nil
	}
	SortPubkeys(pubkeys)

	hashes := make([]types.Hash, 0, len(pubkeys))
	for _, pubkey := range pubkeys {
		account, err := db.GetAccount(pubkey)
		if errors.Is(err, ErrAccountNotFound) {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot builds a binary merkle tree with 0x00-prefixed leaves and
// 0x01-prefixed nodes. An odd node is paired with a zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = hashTagged(0x00, h[:])
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = hashTagged(0x01, level[i][:], right[:])
		}
		level = next
	}
	return level[0]
}

func hashTagged(tag byte, parts ...[]byte) types.Hash {
	h := sha256.New()
	h.Write([]byte{tag})
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SortPubkeys sorts pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i][:], pubkeys[j][:]) < 0
	})
}
