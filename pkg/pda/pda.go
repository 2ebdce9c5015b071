// Package pda derives program addresses.
//
// A program derived address is sha256(seeds || programID || "ProgramDerivedAddress")
// that is NOT a valid ed25519 point, so no private key can sign for it. The owning
// program "signs" for such an address by presenting the seeds to the host.
package pda

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/minio/sha256-simd"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var marker = []byte("ProgramDerivedAddress")

// Derivation errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds: derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes seeds with programID and fails with ErrInvalidSeeds
// if the result lies on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, fmt.Errorf("seed %d: %w", i, ErrMaxSeedLengthExceeded)
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(marker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(bump), nil
		case errors.Is(err, ErrInvalidSeeds):
			continue
		default:
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// MustFind is FindProgramAddress for seeds known to be valid.
func MustFind(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8) {
	addr, bump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("find program address: %v", err))
	}
	return addr, bump
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
