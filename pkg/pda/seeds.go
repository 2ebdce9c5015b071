package pda

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// ParseSeed turns a command line seed spec into raw bytes. Accepted forms are
// "str:<text>", "key:<base58 pubkey>" and "hex:<bytes>". A bare value is a string.
func ParseSeed(spec string) ([]byte, error) {
	kind, value, ok := strings.Cut(spec, ":")
	if !ok {
		return []byte(spec), nil
	}
	switch kind {
	case "str":
		return []byte(value), nil
	case "key":
		pk, err := types.PubkeyFromBase58(value)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", spec, err)
		}
		return pk.Bytes(), nil
	case "hex":
		b, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", spec, err)
		}
		return b, nil
	default:
		return []byte(spec), nil
	}
}

// ParseSeeds applies ParseSeed to every spec.
func ParseSeeds(specs []string) ([][]byte, error) {
	seeds := make([][]byte, 0, len(specs))
	for _, spec := range specs {
		seed, err := ParseSeed(spec)
		if err != nil {
			return nil, err
		}
		if len(seed) > MaxSeedLen {
			return nil, fmt.Errorf("seed %q: %w", spec, ErrMaxSeedLengthExceeded)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}
