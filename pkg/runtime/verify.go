package runtime

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
)

// accountState is what a program segment started from.
type accountState struct {
	owner      types.Pubkey
	lamports   uint64
	data       []byte
	executable bool
}

type segment map[types.Pubkey]accountState

// capture records the current state of refs. Duplicate references to one
// account are recorded once.
func capture(refs []*program.AccountRef) segment {
	s := make(segment, len(refs))
	for _, ref := range refs {
		if _, ok := s[ref.Address]; ok {
			continue
		}
		s[ref.Address] = accountState{
			owner:      ref.Owner,
			lamports:   ref.Lamports,
			data:       bytes.Clone(ref.Data),
			executable: ref.Executable,
		}
	}
	return s
}

// verify checks what actor did to refs since the segment was captured:
//   - executable and read-only accounts are unchanged
//   - only the owner changes data, resizes it, or debits lamports
//   - the owner may hand an account on only once its data is zeroed
//   - lamports are neither minted nor burned
func (s segment) verify(actor types.Pubkey, refs []*program.AccountRef) error {
	var preHi, preLo, postHi, postLo uint64
	seen := make(map[types.Pubkey]bool, len(s))

	for _, ref := range refs {
		if seen[ref.Address] {
			continue
		}
		seen[ref.Address] = true
		pre := s[ref.Address]

		var carry uint64
		preLo, carry = bits.Add64(preLo, pre.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, ref.Lamports, 0)
		postHi += carry

		ownerChanged := ref.Owner != pre.owner
		lamportsChanged := ref.Lamports != pre.lamports
		dataChanged := !bytes.Equal(ref.Data, pre.data)
		if !ownerChanged && !lamportsChanged && !dataChanged && ref.Executable == pre.executable {
			continue
		}

		switch {
		case pre.executable || ref.Executable != pre.executable:
			return fmt.Errorf("%w: %s", ErrExecutableModified, ref.Address)
		case !ref.IsWritable:
			return fmt.Errorf("%w: %s", ErrReadOnlyModified, ref.Address)
		case ownerChanged && (pre.owner != actor || !isZeroed(ref.Data)):
			return fmt.Errorf("%w: %s by %s", ErrOwnerModified, ref.Address, actor)
		case len(ref.Data) != len(pre.data) && pre.owner != actor:
			return fmt.Errorf("%w: %s by %s", ErrDataSizeChanged, ref.Address, actor)
		case dataChanged && pre.owner != actor:
			return fmt.Errorf("%w: %s by %s", ErrExternalDataModified, ref.Address, actor)
		case ref.Lamports < pre.lamports && pre.owner != actor:
			return fmt.Errorf("%w: %s by %s", ErrExternalLamportSpend, ref.Address, actor)
		}
	}

	if preHi != postHi || preLo != postLo {
		return fmt.Errorf("%w: before %d, after %d", ErrUnbalancedInstruction, preLo, postLo)
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
