package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/pda"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

// txContext is the state shared by every invocation of one transaction.
type txContext struct {
	rt       *Runtime
	meter    *svm.ComputeMeter
	accounts map[types.Pubkey]*program.AccountRef
	logs     []string
}

// invocation is the program.Host handed to one running program.
type invocation struct {
	tx        *txContext
	programID types.Pubkey
	depth     int
	refs      []*program.AccountRef

	// pre is what the running program started from, or what the last
	// cross-program call left behind.
	pre segment
}

func (iv *invocation) run(entry program.Entrypoint, data []byte) error {
	iv.pre = capture(iv.refs)
	iv.tx.logs = append(iv.tx.logs, fmt.Sprintf("Program %s invoke [%d]", iv.programID, iv.depth+1))

	if err := entry.Process(iv, iv.programID, iv.refs, data); err != nil {
		iv.tx.logs = append(iv.tx.logs, fmt.Sprintf("Program %s failed: %v", iv.programID, err))
		return err
	}
	if err := iv.pre.verify(iv.programID, iv.refs); err != nil {
		return err
	}
	iv.tx.logs = append(iv.tx.logs, fmt.Sprintf("Program %s success", iv.programID))
	return nil
}

// CreateAccount implements program.Host.
func (iv *invocation) CreateAccount(payer, target *program.AccountRef, lamports, space uint64, owner types.Pubkey, signerSeeds ...[]byte) error {
	err := iv.invokeSystem([]*program.AccountRef{payer, target}, system.EncodeCreateAccount(lamports, space, owner), signerSeeds)
	if err != nil {
		return program.HostError("create account "+target.Address.String(), err)
	}
	return nil
}

// AssignOwner implements program.Host.
func (iv *invocation) AssignOwner(target *program.AccountRef, owner types.Pubkey, signerSeeds ...[]byte) error {
	err := iv.invokeSystem([]*program.AccountRef{target}, system.EncodeAssign(owner), signerSeeds)
	if err != nil {
		return program.HostError("assign "+target.Address.String(), err)
	}
	return nil
}

// MinimumBalance implements program.Host.
func (iv *invocation) MinimumBalance(space uint64) uint64 {
	return iv.tx.rt.cfg.Rent.MinimumBalance(space)
}

// Log implements program.Host.
func (iv *invocation) Log(msg string) {
	iv.tx.logs = append(iv.tx.logs, "Program log: "+msg)
}

// invokeSystem runs a system program instruction on behalf of the calling
// program. Accounts keep the caller's signer and writable privileges; an
// account derived from signerSeeds under the caller's id is also a signer.
func (iv *invocation) invokeSystem(refs []*program.AccountRef, data []byte, signerSeeds [][]byte) error {
	if iv.depth+1 >= svm.CPIDepthMax {
		return ErrCallDepth
	}
	if err := iv.tx.meter.Consume(svm.CUInvokeBase + svm.CUSystemProgramDefault); err != nil {
		return err
	}
	seen := make(map[types.Pubkey]bool, len(refs))
	for _, ref := range refs {
		if iv.tx.accounts[ref.Address] != ref {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, ref.Address)
		}
		if seen[ref.Address] {
			return fmt.Errorf("account %s passed twice", ref.Address)
		}
		seen[ref.Address] = true
	}

	var pdaSigner *types.Pubkey
	if len(signerSeeds) > 0 {
		addr, err := pda.CreateProgramAddress(signerSeeds, iv.programID)
		if err != nil {
			return fmt.Errorf("signer seeds: %w", err)
		}
		pdaSigner = &addr
	}

	// Whatever the caller did so far is checked before the callee sees it.
	if err := iv.pre.verify(iv.programID, iv.refs); err != nil {
		return err
	}

	views := make([]*program.AccountRef, len(refs))
	for i, ref := range refs {
		view := *ref
		view.IsSigner = ref.IsSigner || (pdaSigner != nil && *pdaSigner == ref.Address)
		views[i] = &view
	}

	callee := &invocation{
		tx:        iv.tx,
		programID: system.ProgramID,
		depth:     iv.depth + 1,
		refs:      views,
	}
	if err := callee.run(iv.tx.rt.system, data); err != nil {
		return err
	}

	for i, ref := range refs {
		ref.Lamports = views[i].Lamports
		ref.Owner = views[i].Owner
		ref.Data = views[i].Data
	}
	iv.pre = capture(iv.refs)

	iv.tx.rt.log.Debug("cross-program invocation",
		zap.Stringer("caller", iv.programID),
		zap.Int("depth", callee.depth),
	)
	return nil
}

var _ program.Host = (*invocation)(nil)
