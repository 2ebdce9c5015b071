package program

import (
	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// RequireSigner fails unless ref signed the transaction.
func RequireSigner(ref *AccountRef) error {
	if !ref.IsSigner {
		return Errorf(ErrMissingSignature, "%s", ref.Address)
	}
	return nil
}

// RequireWritable fails unless ref was passed writable.
func RequireWritable(ref *AccountRef) error {
	if !ref.IsWritable {
		return Errorf(ErrNotWritable, "%s", ref.Address)
	}
	return nil
}

// RequireOwner fails unless ref is owned by owner.
func RequireOwner(ref *AccountRef, owner types.Pubkey) error {
	if ref.Owner != owner {
		return Errorf(ErrWrongOwner, "%s is owned by %s, want %s", ref.Address, ref.Owner, owner)
	}
	return nil
}

// RequireAddress fails unless ref sits at want.
func RequireAddress(ref *AccountRef, want types.Pubkey) error {
	if ref.Address != want {
		return Errorf(ErrWrongAddress, "got %s, want %s", ref.Address, want)
	}
	return nil
}

type step struct {
	name  string
	check func() error
}

// Pipeline is an ordered list of named checks. Run evaluates them top to
// bottom and stops at the first failure, so a check that trusts account data
// must be added after the owner check of that account.
type Pipeline struct {
	steps []step
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Signer appends RequireSigner(ref).
func (p *Pipeline) Signer(role string, ref *AccountRef) *Pipeline {
	return p.Then("signer("+role+")", func() error { return RequireSigner(ref) })
}

// Writable appends RequireWritable(ref).
func (p *Pipeline) Writable(role string, ref *AccountRef) *Pipeline {
	return p.Then("writable("+role+")", func() error { return RequireWritable(ref) })
}

// Owner appends RequireOwner(ref, owner).
func (p *Pipeline) Owner(role string, ref *AccountRef, owner types.Pubkey) *Pipeline {
	return p.Then("owner("+role+")", func() error { return RequireOwner(ref, owner) })
}

// Address appends RequireAddress(ref, want()). want is evaluated when the step
// runs, after every earlier step passed.
func (p *Pipeline) Address(role string, ref *AccountRef, want func() (types.Pubkey, error)) *Pipeline {
	return p.Then("address("+role+")", func() error {
		addr, err := want()
		if err != nil {
			return err
		}
		return RequireAddress(ref, addr)
	})
}

// Then appends an arbitrary named check.
func (p *Pipeline) Then(name string, check func() error) *Pipeline {
	p.steps = append(p.steps, step{name: name, check: check})
	return p
}

// Run evaluates every step in order.
func (p *Pipeline) Run() error {
	for _, s := range p.steps {
		if err := s.check(); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns the step names in evaluation order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name
	}
	return names
}
