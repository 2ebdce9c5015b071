package program

import "fmt"

// Schema names the account roles of an instruction in positional order.
type Schema []string

// Bindings maps role names to the references supplied for them.
type Bindings struct {
	byRole map[string]*AccountRef
	extra  []*AccountRef
}

// Resolve binds accounts to the roles of schema in order. It only counts:
// whether a bound account is acceptable is decided by validation.
func Resolve(accounts []*AccountRef, schema Schema) (Bindings, error) {
	if len(accounts) < len(schema) {
		return Bindings{}, Errorf(ErrArity, "expected %d accounts %v, got %d", len(schema), []string(schema), len(accounts))
	}
	b := Bindings{byRole: make(map[string]*AccountRef, len(schema))}
	for i, role := range schema {
		b.byRole[role] = accounts[i]
	}
	b.extra = accounts[len(schema):]
	return b, nil
}

// Get returns the account bound to role. Asking for a role the schema does not
// name is a programming error.
func (b Bindings) Get(role string) *AccountRef {
	ref, ok := b.byRole[role]
	if !ok {
		panic(fmt.Sprintf("program: role %q not in schema", role))
	}
	return ref
}

// Extra returns the accounts supplied beyond the schema.
func (b Bindings) Extra() []*AccountRef {
	return b.extra
}
