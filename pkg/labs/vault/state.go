package vault

import (
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/pda"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
)

// Encoded record sizes.
const (
	ConfigSize      = 32
	VaultSize       = 36
	NativeVaultSize = 32
	StateSize       = 1
)

// Derivation seeds.
var (
	SeedConfig = []byte("config")
	SeedState  = []byte("state")
	SeedVault  = []byte("vault")
)

// Config names the program admin.
type Config struct {
	Admin types.Pubkey
}

// Vault is a per-user or program treasury record. Native value is held as the
// account's lamports; Amount is the game counter and only exists in the
// CounterVault layout.
type Vault struct {
	Authority types.Pubkey
	Amount    uint32
}

// VaultLayout selects how a deployment stores Vault records.
type VaultLayout uint8

const (
	// CounterVault stores authority and the u32 counter.
	CounterVault VaultLayout = iota

	// NativeVault stores only the authority. It has the same size as Config.
	NativeVault
)

func (l VaultLayout) String() string {
	switch l {
	case CounterVault:
		return "counter"
	case NativeVault:
		return "native"
	default:
		return fmt.Sprintf("VaultLayout(%d)", uint8(l))
	}
}

// Size is the encoded size of a Vault in layout l.
func (l VaultLayout) Size() int {
	if l == NativeVault {
		return NativeVaultSize
	}
	return VaultSize
}

// Encode encodes v in layout l. NativeVault drops the counter.
func (l VaultLayout) Encode(v Vault) []byte {
	if l == NativeVault {
		return mustEncode(nativeVault{Authority: v.Authority})
	}
	return v.Encode()
}

type nativeVault struct {
	Authority types.Pubkey
}

// State is the global freeze flag.
type State struct {
	Frozen bool
}

// FreezeState is the SetState payload.
type FreezeState uint8

const (
	Unfrozen FreezeState = iota
	Frozen
)

func (s FreezeState) String() string {
	switch s {
	case Unfrozen:
		return "unfrozen"
	case Frozen:
		return "frozen"
	default:
		return fmt.Sprintf("FreezeState(%d)", uint8(s))
	}
}

// Encode returns the 32-byte encoding of c.
func (c Config) Encode() []byte { return mustEncode(c) }

// Encode returns the 36-byte encoding of v.
func (v Vault) Encode() []byte { return mustEncode(v) }

// Encode returns the 1-byte encoding of s.
func (s State) Encode() []byte { return mustEncode(s) }

func mustEncode(v any) []byte {
	b, err := borsh.Serialize(v)
	if err != nil {
		panic(fmt.Sprintf("vault: encode %T: %v", v, err))
	}
	return b
}

func decodeRecord(name string, size int, data []byte, out any) error {
	if len(data) != size {
		return program.Errorf(program.ErrSchema, "%s: want %d bytes, got %d", name, size, len(data))
	}
	if err := borsh.Deserialize(out, data); err != nil {
		return program.Errorf(program.ErrSchema, "%s: %v", name, err)
	}
	return nil
}

// DecodeConfig decodes a Config record.
func DecodeConfig(data []byte) (Config, error) {
	var c Config
	err := decodeRecord("config", ConfigSize, data, &c)
	return c, err
}

// DecodeVault decodes a Vault record in either layout, told apart by size. A
// native record decodes with a zero Amount.
func DecodeVault(data []byte) (Vault, error) {
	if len(data) == NativeVaultSize {
		var nv nativeVault
		err := decodeRecord("vault", NativeVaultSize, data, &nv)
		return Vault{Authority: nv.Authority}, err
	}
	var v Vault
	err := decodeRecord("vault", VaultSize, data, &v)
	return v, err
}

// DecodeState decodes a State record.
func DecodeState(data []byte) (State, error) {
	var s State
	err := decodeRecord("state", StateSize, data, &s)
	return s, err
}

// write stores an encoded record into an account's fixed-size buffer.
func write(ref *program.AccountRef, record []byte) error {
	if len(ref.Data) != len(record) {
		return program.Errorf(program.ErrSchema, "%s: buffer holds %d bytes, record needs %d", ref.Address, len(ref.Data), len(record))
	}
	copy(ref.Data, record)
	return nil
}

// ConfigAddress derives the program config address.
func ConfigAddress(programID types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress([][]byte{SeedConfig}, programID)
}

// StateAddress derives the program freeze-state address.
func StateAddress(programID types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress([][]byte{SeedState}, programID)
}

// TreasuryAddress derives the program-wide vault address.
func TreasuryAddress(programID types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress([][]byte{SeedVault}, programID)
}

// UserVaultAddress derives the vault address of user.
func UserVaultAddress(programID, user types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress([][]byte{user.Bytes(), SeedVault}, programID)
}

// RequireUnfrozen decodes the State held by ref and fails if it is frozen.
func RequireUnfrozen(ref *program.AccountRef) error {
	s, err := DecodeState(ref.Data)
	if err != nil {
		return err
	}
	if s.Frozen {
		return program.Errorf(program.ErrFrozen, "state %s", ref.Address)
	}
	return nil
}
