package vault

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
	"github.com/fortiblox/X1-Vaultlab/pkg/svm/programs/system"
)

var programID = types.VaultLabProgramAddr

// fakeHost applies host services directly to the references it is given.
type fakeHost struct {
	logs []string
}

func (h *fakeHost) CreateAccount(payer, target *program.AccountRef, lamports, space uint64, owner types.Pubkey, _ ...[]byte) error {
	payer.Lamports -= lamports
	target.Lamports += lamports
	target.Data = make([]byte, space)
	target.Owner = owner
	return nil
}

func (h *fakeHost) AssignOwner(target *program.AccountRef, owner types.Pubkey, _ ...[]byte) error {
	target.Owner = owner
	return nil
}

func (h *fakeHost) MinimumBalance(space uint64) uint64 { return (space + 128) * 6960 }

func (h *fakeHost) Log(msg string) { h.logs = append(h.logs, msg) }

func refs(n int) []*program.AccountRef {
	out := make([]*program.AccountRef, n)
	for i := range out {
		out[i] = &program.AccountRef{Address: types.NewUniquePubkey(), Owner: system.ProgramID}
	}
	return out
}

func TestCheckOrder(t *testing.T) {
	host := &fakeHost{}
	tests := []struct {
		name    string
		profile Profile
		ix      Instruction
		want    []string
	}{
		{
			name:    "set state",
			profile: ProfileSecure,
			ix:      Instruction{Enum: InstructionSetState},
			want:    []string{"owner(config)", "address(config)", "owner(state)", "address(state)", "signer(admin)", "admin(config)"},
		},
		{
			name:    "set state lab9",
			profile: ProfileLab9,
			ix:      Instruction{Enum: InstructionSetState},
			want:    []string{"owner(state)", "address(state)", "signer(admin)", "admin(config)"},
		},
		{
			name:    "close contract",
			profile: ProfileSecure,
			ix:      Instruction{Enum: InstructionCloseContract},
			want:    []string{"signer(admin)", "owner(config)", "address(config)", "admin(config)", "owner(treasury)", "address(treasury)"},
		},
		{
			name:    "withdraw",
			profile: ProfileSecure,
			ix:      Instruction{Enum: InstructionWithdraw},
			want:    []string{"owner(vault)", "owner(state)", "address(state)", "signer(user)", "authority(vault)", "unfrozen(state)", "address(vault)"},
		},
		{
			name:    "set state lab3",
			profile: ProfileLab3,
			ix:      Instruction{Enum: InstructionSetState},
			want:    []string{"owner(config)", "owner(state)", "address(state)", "signer(admin)", "admin(config)"},
		},
		{
			name:    "close contract lab3",
			profile: ProfileLab3,
			ix:      Instruction{Enum: InstructionCloseContract},
			want:    []string{"signer(admin)", "owner(config)", "admin(config)", "owner(treasury)", "address(treasury)"},
		},
		{
			name:    "withdraw all",
			profile: ProfileAll,
			ix:      Instruction{Enum: InstructionWithdraw},
			want:    []string{"owner(vault)", "owner(state)", "address(state)", "authority(vault)", "unfrozen(state)", "address(vault)"},
		},
		{
			name:    "deposit",
			profile: ProfileSecure,
			ix:      Instruction{Enum: InstructionDeposit},
			want:    []string{"writable(vault)", "owner(vault)"},
		},
		{
			name:    "deposit lab1",
			profile: ProfileLab1,
			ix:      Instruction{Enum: InstructionDeposit},
			want:    []string{"writable(vault)"},
		},
		{
			name:    "initialise",
			profile: ProfileAll,
			ix:      Instruction{Enum: InstructionInitialise},
			want:    []string{"signer(payer)", "address(config)", "address(state)", "address(treasury)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl, err := NewProcessor(tt.profile).plan(host, programID, tt.ix, refs(5))
			require.NoError(t, err)
			assert.Equal(t, tt.want, pl.checks.Steps())
		})
	}
}

func TestProcessArity(t *testing.T) {
	p := NewProcessor(ProfileSecure)
	err := p.Process(&fakeHost{}, programID, refs(2), Instruction{Enum: InstructionWithdraw}.Encode())
	assert.ErrorIs(t, err, program.ErrArity)

	err = p.Process(&fakeHost{}, programID, nil, []byte{9})
	assert.ErrorIs(t, err, program.ErrDecode)
}

func TestDepositOwnerCheck(t *testing.T) {
	foreign := types.NewUniquePubkey()
	newVault := func() *program.AccountRef {
		return &program.AccountRef{
			Address:    types.NewUniquePubkey(),
			Owner:      foreign,
			IsWritable: true,
			Data:       Vault{Authority: foreign}.Encode(),
		}
	}
	data := Instruction{Enum: InstructionDeposit, Deposit: Deposit{Amount: 500}}.Encode()

	vault := newVault()
	err := NewProcessor(ProfileSecure).Process(&fakeHost{}, programID, []*program.AccountRef{vault}, data)
	assert.ErrorIs(t, err, program.ErrWrongOwner)
	assert.Equal(t, Vault{Authority: foreign}.Encode(), vault.Data)

	vault = newVault()
	require.NoError(t, NewProcessor(ProfileLab1).Process(&fakeHost{}, programID, []*program.AccountRef{vault}, data))
	v, err := DecodeVault(vault.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), v.Amount)
}

func TestForgedConfigUnit(t *testing.T) {
	admin := &program.AccountRef{Address: types.NewUniquePubkey(), IsSigner: true, IsWritable: true}
	cfgAddr, _, err := ConfigAddress(programID)
	require.NoError(t, err)
	stateAddr, _, err := StateAddress(programID)
	require.NoError(t, err)

	forged := &program.AccountRef{Address: cfgAddr, Owner: types.NewUniquePubkey(), Data: Config{Admin: admin.Address}.Encode()}
	state := &program.AccountRef{Address: stateAddr, Owner: programID, IsWritable: true, Data: State{}.Encode()}
	data := Instruction{Enum: InstructionSetState, SetState: SetState{Desired: Frozen}}.Encode()

	err = NewProcessor(ProfileSecure).Process(&fakeHost{}, programID, []*program.AccountRef{admin, forged, state}, data)
	assert.ErrorIs(t, err, program.ErrWrongOwner)
	assert.Equal(t, []byte{0}, state.Data)

	require.NoError(t, NewProcessor(ProfileLab9).Process(&fakeHost{}, programID, []*program.AccountRef{admin, forged, state}, data))
	assert.Equal(t, []byte{1}, state.Data)
}

// lab is a vault program deployed on an in-memory runtime.
type lab struct {
	t     *testing.T
	rt    *runtime.Runtime
	addrs Addresses
	admin *types.Keypair
}

const fundAmount = 10_000_000_000

func newLab(t *testing.T, profile Profile) *lab {
	t.Helper()
	rt, err := runtime.New(accounts.NewMemoryDB(), runtime.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, rt.RegisterProgram(programID, "vault", NewProcessor(profile)))

	addrs, err := DeriveAddresses(programID)
	require.NoError(t, err)

	l := &lab{t: t, rt: rt, addrs: addrs, admin: types.MustNewKeypair()}
	require.NoError(t, rt.Airdrop(l.admin.Pubkey(), fundAmount))
	require.NoError(t, l.exec([]*types.Keypair{l.admin}, addrs.NewInitialise(l.admin.Pubkey())))
	return l
}

func (l *lab) exec(signers []*types.Keypair, ixs ...runtime.Instruction) error {
	tx, err := runtime.NewTransaction(ixs, signers...)
	require.NoError(l.t, err)
	return l.rt.Process(tx)
}

func (l *lab) newUser() (*types.Keypair, types.Pubkey) {
	user := types.MustNewKeypair()
	require.NoError(l.t, l.rt.Airdrop(user.Pubkey(), fundAmount))
	ix, err := l.addrs.NewInitialiseVault(user.Pubkey())
	require.NoError(l.t, err)
	require.NoError(l.t, l.exec([]*types.Keypair{user}, ix))
	vault, err := l.addrs.UserVault(user.Pubkey())
	require.NoError(l.t, err)
	return user, vault
}

func (l *lab) fund(to types.Pubkey, lamports uint64) {
	require.NoError(l.t, l.exec([]*types.Keypair{l.admin}, runtime.Instruction{
		ProgramID: system.ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.WritableSigner(l.admin.Pubkey()), runtime.Writable(to)},
		Data:      system.EncodeTransfer(lamports),
	}))
}

func (l *lab) vault(addr types.Pubkey) Vault {
	acc, err := l.rt.GetAccount(addr)
	require.NoError(l.t, err)
	v, err := DecodeVault(acc.Data)
	require.NoError(l.t, err)
	return v
}

func (l *lab) frozen() bool {
	acc, err := l.rt.GetAccount(l.addrs.State)
	require.NoError(l.t, err)
	s, err := DecodeState(acc.Data)
	require.NoError(l.t, err)
	return s.Frozen
}

func (l *lab) balance(pk types.Pubkey) uint64 {
	b, err := l.rt.Balance(pk)
	require.NoError(l.t, err)
	return b
}

func TestInitialise(t *testing.T) {
	l := newLab(t, ProfileSecure)
	rent := l.rt.Rent()

	cfg, err := l.rt.GetAccount(l.addrs.Config)
	require.NoError(t, err)
	assert.Equal(t, programID, cfg.Owner)
	assert.Equal(t, rent.MinimumBalance(ConfigSize), cfg.Lamports)
	c, err := DecodeConfig(cfg.Data)
	require.NoError(t, err)
	assert.Equal(t, l.admin.Pubkey(), c.Admin)

	assert.False(t, l.frozen())
	assert.Equal(t, l.admin.Pubkey(), l.vault(l.addrs.Treasury).Authority)

	spent := rent.MinimumBalance(ConfigSize) + rent.MinimumBalance(StateSize) + rent.MinimumBalance(VaultSize)
	assert.Equal(t, fundAmount-spent, l.balance(l.admin.Pubkey()))

	err = l.exec([]*types.Keypair{l.admin}, l.addrs.NewInitialise(l.admin.Pubkey()))
	assert.ErrorIs(t, err, program.ErrHost)
	assert.ErrorIs(t, err, system.ErrAccountAlreadyInUse)
}

func TestInitialiseWrongAddress(t *testing.T) {
	rt, err := runtime.New(accounts.NewMemoryDB(), runtime.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, rt.RegisterProgram(programID, "vault", NewProcessor(ProfileSecure)))
	admin := types.MustNewKeypair()
	require.NoError(t, rt.Airdrop(admin.Pubkey(), fundAmount))

	addrs, err := DeriveAddresses(programID)
	require.NoError(t, err)
	addrs.Config = types.NewUniquePubkey()

	tx, err := runtime.NewTransaction([]runtime.Instruction{addrs.NewInitialise(admin.Pubkey())}, admin)
	require.NoError(t, err)
	assert.ErrorIs(t, rt.Process(tx), program.ErrWrongAddress)
	assert.Equal(t, uint64(fundAmount), func() uint64 { b, _ := rt.Balance(admin.Pubkey()); return b }())
}

func TestInitialiseVault(t *testing.T) {
	l := newLab(t, ProfileSecure)
	user, vault := l.newUser()

	acc, err := l.rt.GetAccount(vault)
	require.NoError(t, err)
	assert.Equal(t, programID, acc.Owner)
	assert.Equal(t, Vault{Authority: user.Pubkey()}, l.vault(vault))

	// Another user's vault address does not match the derivation.
	other := types.MustNewKeypair()
	require.NoError(t, l.rt.Airdrop(other.Pubkey(), fundAmount))
	ix := runtime.Instruction{
		ProgramID: programID,
		Accounts: []runtime.AccountMeta{
			runtime.WritableSigner(other.Pubkey()),
			runtime.Writable(types.NewUniquePubkey()),
			runtime.ReadOnly(system.ProgramID),
		},
		Data: Instruction{Enum: InstructionInitialiseVault}.Encode(),
	}
	assert.ErrorIs(t, l.exec([]*types.Keypair{other}, ix), program.ErrWrongAddress)
}

// Scenario A, secure half: a deposit into a program vault lands.
func TestDeposit(t *testing.T) {
	l := newLab(t, ProfileSecure)
	_, vault := l.newUser()

	require.NoError(t, l.exec(nil, l.addrs.NewDeposit(vault, 500)))
	assert.Equal(t, uint32(500), l.vault(vault).Amount)

	require.NoError(t, l.exec(nil, l.addrs.NewDeposit(vault, math.MaxUint32-500)))
	err := l.exec(nil, l.addrs.NewDeposit(vault, 1))
	assert.ErrorIs(t, err, program.ErrOverflow)
	assert.Equal(t, uint32(math.MaxUint32), l.vault(vault).Amount)
}

func TestDepositWraps(t *testing.T) {
	l := newLab(t, ProfileLab1)
	_, vault := l.newUser()

	require.NoError(t, l.exec(nil, l.addrs.NewDeposit(vault, math.MaxUint32)))
	require.NoError(t, l.exec(nil, l.addrs.NewDeposit(vault, 2)))
	assert.Equal(t, uint32(1), l.vault(vault).Amount)
}

// Scenario B.
func TestDepositToOpponent(t *testing.T) {
	l := newLab(t, ProfileSecure)
	_, playerVault := l.newUser()
	_, opponentVault := l.newUser()

	require.NoError(t, l.exec(nil, l.addrs.NewDepositToOpponent(playerVault, opponentVault, 500)))
	assert.Equal(t, uint32(500), l.vault(opponentVault).Amount)
	assert.Equal(t, uint32(1000), l.vault(playerVault).Amount)

	err := l.exec(nil, l.addrs.NewDepositToOpponent(playerVault, opponentVault, 1<<31))
	assert.ErrorIs(t, err, program.ErrOverflow)
	assert.Equal(t, uint32(1000), l.vault(playerVault).Amount)

	err = l.exec(nil, l.addrs.NewDepositToOpponent(playerVault, playerVault, 1))
	assert.ErrorIs(t, err, program.ErrWrongAddress)
}

func TestDepositToOpponentWraps(t *testing.T) {
	l := newLab(t, ProfileLab1)
	_, playerVault := l.newUser()
	_, opponentVault := l.newUser()

	require.NoError(t, l.exec(nil, l.addrs.NewDepositToOpponent(playerVault, opponentVault, 1<<31)))
	assert.Equal(t, uint32(1<<31), l.vault(opponentVault).Amount)
	assert.Equal(t, uint32(0), l.vault(playerVault).Amount)
}

// Scenario C and the frozen gate.
func TestFreezeGatesWithdraw(t *testing.T) {
	l := newLab(t, ProfileSecure)
	user, vault := l.newUser()
	l.fund(vault, 1_000_000)

	vaultBalance := l.balance(vault)
	userBalance := l.balance(user.Pubkey())

	require.NoError(t, l.exec([]*types.Keypair{l.admin}, l.addrs.NewSetState(l.admin.Pubkey(), l.addrs.Config, Frozen)))
	assert.True(t, l.frozen())

	withdraw, err := runtime.NewTransaction([]runtime.Instruction{l.addrs.NewWithdraw(user.Pubkey(), vault, true)}, user)
	require.NoError(t, err)
	assert.ErrorIs(t, l.rt.Process(withdraw), program.ErrFrozen)
	assert.Equal(t, vaultBalance, l.balance(vault))
	assert.Equal(t, userBalance, l.balance(user.Pubkey()))

	require.NoError(t, l.exec([]*types.Keypair{l.admin}, l.addrs.NewSetState(l.admin.Pubkey(), l.addrs.Config, Unfrozen)))
	assert.False(t, l.frozen())

	require.NoError(t, l.rt.Process(withdraw))
	assert.Equal(t, uint64(0), l.balance(vault))
	assert.Equal(t, userBalance+vaultBalance, l.balance(user.Pubkey()))

	_, err = l.rt.GetAccount(vault)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestWithdrawIsolation(t *testing.T) {
	l := newLab(t, ProfileSecure)
	victim, vault := l.newUser()
	thief, _ := l.newUser()
	l.fund(vault, 1_000_000)
	before := l.balance(vault)

	err := l.exec([]*types.Keypair{thief}, l.addrs.NewWithdraw(thief.Pubkey(), vault, true))
	assert.ErrorIs(t, err, program.ErrWrongOwner)

	err = l.exec(nil, l.addrs.NewWithdraw(victim.Pubkey(), vault, false))
	assert.ErrorIs(t, err, program.ErrMissingSignature)

	assert.Equal(t, before, l.balance(vault))
}

func TestForcedWithdraw(t *testing.T) {
	l := newLab(t, ProfileAll)
	victim, vault := l.newUser()
	l.fund(vault, 1_000_000)
	vaultBalance := l.balance(vault)
	victimBalance := l.balance(victim.Pubkey())

	require.NoError(t, l.exec(nil, l.addrs.NewWithdraw(victim.Pubkey(), vault, false)))
	assert.Equal(t, uint64(0), l.balance(vault))
	assert.Equal(t, victimBalance+vaultBalance, l.balance(victim.Pubkey()))
}

func TestNativeVaultLayout(t *testing.T) {
	l := newLab(t, ProfileLab3)
	rent := l.rt.Rent()
	user, vault := l.newUser()

	treasury, err := l.rt.GetAccount(l.addrs.Treasury)
	require.NoError(t, err)
	assert.Len(t, treasury.Data, NativeVaultSize)
	assert.Equal(t, rent.MinimumBalance(NativeVaultSize), treasury.Lamports)

	acc, err := l.rt.GetAccount(vault)
	require.NoError(t, err)
	assert.Len(t, acc.Data, NativeVaultSize)
	assert.Equal(t, Vault{Authority: user.Pubkey()}, l.vault(vault))

	// There is no counter to add to.
	assert.ErrorIs(t, l.exec(nil, l.addrs.NewDeposit(vault, 1)), program.ErrSchema)
	assert.Equal(t, Vault{Authority: user.Pubkey()}, l.vault(vault))
}

// A user's own vault passed as config: program-owned, config-sized, and naming
// the user where the admin would be.
func TestVaultAsConfig(t *testing.T) {
	t.Run("lab3", func(t *testing.T) {
		l := newLab(t, ProfileLab3)
		mallory, vault := l.newUser()
		l.fund(l.addrs.Treasury, 5_000_000_000)

		require.NoError(t, l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), vault, Frozen)))
		assert.True(t, l.frozen())

		treasury := l.balance(l.addrs.Treasury)
		before := l.balance(mallory.Pubkey())
		require.NoError(t, l.exec([]*types.Keypair{mallory}, l.addrs.NewCloseContract(mallory.Pubkey(), vault)))
		assert.Equal(t, before+treasury, l.balance(mallory.Pubkey()))
	})

	t.Run("secure", func(t *testing.T) {
		l := newLab(t, ProfileSecure)
		mallory, vault := l.newUser()

		err := l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), vault, Frozen))
		assert.ErrorIs(t, err, program.ErrWrongAddress)
		assert.False(t, l.frozen())

		err = l.exec([]*types.Keypair{mallory}, l.addrs.NewCloseContract(mallory.Pubkey(), vault))
		assert.ErrorIs(t, err, program.ErrWrongAddress)
	})

	// Same layout as lab3, address check intact.
	t.Run("native layout", func(t *testing.T) {
		l := newLab(t, Profile{Name: "native", Layout: NativeVault})
		mallory, vault := l.newUser()

		err := l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), vault, Frozen))
		assert.ErrorIs(t, err, program.ErrWrongAddress)
		assert.False(t, l.frozen())
	})

	// The owner check still holds in lab3.
	t.Run("lab3 foreign config", func(t *testing.T) {
		l := newLab(t, ProfileLab3)
		mallory, _ := l.newUser()

		err := l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), mallory.Pubkey(), Frozen))
		assert.ErrorIs(t, err, program.ErrWrongOwner)
		assert.False(t, l.frozen())
	})
}

func TestSetStateRequiresAdmin(t *testing.T) {
	l := newLab(t, ProfileSecure)
	mallory, _ := l.newUser()

	err := l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), l.addrs.Config, Frozen))
	assert.ErrorIs(t, err, program.ErrWrongOwner)
	assert.False(t, l.frozen())

	// A config account the program does not own is never trusted.
	err = l.exec([]*types.Keypair{mallory}, l.addrs.NewSetState(mallory.Pubkey(), mallory.Pubkey(), Frozen))
	assert.ErrorIs(t, err, program.ErrWrongOwner)
}

func TestCloseContract(t *testing.T) {
	l := newLab(t, ProfileSecure)
	mallory, _ := l.newUser()
	l.fund(l.addrs.Treasury, 5_000_000_000)
	treasury := l.balance(l.addrs.Treasury)

	err := l.exec([]*types.Keypair{mallory}, l.addrs.NewCloseContract(mallory.Pubkey(), l.addrs.Config))
	assert.ErrorIs(t, err, program.ErrWrongOwner)
	assert.Equal(t, treasury, l.balance(l.addrs.Treasury))

	adminBefore := l.balance(l.admin.Pubkey())
	require.NoError(t, l.exec([]*types.Keypair{l.admin}, l.addrs.NewCloseContract(l.admin.Pubkey(), l.addrs.Config)))
	assert.Equal(t, uint64(0), l.balance(l.addrs.Treasury))
	assert.Equal(t, adminBefore+treasury, l.balance(l.admin.Pubkey()))
}
