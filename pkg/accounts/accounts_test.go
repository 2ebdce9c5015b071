package accounts

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

func testAccount(lamports uint64, data []byte) *Account {
	return &Account{
		Lamports: lamports,
		Data:     data,
		Owner:    types.SystemProgramAddr,
	}
}

func TestAccountSerialization(t *testing.T) {
	original := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte{1, 2, 3, 4, 5},
		Owner:      types.NewUniquePubkey(),
		Executable: true,
	}
	raw, err := original.Serialize()
	require.NoError(t, err)
	// lamports + data length prefix + data + owner + executable
	assert.Len(t, raw, 8+4+5+32+1)

	decoded, err := DeserializeAccount(raw)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	_, err = DeserializeAccount(raw[:10])
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestAccountCloneIsDeep(t *testing.T) {
	original := testAccount(5, []byte{1, 2, 3})
	clone := original.Clone()
	clone.Data[0] = 9
	clone.Lamports = 6
	assert.Equal(t, byte(1), original.Data[0])
	assert.Equal(t, uint64(5), original.Lamports)
	assert.Nil(t, (*Account)(nil).Clone())
}

func exerciseDB(t *testing.T, db DB) {
	t.Helper()
	a, b, c := types.NewUniquePubkey(), types.NewUniquePubkey(), types.NewUniquePubkey()

	_, err := db.GetAccount(a)
	require.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, db.SetAccount(a, testAccount(100, []byte{7})))
	got, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)
	assert.Equal(t, []byte{7}, got.Data)

	// Returned accounts are copies.
	got.Data[0] = 0
	again, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, again.Data)

	require.NoError(t, db.Apply([]Update{
		{Pubkey: a, Account: testAccount(0, []byte{7})},
		{Pubkey: b, Account: testAccount(50, nil)},
		{Pubkey: c, Account: testAccount(60, make([]byte, 36))},
	}))
	assert.Equal(t, uint64(1), db.Height())

	has, err := db.HasAccount(a)
	require.NoError(t, err)
	assert.False(t, has, "zero-lamport account must be purged")

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	var visited []types.Pubkey
	require.NoError(t, db.ForEach(func(pubkey types.Pubkey, _ *Account) error {
		visited = append(visited, pubkey)
		return nil
	}))
	require.Len(t, visited, 2)
	assert.True(t, bytes.Compare(visited[0][:], visited[1][:]) < 0)

	require.NoError(t, db.DeleteAccount(b))
	require.NoError(t, db.DeleteAccount(b))
	count, err = db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, db.Close())
	_, err = db.GetAccount(c)
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryDB(t *testing.T) {
	exerciseDB(t, NewMemoryDB())
}

func TestBadgerDB(t *testing.T) {
	cfg := DefaultBadgerDBConfig("")
	cfg.InMemory = true
	db, err := NewBadgerDB(cfg)
	require.NoError(t, err)
	exerciseDB(t, db)
}

func TestBadgerDBReopen(t *testing.T) {
	dir := t.TempDir()
	pk := types.NewUniquePubkey()

	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.Apply([]Update{{Pubkey: pk, Account: testAccount(42, []byte("vault"))}}))
	require.NoError(t, db.Close())

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, uint64(1), db.Height())
	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	got, err := db.GetAccount(pk)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Lamports)
	assert.Equal(t, []byte("vault"), got.Data)
}

func TestMerkleRoot(t *testing.T) {
	assert.True(t, ComputeMerkleRoot(nil).IsZero())

	h1 := types.Hash{1}
	h2 := types.Hash{2}
	one := ComputeMerkleRoot([]types.Hash{h1})
	two := ComputeMerkleRoot([]types.Hash{h1, h2})
	swapped := ComputeMerkleRoot([]types.Hash{h2, h1})
	assert.NotEqual(t, h1, one)
	assert.NotEqual(t, two, swapped)
	assert.Equal(t, two, ComputeMerkleRoot([]types.Hash{h1, h2}))
}

func TestStateAndDeltaHash(t *testing.T) {
	db := NewMemoryDB()
	a, b := types.NewUniquePubkey(), types.NewUniquePubkey()
	require.NoError(t, db.SetAccount(a, testAccount(1, nil)))
	require.NoError(t, db.SetAccount(b, testAccount(2, nil)))

	before, err := ComputeStateHash(db)
	require.NoError(t, err)

	delta, err := ComputeDeltaHash(db, []types.Pubkey{b, a})
	require.NoError(t, err)
	deltaSorted, err := ComputeDeltaHash(db, []types.Pubkey{a, b})
	require.NoError(t, err)
	assert.Equal(t, delta, deltaSorted)

	require.NoError(t, db.SetAccount(b, testAccount(3, nil)))
	after, err := ComputeStateHash(db)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	missing, err := ComputeDeltaHash(db, []types.Pubkey{types.NewUniquePubkey()})
	require.NoError(t, err)
	assert.Equal(t, ComputeMerkleRoot([]types.Hash{{}}), missing)
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	for i := 0; i < 20; i++ {
		acc := testAccount(uint64(i+1)*1000, bytes.Repeat([]byte{byte(i)}, i))
		acc.Owner = types.VaultLabProgramAddr
		require.NoError(t, src.SetAccount(types.NewUniquePubkey(), acc))
	}
	want, err := ComputeStateHash(src)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snap", "state.vlsn")
	header, err := CreateSnapshot(path, src)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), header.AccountsCount)
	assert.Equal(t, want, header.StateHash)

	dst := NewMemoryDB()
	loaded, err := LoadSnapshot(path, dst)
	require.NoError(t, err)
	assert.Equal(t, header, loaded)

	got, err := ComputeStateHash(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	_, err := ReadSnapshot(bytes.NewReader([]byte("nope")), NewMemoryDB())
	require.ErrorIs(t, err, ErrBadSnapshot)

	var buf bytes.Buffer
	_, err = WriteSnapshot(&buf, NewMemoryDB())
	require.NoError(t, err)
	raw := buf.Bytes()
	raw[0] = 'X'
	_, err = ReadSnapshot(bytes.NewReader(raw), NewMemoryDB())
	require.ErrorIs(t, err, ErrBadSnapshot)
}
