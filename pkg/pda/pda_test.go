package pda

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

var loaderID = types.MustPubkeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

func TestCreateProgramAddressKnownVectors(t *testing.T) {
	seedKey := types.MustPubkeyFromBase58("SeedPubey1111111111111111111111111111111111")

	tests := []struct {
		name  string
		seeds [][]byte
		want  string
	}{
		{"empty seed", [][]byte{{}, {1}}, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe"},
		{"utf8 seed", [][]byte{[]byte("☉"), {0}}, "13yWmRpaTR4r5nAktwLqMpRNr28tnVUZw26rTvPSSB19"},
		{"two words", [][]byte{[]byte("Talking"), []byte("Squirrels")}, "2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk"},
		{"pubkey seed", [][]byte{seedKey.Bytes(), {1}}, "976ymqVnfE32QFe6NfGDctSvVa36LWnvYxhU6G2232YL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := CreateProgramAddress(tt.seeds, loaderID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

func TestCreateProgramAddressLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{bytes.Repeat([]byte{1}, MaxSeedLen+1)}, loaderID)
	require.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress([][]byte{bytes.Repeat([]byte{1}, MaxSeedLen)}, loaderID)
	require.NoError(t, err)

	seeds := make([][]byte, MaxSeeds+1)
	for i := range seeds {
		seeds[i] = []byte{byte(i)}
	}
	_, err = CreateProgramAddress(seeds, loaderID)
	require.ErrorIs(t, err, ErrMaxSeedsExceeded)

	_, _, err = FindProgramAddress(seeds[:MaxSeeds], loaderID)
	require.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestFindProgramAddressVaultLab(t *testing.T) {
	tests := []struct {
		seed string
		want string
		bump uint8
	}{
		{"config", "AqwejW49FgBss5iYAAASM6kwo4x8CmVk8SBoiziteFdR", 254},
		{"state", "5j6j1NTEpRVwyXfTGxzFBuu9J7tmxWAmLK2wJR1Jtffh", 253},
		{"vault", "8giHtjSLX3XwwV8fUtSpUn9FuUSoTFHzaW4PR5jrpurR", 255},
	}
	for _, tt := range tests {
		t.Run(tt.seed, func(t *testing.T) {
			addr, bump, err := FindProgramAddress([][]byte{[]byte(tt.seed)}, types.VaultLabProgramAddr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
			assert.Equal(t, tt.bump, bump)
		})
	}

	// "config" skipped bump 255 because that candidate is on the curve.
	_, err := CreateProgramAddress([][]byte{[]byte("config"), {255}}, types.VaultLabProgramAddr)
	require.ErrorIs(t, err, ErrInvalidSeeds)
}

func TestFindProgramAddressProperties(t *testing.T) {
	programID := types.NewUniquePubkey()
	user := types.NewUniquePubkey()
	seeds := [][]byte{user.Bytes(), []byte("vault")}

	addr, bump, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	again, againBump, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, bump, againBump)

	assert.False(t, IsOnCurve(addr[:]))

	recreated, err := CreateProgramAddress(append(seeds, []byte{bump}), programID)
	require.NoError(t, err)
	assert.Equal(t, addr, recreated)

	other, _, err := FindProgramAddress(seeds, types.NewUniquePubkey())
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestIsOnCurve(t *testing.T) {
	kp := types.MustNewKeypair()
	pk := kp.Pubkey()
	assert.True(t, IsOnCurve(pk[:]))
	assert.False(t, IsOnCurve(pk[:31]))
}

func TestParseSeeds(t *testing.T) {
	key := types.NewUniquePubkey()
	seeds, err := ParseSeeds([]string{"vault", "str:config", "key:" + key.String(), "hex:0aff"})
	require.NoError(t, err)
	require.Len(t, seeds, 4)
	assert.Equal(t, []byte("vault"), seeds[0])
	assert.Equal(t, []byte("config"), seeds[1])
	assert.Equal(t, key.Bytes(), seeds[2])
	assert.Equal(t, []byte{0x0a, 0xff}, seeds[3])

	_, err = ParseSeeds([]string{"hex:zz"})
	require.Error(t, err)
	_, err = ParseSeeds([]string{"str:" + string(bytes.Repeat([]byte("a"), 33))})
	require.ErrorIs(t, err, ErrMaxSeedLengthExceeded)
}
