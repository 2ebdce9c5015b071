package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkeyBase58(t *testing.T) {
	pk := NewUniquePubkey()
	parsed, err := PubkeyFromBase58(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)

	_, err = PubkeyFromBase58("1111")
	assert.ErrorIs(t, err, ErrInvalidPubkey)
	assert.True(t, Pubkey{}.IsZero())
}

func TestSignature(t *testing.T) {
	kp := MustNewKeypair()
	msg := []byte("vault")
	sig := kp.Sign(msg)

	assert.True(t, sig.Verify(kp.Pubkey(), msg))
	assert.False(t, sig.Verify(kp.Pubkey(), []byte("other")))
	assert.Len(t, sig.Bytes(), SignatureSize)
	assert.Equal(t, sig[:], sig.Bytes())

	parsed, err := SignatureFromBase58(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
	assert.True(t, Signature{}.IsZero())
}

func TestComputeHashSeparatesParts(t *testing.T) {
	kp := MustNewKeypair()
	a := kp.Sign([]byte("a"))
	b := kp.Sign([]byte("b"))
	assert.NotEqual(t, ComputeHash([]byte("msg"), a.Bytes()), ComputeHash([]byte("msg"), b.Bytes()))
	assert.Equal(t, ComputeHash([]byte("msg"), a.Bytes()), ComputeHash([]byte("msg"), a.Bytes()))
}
