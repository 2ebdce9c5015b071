package runtime

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// ReadOnly is a read-only, unsigned account meta.
func ReadOnly(pk types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk}
}

// Writable is a writable, unsigned account meta.
func Writable(pk types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsWritable: true}
}

// Signer is a read-only signer account meta.
func Signer(pk types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true}
}

// WritableSigner is a writable signer account meta.
func WritableSigner(pk types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true, IsWritable: true}
}

// Instruction invokes one program.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is the signed part of a transaction.
type Message struct {
	// Nonce distinguishes otherwise identical messages.
	Nonce        uint64
	Instructions []Instruction
}

// Serialize returns the bytes every signer signs.
func (m *Message) Serialize() ([]byte, error) {
	return borsh.Serialize(*m)
}

// RequiredSigners lists each account marked as signer, in order of first use.
func (m *Message) RequiredSigners() []types.Pubkey {
	seen := make(map[types.Pubkey]bool)
	var signers []types.Pubkey
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Pubkey] {
				seen[meta.Pubkey] = true
				signers = append(signers, meta.Pubkey)
			}
		}
	}
	return signers
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Message    Message
	Signatures []types.Signature
}

var nonceCounter atomic.Uint64

func init() {
	nonceCounter.Store(uint64(time.Now().UnixNano()))
}

// NewTransaction builds a transaction over instructions and signs it with every
// given keypair that is a required signer. Required signers without a keypair
// keep a zero signature and the runtime rejects the transaction.
func NewTransaction(instructions []Instruction, signers ...*types.Keypair) (*Transaction, error) {
	tx := &Transaction{
		Message: Message{
			Nonce:        nonceCounter.Add(1),
			Instructions: instructions,
		},
	}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign (re)computes the signature slots for the given keypairs.
func (tx *Transaction) Sign(signers ...*types.Keypair) error {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	required := tx.Message.RequiredSigners()
	if len(tx.Signatures) != len(required) {
		tx.Signatures = make([]types.Signature, len(required))
	}
	for _, kp := range signers {
		for i, pk := range required {
			if kp.Pubkey() == pk {
				tx.Signatures[i] = kp.Sign(msg)
			}
		}
	}
	return nil
}

// Verify checks that every required signer produced a valid signature.
func (tx *Transaction) Verify() error {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	required := tx.Message.RequiredSigners()
	if len(tx.Signatures) != len(required) {
		return fmt.Errorf("%w: want %d signatures, got %d", ErrSignatureVerification, len(required), len(tx.Signatures))
	}
	for i, pk := range required {
		if !tx.Signatures[i].Verify(pk, msg) {
			return fmt.Errorf("%w: %s", ErrSignatureVerification, pk)
		}
	}
	return nil
}

// ID identifies the transaction in the journal and for replay protection.
func (tx *Transaction) ID() types.Hash {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return types.Hash{}
	}
	parts := [][]byte{msg}
	for _, sig := range tx.Signatures {
		parts = append(parts, sig.Bytes())
	}
	return types.ComputeHash(parts...)
}
