package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKey(t *testing.T) ed25519.PublicKey {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

func TestTransaction_RoundTrip(t *testing.T) {
	payer := generateTestKey(t)
	signer := generateTestKey(t)

	txn := NewVersionedTransaction(payer, nil, []Instruction{
		NewInstruction(generateTestKey(t), []byte{1, 2, 3}, NewAccountMeta(signer, true)),
	})

	var bh Blockhash
	bh[0] = 1
	txn.SetBlockhash(bh)

	var decoded Transaction
	require.NoError(t, decoded.Unmarshal(txn.Marshal()))

	assert.Equal(t, txn.Signatures, decoded.Signatures)
	assert.Equal(t, txn.Message.Header, decoded.Message.Header)
	assert.Equal(t, txn.Message.Accounts, decoded.Message.Accounts)
	assert.Equal(t, txn.Message.Instructions, decoded.Message.Instructions)
}

func TestTransactionUnmarshal_SignatureCountMismatch(t *testing.T) {
	payer := generateTestKey(t)
	signer := generateTestKey(t)

	txn := NewVersionedTransaction(payer, nil, []Instruction{
		NewInstruction(generateTestKey(t), []byte{1}, NewAccountMeta(signer, true)),
	})

	var bh Blockhash
	bh[0] = 1
	txn.SetBlockhash(bh)

	raw := txn.Marshal()
	require.EqualValues(t, 2, raw[0])

	var decoded Transaction
	require.NoError(t, decoded.Unmarshal(raw))

	// Rewrite the signature count to one and drop the second signature
	// entry, leaving the header's required signer count at two.
	truncated := []byte{1}
	truncated = append(truncated, raw[1:1+ed25519.SignatureSize]...)
	truncated = append(truncated, raw[1+2*ed25519.SignatureSize:]...)
	assert.Error(t, decoded.Unmarshal(truncated))

	// The inverse direction, extra signature entries, is equally invalid.
	padded := []byte{3}
	padded = append(padded, raw[1:1+2*ed25519.SignatureSize]...)
	padded = append(padded, make([]byte, ed25519.SignatureSize)...)
	padded = append(padded, raw[1+2*ed25519.SignatureSize:]...)
	assert.Error(t, decoded.Unmarshal(padded))
}
