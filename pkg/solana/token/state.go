package token

import (
	"crypto/ed25519"
	"encoding/binary"
)

type AccountState byte

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// Reference: https://github.com/solana-labs/solana-program-library/blob/11b1e3eefdd4e523768d63f7c70a7aa391ea0d02/token/program/src/state.rs#L125
const AccountSize = 165

type Account struct {
	// The mint associated with this account
	Mint ed25519.PublicKey
	// The owner of this account.
	Owner ed25519.PublicKey
	// The amount of tokens this account holds.
	Amount uint64
	// The account's state
	State AccountState
}

func (a *Account) Unmarshal(b []byte) bool {
	if len(b) != AccountSize {
		return false
	}

	a.Mint = make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(a.Mint, b[:32])
	a.Owner = make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(a.Owner, b[32:64])
	a.Amount = binary.LittleEndian.Uint64(b[64:72])

	// 4 byte COption tag plus the optional delegate key precede the state byte
	a.State = AccountState(b[108])

	return true
}

func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)
	copy(b[:32], a.Mint)
	copy(b[32:64], a.Owner)
	binary.LittleEndian.PutUint64(b[64:72], a.Amount)
	b[108] = byte(a.State)
	return b
}
