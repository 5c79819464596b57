package testutil

import (
	"crypto/ed25519"
	"crypto/sha256"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/stashfi/savings-server/pkg/solana"
)

// FakeSolanaClient is an in memory solana.Client for component tests.
// Accounts and per-call results are set up directly on the struct.
type FakeSolanaClient struct {
	sync.Mutex

	Accounts             map[string]solana.AccountInfo
	TokenBalances        map[string]uint64
	Blockhash            solana.Blockhash
	LastValidBlockHeight uint64
	Statuses             map[solana.Signature]*solana.SignatureStatus
	Balances             map[string]*solana.TransactionTokenBalances

	SimulationResult solana.SimulationResult
	SimulationErr    error

	SubmitErr   error
	Submitted   []solana.Transaction
	SubmitCalls int
}

func NewFakeSolanaClient() *FakeSolanaClient {
	var blockhash solana.Blockhash
	copy(blockhash[:], sha256.New().Sum([]byte("blockhash")))

	return &FakeSolanaClient{
		Accounts:             make(map[string]solana.AccountInfo),
		TokenBalances:        make(map[string]uint64),
		Blockhash:            blockhash,
		LastValidBlockHeight: 250_000_000,
		Statuses:             make(map[solana.Signature]*solana.SignatureStatus),
		Balances:             make(map[string]*solana.TransactionTokenBalances),
	}
}

func (c *FakeSolanaClient) SetAccount(key ed25519.PublicKey, info solana.AccountInfo) {
	c.Lock()
	defer c.Unlock()
	c.Accounts[base58.Encode(key)] = info
}

func (c *FakeSolanaClient) GetAccountInfo(account ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	c.Lock()
	defer c.Unlock()

	info, ok := c.Accounts[base58.Encode(account)]
	if !ok {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}
	return info, nil
}

func (c *FakeSolanaClient) GetLatestBlockhash() (solana.Blockhash, uint64, error) {
	c.Lock()
	defer c.Unlock()
	return c.Blockhash, c.LastValidBlockHeight, nil
}

func (c *FakeSolanaClient) GetSignatureStatus(sig solana.Signature, _ solana.Commitment) (*solana.SignatureStatus, error) {
	c.Lock()
	defer c.Unlock()

	status, ok := c.Statuses[sig]
	if !ok {
		return nil, solana.ErrSignatureNotFound
	}
	return status, nil
}

func (c *FakeSolanaClient) GetSignatureStatuses(sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	c.Lock()
	defer c.Unlock()

	statuses := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		statuses[i] = c.Statuses[sig]
	}
	return statuses, nil
}

func (c *FakeSolanaClient) GetTokenAccountBalance(account ed25519.PublicKey) (uint64, uint64, error) {
	c.Lock()
	defer c.Unlock()

	balance, ok := c.TokenBalances[base58.Encode(account)]
	if !ok {
		return 0, 0, solana.ErrNoBalance
	}
	return balance, 0, nil
}

func (c *FakeSolanaClient) GetTokenAccountsByOwner(_, _ ed25519.PublicKey) ([]ed25519.PublicKey, error) {
	return nil, nil
}

func (c *FakeSolanaClient) GetTransactionTokenBalances(sig solana.Signature) (solana.TransactionTokenBalances, error) {
	c.Lock()
	defer c.Unlock()

	balances, ok := c.Balances[base58.Encode(sig[:])]
	if !ok {
		return solana.TransactionTokenBalances{}, solana.ErrSignatureNotFound
	}
	return *balances, nil
}

func (c *FakeSolanaClient) SimulateTransaction(_ solana.Transaction) (solana.SimulationResult, error) {
	c.Lock()
	defer c.Unlock()
	return c.SimulationResult, c.SimulationErr
}

func (c *FakeSolanaClient) SubmitTransaction(txn solana.Transaction, _ solana.Commitment) (solana.Signature, error) {
	c.Lock()
	defer c.Unlock()

	c.SubmitCalls++
	if c.SubmitErr != nil {
		return solana.Signature{}, c.SubmitErr
	}

	c.Submitted = append(c.Submitted, txn)

	var sig solana.Signature
	copy(sig[:], txn.Signature())
	return sig, nil
}
