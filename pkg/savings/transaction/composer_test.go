package transaction

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/solana"
	address_lookup_table "github.com/stashfi/savings-server/pkg/solana/addresslookuptable"
	compute_budget "github.com/stashfi/savings-server/pkg/solana/computebudget"
	"github.com/stashfi/savings-server/pkg/solana/token"
	"github.com/stashfi/savings-server/pkg/testutil"
	"github.com/stashfi/savings-server/pkg/usdc"
)

func TestCompose_HappyPath(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	composer := NewComposer(provider)

	subsidizer := testutil.NewRandomSubsidizer(t)
	owner := testutil.NewRandomAccount(t)
	destination := testutil.NewRandomAccount(t)
	freshSubAccount := testutil.NewRandomAccount(t)

	createIxn, _, err := token.CreateAssociatedTokenAccount(
		subsidizer.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		usdc.TokenMint,
	)
	require.NoError(t, err)

	actionIxn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1, 2, 3},
		solana.NewAccountMeta(freshSubAccount.PublicKey().ToBytes(), true),
		solana.NewAccountMeta(destination.PublicKey().ToBytes(), false),
	)

	composed, err := composer.Compose(ctx, subsidizer, &ComposeArgs{
		SponsoredCreations: []solana.Instruction{createIxn},
		Actions:            []solana.Instruction{actionIxn},
		ExtraSigners:       []*common.Account{freshSubAccount},
	})
	require.NoError(t, err)

	assert.EqualValues(t, subsidizer.PublicKey().ToBytes(), composed.Txn.FeePayer())
	assert.Equal(t, sc.Blockhash, composed.Txn.Message.RecentBlockhash)
	assert.Equal(t, sc.LastValidBlockHeight, composed.ExpiryHeight)
	assert.True(t, len(composed.Marshalled) <= solana.MaxTransactionSize)

	// Compute budget limit and price come first
	require.True(t, len(composed.Txn.Message.Instructions) >= 2)
	first := composed.Txn.Message.Instructions[0]
	second := composed.Txn.Message.Instructions[1]
	assert.EqualValues(t, compute_budget.ProgramKey, composed.Txn.Message.Accounts[first.ProgramIndex])
	assert.True(t, compute_budget.IsSetComputeUnitLimit(first.Data))
	assert.True(t, compute_budget.IsSetComputeUnitPrice(second.Data))

	// The fresh sub-account has signed in place
	signers := composed.Txn.RequiredSigners()
	var signed bool
	for i, signer := range signers {
		if bytes.Equal(freshSubAccount.PublicKey().ToBytes(), signer) {
			signed = composed.Txn.Signatures[i] != (solana.Signature{})
		}
	}
	assert.True(t, signed)
}

func TestCompose_HoistsUpstreamComputeBudget(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	composer := NewComposer(provider)

	subsidizer := testutil.NewRandomSubsidizer(t)
	destination := testutil.NewRandomAccount(t)

	actionIxns := []solana.Instruction{
		compute_budget.SetComputeUnitLimit(600_000),
		compute_budget.SetComputeUnitPrice(42),
		solana.NewInstruction(
			testutil.NewRandomAccount(t).PublicKey().ToBytes(),
			[]byte{1},
			solana.NewAccountMeta(destination.PublicKey().ToBytes(), false),
		),
	}

	composed, err := composer.Compose(ctx, subsidizer, &ComposeArgs{
		Actions: actionIxns,
	})
	require.NoError(t, err)

	require.Len(t, composed.Txn.Message.Instructions, 3)

	limit, err := compute_budget.ParseSetComputeUnitLimitIxnData(composed.Txn.Message.Instructions[0].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 600_000, limit)

	price, err := compute_budget.ParseSetComputeUnitPriceIxnData(composed.Txn.Message.Instructions[1].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 42, price)
}

func TestCompose_TransactionTooLarge(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	composer := NewComposer(provider)

	subsidizer := testutil.NewRandomSubsidizer(t)

	// Enough unique accounts to blow well past the wire size ceiling
	var accounts []solana.AccountMeta
	for _, key := range testutil.GenerateSolanaKeys(t, 48) {
		accounts = append(accounts, solana.NewAccountMeta(key, false))
	}
	actionIxn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		make([]byte, 512),
		accounts...,
	)

	_, err := composer.Compose(ctx, subsidizer, &ComposeArgs{
		Actions: []solana.Instruction{actionIxn},
	})
	assert.Equal(t, ErrTransactionTooLarge, err)
}

func TestCompose_LookupTableCompression(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	composer := NewComposer(provider)

	subsidizer := testutil.NewRandomSubsidizer(t)

	keys := testutil.GenerateSolanaKeys(t, 40)

	lookupTableAccount := testutil.NewRandomAccount(t)
	sc.SetAccount(lookupTableAccount.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  marshalLookupTable(keys),
		Owner: address_lookup_table.ProgramKey,
	})

	var accounts []solana.AccountMeta
	for _, key := range keys {
		accounts = append(accounts, solana.NewAccountMeta(key, false))
	}
	actionIxn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		make([]byte, 256),
		accounts...,
	)

	// Without the lookup table this account set does not fit
	_, err := composer.Compose(ctx, subsidizer, &ComposeArgs{
		Actions: []solana.Instruction{actionIxn},
	})
	assert.Equal(t, ErrTransactionTooLarge, err)

	composed, err := composer.Compose(ctx, subsidizer, &ComposeArgs{
		Actions:              []solana.Instruction{actionIxn},
		LookupTableAddresses: []string{lookupTableAccount.PublicKey().ToBase58()},
	})
	require.NoError(t, err)
	assert.True(t, len(composed.Marshalled) <= solana.MaxTransactionSize)
	require.Len(t, composed.Txn.Message.AddressTableLookups, 1)
}

func marshalLookupTable(addresses []ed25519.PublicKey) []byte {
	data := make([]byte, 56)
	binary.LittleEndian.PutUint32(data, 1)
	binary.LittleEndian.PutUint64(data[4:], ^uint64(0))
	for _, address := range addresses {
		data = append(data, address...)
	}
	return data
}
