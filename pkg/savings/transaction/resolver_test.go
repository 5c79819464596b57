package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/savings/data"
	account_type "github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/testutil"
)

func TestResolveSubAccount_ReuseExisting(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	resolver := NewResolver(provider)

	wallet := testutil.NewRandomAccount(t)
	valid := testutil.NewRandomAccount(t)

	sc.SetAccount(valid.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  make([]byte, flexlend.MinAccountDataSize),
		Owner: flexlend.ProgramKey,
	})

	require.NoError(t, provider.AddSubAccountHint(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, valid.PublicKey().ToBase58()))

	resolution, err := resolver.ResolveSubAccount(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, "")
	require.NoError(t, err)
	assert.True(t, resolution.Existing)
	assert.Equal(t, valid.PublicKey().ToBase58(), resolution.SubAccount.PublicKey().ToBase58())
	assert.Empty(t, resolution.StaleHints)
	assert.Nil(t, resolution.SubAccount.PrivateKey())
}

func TestResolveSubAccount_RequestHintTriedFirst(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	resolver := NewResolver(provider)

	wallet := testutil.NewRandomAccount(t)
	storedValid := testutil.NewRandomAccount(t)
	hinted := testutil.NewRandomAccount(t)

	sc.SetAccount(storedValid.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  make([]byte, flexlend.MinAccountDataSize),
		Owner: flexlend.ProgramKey,
	})
	sc.SetAccount(hinted.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  make([]byte, flexlend.MinAccountDataSize),
		Owner: flexlend.ProgramKey,
	})

	require.NoError(t, provider.AddSubAccountHint(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, storedValid.PublicKey().ToBase58()))

	resolution, err := resolver.ResolveSubAccount(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, hinted.PublicKey().ToBase58())
	require.NoError(t, err)
	assert.True(t, resolution.Existing)
	assert.Equal(t, hinted.PublicKey().ToBase58(), resolution.SubAccount.PublicKey().ToBase58())
}

func TestResolveSubAccount_StaleCandidates(t *testing.T) {
	ctx := context.Background()

	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	resolver := NewResolver(provider)

	wallet := testutil.NewRandomAccount(t)
	missing := testutil.NewRandomAccount(t)
	wrongOwner := testutil.NewRandomAccount(t)
	tooSmall := testutil.NewRandomAccount(t)

	sc.SetAccount(wrongOwner.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  make([]byte, flexlend.MinAccountDataSize),
		Owner: testutil.NewRandomAccount(t).PublicKey().ToBytes(),
	})
	sc.SetAccount(tooSmall.PublicKey().ToBytes(), solana.AccountInfo{
		Data:  make([]byte, flexlend.MinAccountDataSize-1),
		Owner: flexlend.ProgramKey,
	})

	for _, sub := range []string{missing.PublicKey().ToBase58(), wrongOwner.PublicKey().ToBase58(), tooSmall.PublicKey().ToBase58()} {
		require.NoError(t, provider.AddSubAccountHint(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, sub))
	}

	resolution, err := resolver.ResolveSubAccount(ctx, wallet.PublicKey().ToBase58(), account_type.AccountTypeFlex, "")
	require.NoError(t, err)
	assert.False(t, resolution.Existing)
	assert.Len(t, resolution.StaleHints, 3)
	assert.NotNil(t, resolution.SubAccount.PrivateKey())
}
