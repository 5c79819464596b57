package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/solana/token"
	"github.com/stashfi/savings-server/pkg/testutil"
	"github.com/stashfi/savings-server/pkg/usdc"
)

func TestExtractSponsoredCreations(t *testing.T) {
	subsidizer := testutil.NewRandomAccount(t)
	payer := testutil.NewRandomAccount(t)
	owner := testutil.NewRandomAccount(t)
	otherOwner := testutil.NewRandomAccount(t)

	createIxn, _, err := token.CreateAssociatedTokenAccount(
		payer.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		usdc.TokenMint,
	)
	require.NoError(t, err)

	duplicateIxn, _, err := token.CreateAssociatedTokenAccountIdempotent(
		payer.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		usdc.TokenMint,
	)
	require.NoError(t, err)

	otherCreateIxn, _, err := token.CreateAssociatedTokenAccount(
		payer.PublicKey().ToBytes(),
		otherOwner.PublicKey().ToBytes(),
		usdc.TokenMint,
	)
	require.NoError(t, err)

	transferIxn := token.Transfer(
		owner.PublicKey().ToBytes(),
		otherOwner.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		100,
	)

	sponsored, remaining, err := ExtractSponsoredCreations(subsidizer, []solana.Instruction{
		createIxn,
		transferIxn,
		duplicateIxn,
		otherCreateIxn,
	})
	require.NoError(t, err)

	require.Len(t, sponsored, 2)
	require.Len(t, remaining, 1)

	for _, ixn := range sponsored {
		decompiled, err := token.DecompileCreateAssociatedAccountFromInstruction(ixn)
		require.NoError(t, err)
		assert.EqualValues(t, subsidizer.PublicKey().ToBytes(), decompiled.Subsidizer)
	}

	first, err := token.DecompileCreateAssociatedAccountFromInstruction(sponsored[0])
	require.NoError(t, err)
	assert.EqualValues(t, owner.PublicKey().ToBytes(), first.Owner)

	second, err := token.DecompileCreateAssociatedAccountFromInstruction(sponsored[1])
	require.NoError(t, err)
	assert.EqualValues(t, otherOwner.PublicKey().ToBytes(), second.Owner)

	assert.EqualValues(t, token.ProgramKey, remaining[0].Program)
}

func TestExtractSponsoredCreations_NoCreations(t *testing.T) {
	subsidizer := testutil.NewRandomAccount(t)
	owner := testutil.NewRandomAccount(t)
	destination := testutil.NewRandomAccount(t)

	transferIxn := token.Transfer(
		owner.PublicKey().ToBytes(),
		destination.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		100,
	)

	sponsored, remaining, err := ExtractSponsoredCreations(subsidizer, []solana.Instruction{transferIxn})
	require.NoError(t, err)
	assert.Empty(t, sponsored)
	require.Len(t, remaining, 1)
}
