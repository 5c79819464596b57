package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings/data/fee"
	"github.com/stashfi/savings-server/pkg/usdc"
)

func RunTests(t *testing.T, s fee.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s fee.Store){
		testRoundTrip,
		testPutIfAbsent,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s fee.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()

		record := &fee.Record{
			Wallet:    "wallet",
			Signature: "txn",
			Kind:      fee.KindWithdraw,
			Lines: []fee.Line{
				{Asset: usdc.Mint, Amount: 500000, Decimals: usdc.Decimals},
			},
		}
		cloned := record.Clone()

		_, err := s.Get(ctx, record.Signature, record.Kind)
		assert.Equal(t, fee.ErrFeeEventNotFound, err)

		inserted, err := s.PutIfAbsent(ctx, record)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.True(t, record.Id > 0)
		assert.True(t, record.CreatedAt.After(start))

		actual, err := s.Get(ctx, cloned.Signature, cloned.Kind)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testPutIfAbsent(t *testing.T, s fee.Store) {
	t.Run("testPutIfAbsent", func(t *testing.T) {
		ctx := context.Background()

		record := &fee.Record{
			Wallet:    "wallet",
			Signature: "txn",
			Kind:      fee.KindWithdraw,
			Lines: []fee.Line{
				{Asset: usdc.Mint, Amount: 500000, Decimals: usdc.Decimals},
			},
		}
		cloned := record.Clone()

		inserted, err := s.PutIfAbsent(ctx, record)
		require.NoError(t, err)
		assert.True(t, inserted)

		duplicate := cloned.Clone()
		duplicate.Lines[0].Amount = 999
		inserted, err = s.PutIfAbsent(ctx, &duplicate)
		require.NoError(t, err)
		assert.False(t, inserted)

		actual, err := s.Get(ctx, cloned.Signature, cloned.Kind)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		// An event of a different kind for the same signature is independent
		other := cloned.Clone()
		other.Kind = fee.KindSwap
		inserted, err = s.PutIfAbsent(ctx, &other)
		require.NoError(t, err)
		assert.True(t, inserted)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *fee.Record) {
	assert.Equal(t, obj1.Wallet, obj2.Wallet)
	assert.Equal(t, obj1.Signature, obj2.Signature)
	assert.Equal(t, obj1.Kind, obj2.Kind)
	assert.Equal(t, obj1.Lines, obj2.Lines)
}
