package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
)

func RunTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testRoundTrip,
		testPutIfAbsent,
		testGetAggregates,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s ledger.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()

		record := &ledger.Record{
			Wallet:      "wallet",
			AccountType: account.AccountTypeFlex,
			Direction:   ledger.DirectionWithdraw,

			Amount:        150,
			PrincipalPart: 100,
			InterestPart:  50,
			Fee:           5,

			Signature: "txn",
		}
		cloned := record.Clone()

		_, err := s.GetBySignature(ctx, record.Signature)
		assert.Equal(t, ledger.ErrLedgerEntryNotFound, err)

		inserted, err := s.PutIfAbsent(ctx, record)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.True(t, record.Id > 0)
		assert.True(t, record.CreatedAt.After(start))

		actual, err := s.GetBySignature(ctx, cloned.Signature)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testPutIfAbsent(t *testing.T, s ledger.Store) {
	t.Run("testPutIfAbsent", func(t *testing.T) {
		ctx := context.Background()

		record := &ledger.Record{
			Wallet:      "wallet",
			AccountType: account.AccountTypeFlex,
			Direction:   ledger.DirectionDeposit,

			Amount:        100,
			PrincipalPart: 100,

			Signature: "txn",
		}
		cloned := record.Clone()

		inserted, err := s.PutIfAbsent(ctx, record)
		require.NoError(t, err)
		assert.True(t, inserted)

		duplicate := cloned.Clone()
		duplicate.Amount = 999
		duplicate.PrincipalPart = 999
		inserted, err = s.PutIfAbsent(ctx, &duplicate)
		require.NoError(t, err)
		assert.False(t, inserted)

		actual, err := s.GetBySignature(ctx, cloned.Signature)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testGetAggregates(t *testing.T, s ledger.Store) {
	t.Run("testGetAggregates", func(t *testing.T) {
		ctx := context.Background()
		wallet := "wallet"

		aggregates, err := s.GetAggregates(ctx, wallet, account.AccountTypeFlex)
		require.NoError(t, err)
		assert.EqualValues(t, 0, aggregates.TotalDeposited)
		assert.EqualValues(t, 0, aggregates.PrincipalRemaining())

		records := []*ledger.Record{
			{Wallet: wallet, AccountType: account.AccountTypeFlex, Direction: ledger.DirectionDeposit, Amount: 100, PrincipalPart: 100, Signature: "txn1"},
			{Wallet: wallet, AccountType: account.AccountTypeFlex, Direction: ledger.DirectionDeposit, Amount: 50, PrincipalPart: 50, Signature: "txn2"},
			{Wallet: wallet, AccountType: account.AccountTypeFlex, Direction: ledger.DirectionWithdraw, Amount: 80, PrincipalPart: 70, InterestPart: 10, Fee: 2, Signature: "txn3"},
			{Wallet: wallet, AccountType: account.AccountTypePlus, Direction: ledger.DirectionDeposit, Amount: 1000, PrincipalPart: 1000, Signature: "txn4"},
			{Wallet: "other", AccountType: account.AccountTypeFlex, Direction: ledger.DirectionDeposit, Amount: 10000, PrincipalPart: 10000, Signature: "txn5"},
		}
		for _, record := range records {
			inserted, err := s.PutIfAbsent(ctx, record)
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		aggregates, err = s.GetAggregates(ctx, wallet, account.AccountTypeFlex)
		require.NoError(t, err)
		assert.EqualValues(t, 150, aggregates.PrincipalDeposited)
		assert.EqualValues(t, 70, aggregates.PrincipalWithdrawn)
		assert.EqualValues(t, 10, aggregates.InterestWithdrawn)
		assert.EqualValues(t, 150, aggregates.TotalDeposited)
		assert.EqualValues(t, 80, aggregates.TotalWithdrawn)
		assert.EqualValues(t, 2, aggregates.FeesPaid)
		assert.EqualValues(t, 80, aggregates.PrincipalRemaining())

		aggregates, err = s.GetAggregates(ctx, wallet, account.AccountTypePlus)
		require.NoError(t, err)
		assert.EqualValues(t, 1000, aggregates.PrincipalDeposited)
		assert.EqualValues(t, 1000, aggregates.PrincipalRemaining())
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *ledger.Record) {
	assert.Equal(t, obj1.Wallet, obj2.Wallet)
	assert.Equal(t, obj1.AccountType, obj2.AccountType)
	assert.Equal(t, obj1.Direction, obj2.Direction)
	assert.Equal(t, obj1.Amount, obj2.Amount)
	assert.Equal(t, obj1.PrincipalPart, obj2.PrincipalPart)
	assert.Equal(t, obj1.InterestPart, obj2.InterestPart)
	assert.Equal(t, obj1.Fee, obj2.Fee)
	assert.Equal(t, obj1.Signature, obj2.Signature)
}
