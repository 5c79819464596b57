package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
)

func RunTests(t *testing.T, s account.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s account.Store){
		testRoundTrip,
		testUpsert,
		testSubAccountHints,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s account.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()

		record := &account.Record{
			Wallet:      "wallet",
			AccountType: account.AccountTypeFlex,
			SubAccount:  "sub_account",

			PrincipalDeposited: 100,
			TotalDeposited:     100,

			LastSyncedAt: time.Now(),
		}
		cloned := record.Clone()

		_, err := s.Get(ctx, record.Wallet, record.AccountType)
		assert.Equal(t, account.ErrAccountNotFound, err)

		require.NoError(t, s.Put(ctx, record))
		assert.True(t, record.Id > 0)
		assert.True(t, record.CreatedAt.After(start))

		actual, err := s.Get(ctx, cloned.Wallet, cloned.AccountType)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		_, err = s.Get(ctx, record.Wallet, account.AccountTypePlus)
		assert.Equal(t, account.ErrAccountNotFound, err)
	})
}

func testUpsert(t *testing.T, s account.Store) {
	t.Run("testUpsert", func(t *testing.T) {
		ctx := context.Background()

		record := &account.Record{
			Wallet:      "wallet",
			AccountType: account.AccountTypeFlex,

			PrincipalDeposited: 100,
			TotalDeposited:     100,

			LastSyncedAt: time.Now(),
		}
		require.NoError(t, s.Put(ctx, record))
		originalId := record.Id

		record.SubAccount = "sub_account"
		record.PrincipalDeposited = 150
		record.PrincipalWithdrawn = 25
		record.InterestWithdrawn = 5
		record.TotalDeposited = 150
		record.TotalWithdrawn = 30
		record.FeesPaid = 1
		record.LastSyncedAt = time.Now()
		cloned := record.Clone()

		require.NoError(t, s.Put(ctx, record))
		assert.Equal(t, originalId, record.Id)

		actual, err := s.Get(ctx, cloned.Wallet, cloned.AccountType)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testSubAccountHints(t *testing.T, s account.Store) {
	t.Run("testSubAccountHints", func(t *testing.T) {
		ctx := context.Background()

		hints, err := s.GetSubAccountHints(ctx, "wallet", account.AccountTypeFlex)
		require.NoError(t, err)
		assert.Empty(t, hints)

		require.NoError(t, s.AddSubAccountHint(ctx, "wallet", account.AccountTypeFlex, "sub1"))
		require.NoError(t, s.AddSubAccountHint(ctx, "wallet", account.AccountTypeFlex, "sub2"))
		require.NoError(t, s.AddSubAccountHint(ctx, "wallet", account.AccountTypeFlex, "sub2"))
		require.NoError(t, s.AddSubAccountHint(ctx, "other", account.AccountTypeFlex, "sub3"))
		require.NoError(t, s.AddSubAccountHint(ctx, "wallet", account.AccountTypePlus, "sub4"))

		hints, err = s.GetSubAccountHints(ctx, "wallet", account.AccountTypeFlex)
		require.NoError(t, err)
		assert.Equal(t, []string{"sub2", "sub1"}, hints)

		require.NoError(t, s.RemoveSubAccountHint(ctx, "wallet", account.AccountTypeFlex, "sub1"))
		require.NoError(t, s.RemoveSubAccountHint(ctx, "wallet", account.AccountTypeFlex, "missing"))

		hints, err = s.GetSubAccountHints(ctx, "wallet", account.AccountTypeFlex)
		require.NoError(t, err)
		assert.Equal(t, []string{"sub2"}, hints)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *account.Record) {
	assert.Equal(t, obj1.Wallet, obj2.Wallet)
	assert.Equal(t, obj1.AccountType, obj2.AccountType)
	assert.Equal(t, obj1.SubAccount, obj2.SubAccount)
	assert.Equal(t, obj1.PrincipalDeposited, obj2.PrincipalDeposited)
	assert.Equal(t, obj1.PrincipalWithdrawn, obj2.PrincipalWithdrawn)
	assert.Equal(t, obj1.InterestWithdrawn, obj2.InterestWithdrawn)
	assert.Equal(t, obj1.TotalDeposited, obj2.TotalDeposited)
	assert.Equal(t, obj1.TotalWithdrawn, obj2.TotalWithdrawn)
	assert.Equal(t, obj1.FeesPaid, obj2.FeesPaid)
}
