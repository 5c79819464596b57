package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	pg "github.com/stashfi/savings-server/pkg/database/postgres"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/fee"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"

	account_memory_client "github.com/stashfi/savings-server/pkg/savings/data/account/memory"
	fee_memory_client "github.com/stashfi/savings-server/pkg/savings/data/fee/memory"
	ledger_memory_client "github.com/stashfi/savings-server/pkg/savings/data/ledger/memory"

	account_postgres_client "github.com/stashfi/savings-server/pkg/savings/data/account/postgres"
	fee_postgres_client "github.com/stashfi/savings-server/pkg/savings/data/fee/postgres"
	ledger_postgres_client "github.com/stashfi/savings-server/pkg/savings/data/ledger/postgres"
)

type DatabaseData interface {
	// Ledger
	// --------------------------------------------------------------------------------
	PutLedgerEntryIfAbsent(ctx context.Context, record *ledger.Record) (bool, error)
	GetLedgerEntryBySignature(ctx context.Context, signature string) (*ledger.Record, error)
	GetLedgerAggregates(ctx context.Context, wallet string, accountType account.AccountType) (*ledger.Aggregates, error)

	// Fee Events
	// --------------------------------------------------------------------------------
	PutFeeEventIfAbsent(ctx context.Context, record *fee.Record) (bool, error)
	GetFeeEvent(ctx context.Context, signature string, kind fee.Kind) (*fee.Record, error)

	// Savings Accounts
	// --------------------------------------------------------------------------------
	PutSavingsAccount(ctx context.Context, record *account.Record) error
	GetSavingsAccount(ctx context.Context, wallet string, accountType account.AccountType) (*account.Record, error)
	AddSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error
	GetSubAccountHints(ctx context.Context, wallet string, accountType account.AccountType) ([]string, error)
	RemoveSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error
}

type DatabaseProvider struct {
	ledger   ledger.Store
	fees     fee.Store
	accounts account.Store

	db *sqlx.DB
}

func NewDatabaseProvider(dbConfig *pg.Config) (DatabaseData, error) {
	db, err := pg.NewWithUsernameAndPassword(
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		fmt.Sprint(dbConfig.Port),
		dbConfig.DbName,
	)
	if err != nil {
		return nil, err
	}

	if dbConfig.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(dbConfig.MaxOpenConnections)
	}
	if dbConfig.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(dbConfig.MaxIdleConnections)
	}
	db.SetConnMaxIdleTime(time.Hour)
	db.SetConnMaxLifetime(time.Hour)

	return &DatabaseProvider{
		ledger:   ledger_postgres_client.New(db),
		fees:     fee_postgres_client.New(db),
		accounts: account_postgres_client.New(db),

		db: sqlx.NewDb(db, "pgx"),
	}, nil
}

func NewTestDatabaseProvider() DatabaseData {
	return &DatabaseProvider{
		ledger:   ledger_memory_client.New(),
		fees:     fee_memory_client.New(),
		accounts: account_memory_client.New(),
	}
}

// Ledger
// --------------------------------------------------------------------------------
func (dp *DatabaseProvider) PutLedgerEntryIfAbsent(ctx context.Context, record *ledger.Record) (bool, error) {
	return dp.ledger.PutIfAbsent(ctx, record)
}
func (dp *DatabaseProvider) GetLedgerEntryBySignature(ctx context.Context, signature string) (*ledger.Record, error) {
	return dp.ledger.GetBySignature(ctx, signature)
}
func (dp *DatabaseProvider) GetLedgerAggregates(ctx context.Context, wallet string, accountType account.AccountType) (*ledger.Aggregates, error) {
	return dp.ledger.GetAggregates(ctx, wallet, accountType)
}

// Fee Events
// --------------------------------------------------------------------------------
func (dp *DatabaseProvider) PutFeeEventIfAbsent(ctx context.Context, record *fee.Record) (bool, error) {
	return dp.fees.PutIfAbsent(ctx, record)
}
func (dp *DatabaseProvider) GetFeeEvent(ctx context.Context, signature string, kind fee.Kind) (*fee.Record, error) {
	return dp.fees.Get(ctx, signature, kind)
}

// Savings Accounts
// --------------------------------------------------------------------------------
func (dp *DatabaseProvider) PutSavingsAccount(ctx context.Context, record *account.Record) error {
	return dp.accounts.Put(ctx, record)
}
func (dp *DatabaseProvider) GetSavingsAccount(ctx context.Context, wallet string, accountType account.AccountType) (*account.Record, error) {
	return dp.accounts.Get(ctx, wallet, accountType)
}
func (dp *DatabaseProvider) AddSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	return dp.accounts.AddSubAccountHint(ctx, wallet, accountType, subAccount)
}
func (dp *DatabaseProvider) GetSubAccountHints(ctx context.Context, wallet string, accountType account.AccountType) ([]string, error) {
	return dp.accounts.GetSubAccountHints(ctx, wallet, accountType)
}
func (dp *DatabaseProvider) RemoveSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	return dp.accounts.RemoveSubAccountHint(ctx, wallet, accountType, subAccount)
}
