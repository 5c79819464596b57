package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres ledger.Store
func New(db *sql.DB) ledger.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// PutIfAbsent implements ledger.Store.PutIfAbsent
func (s *store) PutIfAbsent(ctx context.Context, record *ledger.Record) (bool, error) {
	model, err := toModel(record)
	if err != nil {
		return false, err
	}

	inserted, err := model.dbPutIfAbsent(ctx, s.db)
	if err != nil {
		return false, err
	}

	if inserted {
		res := fromModel(model)
		res.CopyTo(record)
	}

	return inserted, nil
}

// GetBySignature implements ledger.Store.GetBySignature
func (s *store) GetBySignature(ctx context.Context, signature string) (*ledger.Record, error) {
	model, err := dbGetBySignature(ctx, s.db, signature)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// GetAggregates implements ledger.Store.GetAggregates
func (s *store) GetAggregates(ctx context.Context, wallet string, accountType account.AccountType) (*ledger.Aggregates, error) {
	return dbGetAggregates(ctx, s.db, wallet, accountType)
}
