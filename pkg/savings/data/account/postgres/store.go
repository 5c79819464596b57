package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres account.Store
func New(db *sql.DB) account.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Put implements account.Store.Put
func (s *store) Put(ctx context.Context, record *account.Record) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}

	err = model.dbPut(ctx, s.db)
	if err != nil {
		return err
	}

	res := fromModel(model)
	res.CopyTo(record)

	return nil
}

// Get implements account.Store.Get
func (s *store) Get(ctx context.Context, wallet string, accountType account.AccountType) (*account.Record, error) {
	model, err := dbGet(ctx, s.db, wallet, accountType)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// AddSubAccountHint implements account.Store.AddSubAccountHint
func (s *store) AddSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	return dbAddHint(ctx, s.db, wallet, accountType, subAccount)
}

// GetSubAccountHints implements account.Store.GetSubAccountHints
func (s *store) GetSubAccountHints(ctx context.Context, wallet string, accountType account.AccountType) ([]string, error) {
	return dbGetHints(ctx, s.db, wallet, accountType)
}

// RemoveSubAccountHint implements account.Store.RemoveSubAccountHint
func (s *store) RemoveSubAccountHint(ctx context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	return dbRemoveHint(ctx, s.db, wallet, accountType, subAccount)
}
