package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/stashfi/savings-server/pkg/savings/data/fee"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres fee.Store
func New(db *sql.DB) fee.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// PutIfAbsent implements fee.Store.PutIfAbsent
func (s *store) PutIfAbsent(ctx context.Context, record *fee.Record) (bool, error) {
	model, err := toModel(record)
	if err != nil {
		return false, err
	}

	inserted, err := model.dbPutIfAbsent(ctx, s.db)
	if err != nil {
		return false, err
	}

	if inserted {
		res, err := fromModel(model)
		if err != nil {
			return false, err
		}
		res.CopyTo(record)
	}

	return inserted, nil
}

// Get implements fee.Store.Get
func (s *store) Get(ctx context.Context, signature string, kind fee.Kind) (*fee.Record, error) {
	model, err := dbGet(ctx, s.db, signature, kind)
	if err != nil {
		return nil, err
	}
	return fromModel(model)
}
