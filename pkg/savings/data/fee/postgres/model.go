package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	pgutil "github.com/stashfi/savings-server/pkg/database/postgres"
	"github.com/stashfi/savings-server/pkg/savings/data/fee"
)

const (
	tableName = "stashfi__savings_feeevent"
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	Wallet    string `db:"wallet"`
	Signature string `db:"signature"`
	Kind      string `db:"kind"`

	// Lines is a jsonb array of fee.Line
	Lines string `db:"lines"`

	CreatedAt time.Time `db:"created_at"`
}

func toModel(obj *fee.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	lines, err := json.Marshal(obj.Lines)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling fee lines")
	}

	return &model{
		Wallet:    obj.Wallet,
		Signature: obj.Signature,
		Kind:      string(obj.Kind),

		Lines: string(lines),

		CreatedAt: obj.CreatedAt,
	}, nil
}

func fromModel(obj *model) (*fee.Record, error) {
	var lines []fee.Line
	if err := json.Unmarshal([]byte(obj.Lines), &lines); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling fee lines")
	}

	return &fee.Record{
		Id: uint64(obj.Id.Int64),

		Wallet:    obj.Wallet,
		Signature: obj.Signature,
		Kind:      fee.Kind(obj.Kind),

		Lines: lines,

		CreatedAt: obj.CreatedAt,
	}, nil
}

func (m *model) dbPutIfAbsent(ctx context.Context, db *sqlx.DB) (bool, error) {
	query := `INSERT INTO ` + tableName + `
		(wallet, signature, kind, lines, created_at)
		VALUES ($1, $2, $3, $4, $5)

		ON CONFLICT(signature, kind)
		DO NOTHING

		RETURNING id, wallet, signature, kind, lines, created_at`

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	err := db.QueryRowxContext(
		ctx,
		query,
		m.Wallet,
		m.Signature,
		m.Kind,
		m.Lines,
		m.CreatedAt,
	).StructScan(m)
	if err != nil {
		if pgutil.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func dbGet(ctx context.Context, db *sqlx.DB, signature string, kind fee.Kind) (*model, error) {
	var res model

	query := `SELECT id, wallet, signature, kind, lines, created_at FROM ` + tableName + `
		WHERE signature = $1 AND kind = $2
	`

	err := db.GetContext(ctx, &res, query, signature, string(kind))
	if err != nil {
		return nil, pgutil.CheckNoRows(err, fee.ErrFeeEventNotFound)
	}
	return &res, nil
}
