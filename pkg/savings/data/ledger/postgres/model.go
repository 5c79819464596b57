package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/stashfi/savings-server/pkg/database/postgres"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
)

const (
	tableName = "stashfi__savings_ledgerentry"
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	Wallet      string `db:"wallet"`
	AccountType string `db:"account_type"`
	Direction   int    `db:"direction"`

	Amount        uint64 `db:"amount"`
	PrincipalPart uint64 `db:"principal_part"`
	InterestPart  uint64 `db:"interest_part"`
	Fee           uint64 `db:"fee"`

	Signature string `db:"signature"`

	CreatedAt time.Time `db:"created_at"`
}

func toModel(obj *ledger.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	return &model{
		Wallet:      obj.Wallet,
		AccountType: string(obj.AccountType),
		Direction:   int(obj.Direction),

		Amount:        obj.Amount,
		PrincipalPart: obj.PrincipalPart,
		InterestPart:  obj.InterestPart,
		Fee:           obj.Fee,

		Signature: obj.Signature,

		CreatedAt: obj.CreatedAt,
	}, nil
}

func fromModel(obj *model) *ledger.Record {
	return &ledger.Record{
		Id: uint64(obj.Id.Int64),

		Wallet:      obj.Wallet,
		AccountType: account.AccountType(obj.AccountType),
		Direction:   ledger.Direction(obj.Direction),

		Amount:        obj.Amount,
		PrincipalPart: obj.PrincipalPart,
		InterestPart:  obj.InterestPart,
		Fee:           obj.Fee,

		Signature: obj.Signature,

		CreatedAt: obj.CreatedAt,
	}
}

// dbPutIfAbsent inserts the entry, relying on the unique signature constraint
// for atomic insert-or-noop. RETURNING yields no row on conflict, which is
// how a duplicate is detected.
func (m *model) dbPutIfAbsent(ctx context.Context, db *sqlx.DB) (bool, error) {
	query := `INSERT INTO ` + tableName + `
		(wallet, account_type, direction, amount, principal_part, interest_part, fee, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)

		ON CONFLICT(signature)
		DO NOTHING

		RETURNING id, wallet, account_type, direction, amount, principal_part, interest_part, fee, signature, created_at`

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	err := db.QueryRowxContext(
		ctx,
		query,
		m.Wallet,
		m.AccountType,
		m.Direction,
		m.Amount,
		m.PrincipalPart,
		m.InterestPart,
		m.Fee,
		m.Signature,
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

func dbGetBySignature(ctx context.Context, db *sqlx.DB, signature string) (*model, error) {
	var res model

	query := `SELECT id, wallet, account_type, direction, amount, principal_part, interest_part, fee, signature, created_at FROM ` + tableName + `
		WHERE signature = $1
	`

	err := db.GetContext(ctx, &res, query, signature)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, ledger.ErrLedgerEntryNotFound)
	}
	return &res, nil
}

func dbGetAggregates(ctx context.Context, db *sqlx.DB, wallet string, accountType account.AccountType) (*ledger.Aggregates, error) {
	type Row struct {
		PrincipalDeposited int64 `db:"principal_deposited"`
		PrincipalWithdrawn int64 `db:"principal_withdrawn"`
		InterestWithdrawn  int64 `db:"interest_withdrawn"`
		TotalDeposited     int64 `db:"total_deposited"`
		TotalWithdrawn     int64 `db:"total_withdrawn"`
		FeesPaid           int64 `db:"fees_paid"`
	}
	var row Row

	query := `SELECT
			COALESCE(SUM(principal_part) FILTER (WHERE direction = $3), 0) AS principal_deposited,
			COALESCE(SUM(principal_part) FILTER (WHERE direction = $4), 0) AS principal_withdrawn,
			COALESCE(SUM(interest_part) FILTER (WHERE direction = $4), 0) AS interest_withdrawn,
			COALESCE(SUM(amount) FILTER (WHERE direction = $3), 0) AS total_deposited,
			COALESCE(SUM(amount) FILTER (WHERE direction = $4), 0) AS total_withdrawn,
			COALESCE(SUM(fee), 0) AS fees_paid
		FROM ` + tableName + `
		WHERE wallet = $1 AND account_type = $2
	`

	err := pgutil.ExecuteInTx(ctx, db, sql.LevelRepeatableRead, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, query, wallet, string(accountType), int(ledger.DirectionDeposit), int(ledger.DirectionWithdraw))
	})
	if err != nil {
		return nil, err
	}

	return &ledger.Aggregates{
		PrincipalDeposited: uint64(row.PrincipalDeposited),
		PrincipalWithdrawn: uint64(row.PrincipalWithdrawn),
		InterestWithdrawn:  uint64(row.InterestWithdrawn),
		TotalDeposited:     uint64(row.TotalDeposited),
		TotalWithdrawn:     uint64(row.TotalWithdrawn),
		FeesPaid:           uint64(row.FeesPaid),
	}, nil
}
