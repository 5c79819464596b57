package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/stashfi/savings-server/pkg/database/postgres"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
)

const (
	tableName     = "stashfi__savings_account"
	hintTableName = "stashfi__savings_subaccounthint"
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	Wallet      string `db:"wallet"`
	AccountType string `db:"account_type"`
	SubAccount  string `db:"sub_account"`

	PrincipalDeposited uint64 `db:"principal_deposited"`
	PrincipalWithdrawn uint64 `db:"principal_withdrawn"`
	InterestWithdrawn  uint64 `db:"interest_withdrawn"`
	TotalDeposited     uint64 `db:"total_deposited"`
	TotalWithdrawn     uint64 `db:"total_withdrawn"`
	FeesPaid           uint64 `db:"fees_paid"`

	LastSyncedAt time.Time `db:"last_synced_at"`
	CreatedAt    time.Time `db:"created_at"`
}

type hintModel struct {
	Id sql.NullInt64 `db:"id"`

	Wallet      string `db:"wallet"`
	AccountType string `db:"account_type"`
	SubAccount  string `db:"sub_account"`

	CreatedAt time.Time `db:"created_at"`
}

func toModel(obj *account.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	return &model{
		Wallet:      obj.Wallet,
		AccountType: string(obj.AccountType),
		SubAccount:  obj.SubAccount,

		PrincipalDeposited: obj.PrincipalDeposited,
		PrincipalWithdrawn: obj.PrincipalWithdrawn,
		InterestWithdrawn:  obj.InterestWithdrawn,
		TotalDeposited:     obj.TotalDeposited,
		TotalWithdrawn:     obj.TotalWithdrawn,
		FeesPaid:           obj.FeesPaid,

		LastSyncedAt: obj.LastSyncedAt,
		CreatedAt:    obj.CreatedAt,
	}, nil
}

func fromModel(obj *model) *account.Record {
	return &account.Record{
		Id: uint64(obj.Id.Int64),

		Wallet:      obj.Wallet,
		AccountType: account.AccountType(obj.AccountType),
		SubAccount:  obj.SubAccount,

		PrincipalDeposited: obj.PrincipalDeposited,
		PrincipalWithdrawn: obj.PrincipalWithdrawn,
		InterestWithdrawn:  obj.InterestWithdrawn,
		TotalDeposited:     obj.TotalDeposited,
		TotalWithdrawn:     obj.TotalWithdrawn,
		FeesPaid:           obj.FeesPaid,

		LastSyncedAt: obj.LastSyncedAt,
		CreatedAt:    obj.CreatedAt,
	}
}

func (m *model) dbPut(ctx context.Context, db *sqlx.DB) error {
	query := `INSERT INTO ` + tableName + `
		(wallet, account_type, sub_account, principal_deposited, principal_withdrawn, interest_withdrawn, total_deposited, total_withdrawn, fees_paid, last_synced_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)

		ON CONFLICT(wallet, account_type)
		DO UPDATE
			SET sub_account = $3,
				principal_deposited = $4,
				principal_withdrawn = $5,
				interest_withdrawn = $6,
				total_deposited = $7,
				total_withdrawn = $8,
				fees_paid = $9,
				last_synced_at = $10
			WHERE ` + tableName + `.wallet = $1 AND ` + tableName + `.account_type = $2

		RETURNING id, wallet, account_type, sub_account, principal_deposited, principal_withdrawn, interest_withdrawn, total_deposited, total_withdrawn, fees_paid, last_synced_at, created_at`

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	return db.QueryRowxContext(
		ctx,
		query,
		m.Wallet,
		m.AccountType,
		m.SubAccount,
		m.PrincipalDeposited,
		m.PrincipalWithdrawn,
		m.InterestWithdrawn,
		m.TotalDeposited,
		m.TotalWithdrawn,
		m.FeesPaid,
		m.LastSyncedAt,
		m.CreatedAt,
	).StructScan(m)
}

func dbGet(ctx context.Context, db *sqlx.DB, wallet string, accountType account.AccountType) (*model, error) {
	var res model

	query := `SELECT id, wallet, account_type, sub_account, principal_deposited, principal_withdrawn, interest_withdrawn, total_deposited, total_withdrawn, fees_paid, last_synced_at, created_at FROM ` + tableName + `
		WHERE wallet = $1 AND account_type = $2
	`

	err := db.GetContext(ctx, &res, query, wallet, string(accountType))
	if err != nil {
		return nil, pgutil.CheckNoRows(err, account.ErrAccountNotFound)
	}
	return &res, nil
}

func dbAddHint(ctx context.Context, db *sqlx.DB, wallet string, accountType account.AccountType, subAccount string) error {
	query := `INSERT INTO ` + hintTableName + `
		(wallet, account_type, sub_account, created_at)
		VALUES ($1, $2, $3, $4)

		ON CONFLICT(wallet, account_type, sub_account)
		DO NOTHING`

	_, err := db.ExecContext(ctx, query, wallet, string(accountType), subAccount, time.Now())
	return err
}

func dbGetHints(ctx context.Context, db *sqlx.DB, wallet string, accountType account.AccountType) ([]string, error) {
	res := []string{}

	query := `SELECT sub_account FROM ` + hintTableName + `
		WHERE wallet = $1 AND account_type = $2
		ORDER BY id DESC
	`

	err := db.SelectContext(ctx, &res, query, wallet, string(accountType))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func dbRemoveHint(ctx context.Context, db *sqlx.DB, wallet string, accountType account.AccountType, subAccount string) error {
	query := `DELETE FROM ` + hintTableName + `
		WHERE wallet = $1 AND account_type = $2 AND sub_account = $3
	`

	_, err := db.ExecContext(ctx, query, wallet, string(accountType), subAccount)
	return err
}
