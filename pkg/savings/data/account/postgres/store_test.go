package postgres

import (
	"database/sql"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/account/tests"

	postgrestest "github.com/stashfi/savings-server/pkg/database/postgres/test"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	// Used for testing ONLY, the table and migrations are external to this repository
	tableCreate = `
		CREATE TABLE stashfi__savings_account(
			id SERIAL NOT NULL PRIMARY KEY,

			wallet TEXT NOT NULL,
			account_type TEXT NOT NULL,
			sub_account TEXT NOT NULL,

			principal_deposited BIGINT NOT NULL,
			principal_withdrawn BIGINT NOT NULL,
			interest_withdrawn BIGINT NOT NULL,
			total_deposited BIGINT NOT NULL,
			total_withdrawn BIGINT NOT NULL,
			fees_paid BIGINT NOT NULL,

			last_synced_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,

			CONSTRAINT stashfi__savings_account__uniq__wallet__and__account_type UNIQUE (wallet, account_type)
		);

		CREATE TABLE stashfi__savings_subaccounthint(
			id SERIAL NOT NULL PRIMARY KEY,

			wallet TEXT NOT NULL,
			account_type TEXT NOT NULL,
			sub_account TEXT NOT NULL,

			created_at TIMESTAMP WITH TIME ZONE NOT NULL,

			CONSTRAINT stashfi__savings_subaccounthint__uniq__wallet__and__account_type__and__sub_account UNIQUE (wallet, account_type, sub_account)
		);
	`

	// Used for testing ONLY, the table and migrations are external to this repository
	tableDestroy = `
		DROP TABLE stashfi__savings_account;
		DROP TABLE stashfi__savings_subaccounthint;
	`
)

var (
	testStore account.Store
	teardown  func()
)

func TestMain(m *testing.M) {
	log := logrus.StandardLogger()

	testPool, err := dockertest.NewPool("")
	if err != nil {
		log.WithError(err).Error("Error creating docker pool")
		os.Exit(1)
	}

	var cleanUpFunc func()
	db, cleanUpFunc, err := postgrestest.StartPostgresDB(testPool)
	if err != nil {
		log.WithError(err).Error("Error starting postgres image")
		os.Exit(1)
	}
	defer db.Close()

	if err := createTestTables(db); err != nil {
		logrus.StandardLogger().WithError(err).Error("Error creating test tables")
		cleanUpFunc()
		os.Exit(1)
	}

	testStore = New(db)
	teardown = func() {
		if pc := recover(); pc != nil {
			cleanUpFunc()
			panic(pc)
		}

		if err := resetTestTables(db); err != nil {
			logrus.StandardLogger().WithError(err).Error("Error resetting test tables")
			cleanUpFunc()
			os.Exit(1)
		}
	}

	code := m.Run()
	cleanUpFunc()
	os.Exit(code)
}

func TestAccountPostgresStore(t *testing.T) {
	tests.RunTests(t, testStore, teardown)
}

func createTestTables(db *sql.DB) error {
	_, err := db.Exec(tableCreate)
	if err != nil {
		logrus.StandardLogger().WithError(err).Error("could not create test tables")
		return err
	}
	return nil
}

func resetTestTables(db *sql.DB) error {
	_, err := db.Exec(tableDestroy)
	if err != nil {
		logrus.StandardLogger().WithError(err).Error("could not drop test tables")
		return err
	}

	return createTestTables(db)
}
