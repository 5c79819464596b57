package data

import (
	pg "github.com/stashfi/savings-server/pkg/database/postgres"
	"github.com/stashfi/savings-server/pkg/solana"
)

type Provider interface {
	BlockchainData
	DatabaseData
}

type provider struct {
	*BlockchainProvider
	*DatabaseProvider
}

func NewDataProvider(dbConfig *pg.Config, solanaEndpoint string) (Provider, error) {
	blockchain, err := NewBlockchainProvider(solanaEndpoint)
	if err != nil {
		return nil, err
	}

	db, err := NewDatabaseProvider(dbConfig)
	if err != nil {
		return nil, err
	}

	return &provider{
		BlockchainProvider: blockchain.(*BlockchainProvider),
		DatabaseProvider:   db.(*DatabaseProvider),
	}, nil
}

// NewTestDataProvider returns a provider backed by in memory stores and the
// given RPC client (typically a test fake).
func NewTestDataProvider(sc solana.Client) Provider {
	return &provider{
		BlockchainProvider: NewBlockchainProviderWithClient(sc).(*BlockchainProvider),
		DatabaseProvider:   NewTestDatabaseProvider().(*DatabaseProvider),
	}
}
