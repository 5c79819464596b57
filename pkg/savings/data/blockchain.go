package data

import (
	"context"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/stashfi/savings-server/pkg/cache"
	"github.com/stashfi/savings-server/pkg/metrics"
	"github.com/stashfi/savings-server/pkg/solana"
	address_lookup_table "github.com/stashfi/savings-server/pkg/solana/addresslookuptable"
	"github.com/stashfi/savings-server/pkg/solana/token"
)

const (
	blockchainProviderMetricsName = "data.blockchain_provider"

	maxLookupTableCacheBudget = 1024
	lookupTableCacheWeight    = 1

	// Lookup table contents are effectively static within this window.
	// Composing against a slightly stale table only risks a composer-time
	// failure, never a financial-correctness issue.
	lookupTableCacheTTL = 5 * time.Minute
)

type BlockchainData interface {
	SubmitBlockchainTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SimulateBlockchainTransaction(ctx context.Context, tx *solana.Transaction) (*solana.SimulationResult, error)

	GetBlockchainAccountInfo(ctx context.Context, account string, commitment solana.Commitment) (*solana.AccountInfo, error)
	GetBlockchainLatestBlockhash(ctx context.Context) (solana.Blockhash, uint64, error)
	GetBlockchainSignatureStatus(ctx context.Context, signature solana.Signature, commitment solana.Commitment) (*solana.SignatureStatus, error)
	GetBlockchainTokenAccountInfo(ctx context.Context, account string, commitment solana.Commitment) (*token.Account, error)
	GetBlockchainTokenAccountBalance(ctx context.Context, account string) (uint64, error)
	GetBlockchainTransactionTokenBalances(ctx context.Context, signature string) (*solana.TransactionTokenBalances, error)

	// GetBlockchainAddressLookupTable resolves a lookup table's full contents,
	// served from a bounded-TTL cache.
	GetBlockchainAddressLookupTable(ctx context.Context, address string) (*address_lookup_table.AddressLookupTableAccount, error)
}

type BlockchainProvider struct {
	sc solana.Client

	lookupTableCache cache.Cache
}

func NewBlockchainProvider(solanaEndpoint string) (BlockchainData, error) {
	return &BlockchainProvider{
		sc:               solana.New(solanaEndpoint),
		lookupTableCache: cache.NewCache(maxLookupTableCacheBudget),
	}, nil
}

// NewBlockchainProviderWithClient wraps an externally constructed client.
// Used by tests to swap in a fake RPC client.
func NewBlockchainProviderWithClient(sc solana.Client) BlockchainData {
	return &BlockchainProvider{
		sc:               sc,
		lookupTableCache: cache.NewCache(maxLookupTableCacheBudget),
	}
}

func (dp *BlockchainProvider) SubmitBlockchainTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "SubmitBlockchainTransaction")
	defer tracer.End()

	res, err := dp.sc.SubmitTransaction(*tx, solana.CommitmentProcessed)
	if err != nil {
		tracer.OnError(err)
	}

	return res, err
}

func (dp *BlockchainProvider) SimulateBlockchainTransaction(ctx context.Context, tx *solana.Transaction) (*solana.SimulationResult, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "SimulateBlockchainTransaction")
	defer tracer.End()

	res, err := dp.sc.SimulateTransaction(*tx)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	return &res, nil
}

func (dp *BlockchainProvider) GetBlockchainAccountInfo(ctx context.Context, account string, commitment solana.Commitment) (*solana.AccountInfo, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainAccountInfo")
	defer tracer.End()

	accountId, err := base58.Decode(account)
	if err != nil {
		return nil, err
	}
	accountInfo, err := dp.sc.GetAccountInfo(accountId, commitment)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	return &accountInfo, nil
}

func (dp *BlockchainProvider) GetBlockchainLatestBlockhash(ctx context.Context) (solana.Blockhash, uint64, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainLatestBlockhash")
	defer tracer.End()

	res, lastValidBlockHeight, err := dp.sc.GetLatestBlockhash()
	if err != nil {
		tracer.OnError(err)
	}

	return res, lastValidBlockHeight, err
}

func (dp *BlockchainProvider) GetBlockchainSignatureStatus(ctx context.Context, signature solana.Signature, commitment solana.Commitment) (*solana.SignatureStatus, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainSignatureStatus")
	defer tracer.End()

	res, err := dp.sc.GetSignatureStatus(signature, commitment)
	if err != nil {
		tracer.OnError(err)
	}

	return res, err
}

func (dp *BlockchainProvider) GetBlockchainTokenAccountInfo(ctx context.Context, account string, commitment solana.Commitment) (*token.Account, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainTokenAccountInfo")
	defer tracer.End()

	accountInfo, err := dp.GetBlockchainAccountInfo(ctx, account, commitment)
	if err != nil {
		return nil, err
	}

	var tokenAccount token.Account
	if !tokenAccount.Unmarshal(accountInfo.Data) {
		return nil, errors.New("invalid token account data")
	}

	return &tokenAccount, nil
}

func (dp *BlockchainProvider) GetBlockchainTokenAccountBalance(ctx context.Context, account string) (uint64, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainTokenAccountBalance")
	defer tracer.End()

	accountId, err := base58.Decode(account)
	if err != nil {
		return 0, err
	}

	balance, _, err := dp.sc.GetTokenAccountBalance(accountId)
	if err != nil {
		tracer.OnError(err)
	}

	return balance, err
}

func (dp *BlockchainProvider) GetBlockchainTransactionTokenBalances(ctx context.Context, signature string) (*solana.TransactionTokenBalances, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainTransactionTokenBalances")
	defer tracer.End()

	decoded, err := base58.Decode(signature)
	if err != nil {
		return nil, err
	}
	var sig solana.Signature
	copy(sig[:], decoded)

	res, err := dp.sc.GetTransactionTokenBalances(sig)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	return &res, nil
}

func (dp *BlockchainProvider) GetBlockchainAddressLookupTable(ctx context.Context, address string) (*address_lookup_table.AddressLookupTableAccount, error) {
	tracer := metrics.TraceMethodCall(ctx, blockchainProviderMetricsName, "GetBlockchainAddressLookupTable")
	defer tracer.End()

	if cached, ok := dp.lookupTableCache.Retrieve(address); ok {
		return cached.(*address_lookup_table.AddressLookupTableAccount), nil
	}

	accountInfo, err := dp.GetBlockchainAccountInfo(ctx, address, solana.CommitmentFinalized)
	if err != nil {
		return nil, err
	}

	var lookupTable address_lookup_table.AddressLookupTableAccount
	if err := lookupTable.Unmarshal(accountInfo.Data); err != nil {
		tracer.OnError(err)
		return nil, err
	}

	dp.lookupTableCache.InsertWithTTL(address, &lookupTable, lookupTableCacheWeight, lookupTableCacheTTL)

	return &lookupTable, nil
}
