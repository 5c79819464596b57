package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/jupiter"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/testutil"
	"github.com/stashfi/savings-server/pkg/usdc"
)

type testEnv struct {
	sc         *testutil.FakeSolanaClient
	provider   data.Provider
	subsidizer *common.Subsidizer
	wallet     *common.Account
	server     *Server
	router     *mux.Router
}

func setupServerTest(t *testing.T, conf Config) *testEnv {
	sc := testutil.NewFakeSolanaClient()
	provider := data.NewTestDataProvider(sc)
	subsidizer := testutil.NewRandomSubsidizer(t)

	lender := flexlend.NewClient(newFakeLendingAPI(t).URL + "/")
	swapper := jupiter.NewClient(newFakeSwapAPI(t).URL + "/")

	server := New(provider, subsidizer, lender, swapper, conf)
	router := mux.NewRouter()
	server.RegisterRoutes(router)

	return &testEnv{
		sc:         sc,
		provider:   provider,
		subsidizer: subsidizer,
		wallet:     testutil.NewRandomAccount(t),
		server:     server,
		router:     router,
	}
}

// newFakeLendingAPI serves the lending protocol's instruction-encoding
// endpoints. Instructions echo back the owner and sub-account from the
// request, with the sub-account as a signer on initialization.
func newFakeLendingAPI(t *testing.T) *httptest.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "pool-rates") {
			fmt.Fprintf(w, `{"mint": "%s", "depositApyPc": 4.25, "totalSupply": "123456789000000"}`, usdc.Mint)
			return
		}

		var req struct {
			Owner      string `json:"owner"`
			SubAccount string `json:"subAccount"`
			Mint       string `json:"mint"`
			Amount     uint64 `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		subAccountIsSigner := strings.HasSuffix(r.URL.Path, "init-account-instructions")

		fmt.Fprintf(
			w,
			`{"instructions": [{"programId": "%s", "data": "%s", "accounts": [{"pubkey": "%s", "isSigner": true, "isWritable": true}, {"pubkey": "%s", "isSigner": %v, "isWritable": true}]}]}`,
			base58.Encode(flexlend.ProgramKey),
			base64.StdEncoding.EncodeToString([]byte{1}),
			req.Owner,
			req.SubAccount,
			subAccountIsSigner,
		)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newFakeSwapAPI serves quote and swap-instructions for the swap-funded
// deposit path.
func newFakeSwapAPI(t *testing.T) *httptest.Server {
	swapProgram := base58.Encode(testutil.GenerateSolanaKeys(t, 1)[0])

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "quote") {
			fmt.Fprint(w, `{"otherAmountThreshold": "49750000"}`)
			return
		}

		var req struct {
			UserPublicKey           string `json:"userPublicKey"`
			DestinationTokenAccount string `json:"destinationTokenAccount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fmt.Fprintf(
			w,
			`{"swapInstruction": {"programId": "%s", "data": "%s", "accounts": [{"pubkey": "%s", "isSigner": true, "isWritable": true}, {"pubkey": "%s", "isWritable": true}]}}`,
			swapProgram,
			base64.StdEncoding.EncodeToString([]byte{9}),
			req.UserPublicKey,
			req.DestinationTokenAccount,
		)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		marshalled, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(marshalled)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(walletHeader, env.wallet.PublicKey().ToBase58())
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target))
}

func errorKind(t *testing.T, recorder *httptest.ResponseRecorder) string {
	var resp errorResponse
	decodeBody(t, recorder, &resp)
	return string(resp.Error.Kind)
}

func (env *testEnv) userTokenAccountAddress(t *testing.T) string {
	mint, err := common.NewAccountFromPublicKeyBytes(usdc.TokenMint)
	require.NoError(t, err)
	ata, err := env.wallet.ToAssociatedTokenAccount(mint)
	require.NoError(t, err)
	return ata.PublicKey().ToBase58()
}

func TestServer_Authentication(t *testing.T) {
	env := setupServerTest(t, Config{})

	t.Run("missing wallet header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/savings/rates", nil)
		recorder := httptest.NewRecorder()
		env.router.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Equal(t, "unauthorized", errorKind(t, recorder))
	})

	t.Run("invalid wallet header", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/rates", nil, map[string]string{
			walletHeader: "notavalidkey",
		})

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("health is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		recorder := httptest.NewRecorder()
		env.router.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}

func TestServer_OriginPolicy(t *testing.T) {
	env := setupServerTest(t, Config{
		AllowedOrigins: []string{"https://app.stashfi.com"},
	})

	t.Run("blocked origin", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/rates", nil, map[string]string{
			"Origin": "https://evil.example",
		})

		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.Equal(t, "origin_blocked", errorKind(t, recorder))
	})

	t.Run("allowed origin", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/rates", nil, map[string]string{
			"Origin": "https://app.stashfi.com",
		})

		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("no origin header", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/rates", nil, nil)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}

func TestServer_GetRates(t *testing.T) {
	env := setupServerTest(t, Config{})

	recorder := env.do(t, http.MethodGet, "/v1/savings/rates", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var rates flexlend.PoolRates
	decodeBody(t, recorder, &rates)
	assert.Equal(t, usdc.Mint, rates.Mint)
	assert.Equal(t, 4.25, rates.DepositApyPc)
}

func TestServer_GetSummary(t *testing.T) {
	env := setupServerTest(t, Config{})
	ctx := context.Background()

	t.Run("no recorded activity", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/flex/summary", nil, nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp summaryResponse
		decodeBody(t, recorder, &resp)
		assert.Equal(t, env.wallet.PublicKey().ToBase58(), resp.Wallet)
		assert.Equal(t, "0.00", resp.PrincipalRemaining)
		assert.Nil(t, resp.LastSyncedAt)
	})

	t.Run("existing position", func(t *testing.T) {
		require.NoError(t, env.provider.PutSavingsAccount(ctx, &account.Record{
			Wallet:      env.wallet.PublicKey().ToBase58(),
			AccountType: account.AccountTypeFlex,

			PrincipalDeposited: 100_000000,
			PrincipalWithdrawn: 30_000000,
			TotalDeposited:     100_000000,
			TotalWithdrawn:     30_500000,
			FeesPaid:           500000,
		}))

		recorder := env.do(t, http.MethodGet, "/v1/savings/flex/summary", nil, nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp summaryResponse
		decodeBody(t, recorder, &resp)
		assert.Equal(t, "100.00", resp.PrincipalDeposited)
		assert.Equal(t, "70.00", resp.PrincipalRemaining)
		assert.Equal(t, "30.50", resp.TotalWithdrawn)
		assert.Equal(t, "0.50", resp.FeesPaid)
	})

	t.Run("unknown account type", func(t *testing.T) {
		recorder := env.do(t, http.MethodGet, "/v1/savings/gold/summary", nil, nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestServer_BuildDeposit_FreshSubAccount(t *testing.T) {
	env := setupServerTest(t, Config{})

	env.sc.TokenBalances[env.userTokenAccountAddress(t)] = 50_000000

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/deposit/build", buildRequest{
		Amount: "50.00",
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var resp buildResponse
	decodeBody(t, recorder, &resp)

	assert.Equal(t, env.subsidizer.PublicKey().ToBase58(), resp.FeeSponsor)
	assert.Equal(t, env.userTokenAccountAddress(t), resp.UserTokenAccount)
	assert.False(t, resp.ReusedSubAccount)
	assert.Equal(t, env.sc.LastValidBlockHeight, resp.ExpiryHeight)
	require.NotNil(t, resp.Rates)
	assert.Equal(t, 4.25, resp.Rates.DepositApyPc)

	raw, err := base64.StdEncoding.DecodeString(resp.Transaction)
	require.NoError(t, err)
	var txn solana.Transaction
	require.NoError(t, txn.Unmarshal(raw))
	assert.EqualValues(t, env.subsidizer.PublicKey().ToBytes(), txn.FeePayer())

	// The fresh sub-account is recorded as a hint for future resolution
	hints, err := env.provider.GetSubAccountHints(context.Background(), env.wallet.PublicKey().ToBase58(), account.AccountTypeFlex)
	require.NoError(t, err)
	assert.Contains(t, hints, resp.SubAccount)
}

func TestServer_BuildDeposit_InsufficientBalance(t *testing.T) {
	env := setupServerTest(t, Config{})

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/deposit/build", buildRequest{
		Amount: "50.00",
	}, nil)

	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "insufficient_balance", errorKind(t, recorder))
}

func TestServer_BuildDeposit_InvalidAmount(t *testing.T) {
	env := setupServerTest(t, Config{})

	for _, amount := range []string{"", "abc", "0", "-5", "1.2345678"} {
		recorder := env.do(t, http.MethodPost, "/v1/savings/flex/deposit/build", buildRequest{
			Amount: amount,
		}, nil)

		assert.Equal(t, http.StatusBadRequest, recorder.Code, amount)
		assert.Equal(t, "invalid_amount", errorKind(t, recorder))
	}
}

func TestServer_BuildDeposit_SwapFunded(t *testing.T) {
	env := setupServerTest(t, Config{})

	sourceMint := base58.Encode(testutil.GenerateSolanaKeys(t, 1)[0])

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/deposit/build", buildRequest{
		SwapFromMint:   sourceMint,
		SwapFromAmount: 1_000_000_000,
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var resp buildResponse
	decodeBody(t, recorder, &resp)

	raw, err := base64.StdEncoding.DecodeString(resp.Transaction)
	require.NoError(t, err)
	var txn solana.Transaction
	require.NoError(t, txn.Unmarshal(raw))

	// Swap leg plus deposit, on top of the composer's compute budget pair
	assert.True(t, len(txn.Message.Instructions) >= 4)
}

func TestServer_BuildDeposit_SwapAmountRequired(t *testing.T) {
	env := setupServerTest(t, Config{})

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/deposit/build", buildRequest{
		SwapFromMint: base58.Encode(testutil.GenerateSolanaKeys(t, 1)[0]),
	}, nil)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid_amount", errorKind(t, recorder))
}

func TestServer_BuildWithdraw_NoPosition(t *testing.T) {
	env := setupServerTest(t, Config{})

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/withdraw/build", buildRequest{
		Amount: "10.00",
	}, nil)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "no_protocol_position", errorKind(t, recorder))
}

func TestServer_BuildWithdraw_ExistingPosition(t *testing.T) {
	env := setupServerTest(t, Config{})
	ctx := context.Background()

	wallet := env.wallet.PublicKey().ToBase58()
	subAccount := testutil.NewRandomAccount(t)

	// An initialized on-chain sub-account, known via a stored hint
	env.sc.SetAccount(subAccount.PublicKey().ToBytes(), solana.AccountInfo{
		Owner: flexlend.ProgramKey,
		Data:  make([]byte, flexlend.MinAccountDataSize),
	})
	require.NoError(t, env.provider.AddSubAccountHint(ctx, wallet, account.AccountTypeFlex, subAccount.PublicKey().ToBase58()))

	inserted, err := env.provider.PutLedgerEntryIfAbsent(ctx, &ledger.Record{
		Wallet:      wallet,
		AccountType: account.AccountTypeFlex,
		Direction:   ledger.DirectionDeposit,

		Amount:        50_000000,
		PrincipalPart: 50_000000,

		Signature: "depositsig",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/withdraw/build", buildRequest{
		Amount: "10.00",
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var resp buildResponse
	decodeBody(t, recorder, &resp)
	assert.True(t, resp.ReusedSubAccount)
	assert.Equal(t, subAccount.PublicKey().ToBase58(), resp.SubAccount)
}

// newUserSignedTransaction builds a transaction with the subsidizer as fee
// payer and the test wallet as the second required signer, signed by the
// wallet only.
func (env *testEnv) newUserSignedTransaction(t *testing.T) solana.Transaction {
	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1, 2, 3},
		solana.NewAccountMeta(env.wallet.PublicKey().ToBytes(), true),
	)

	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)
	require.NoError(t, txn.Sign(env.wallet.PrivateKey().ToBytes()))

	return txn
}

func (env *testEnv) expectedSignature(txn solana.Transaction) solana.Signature {
	var sig solana.Signature
	private := ed25519.PrivateKey(env.subsidizer.Account().PrivateKey().ToBytes())
	copy(sig[:], ed25519.Sign(private, txn.Message.Marshal()))
	return sig
}

func TestServer_Send_HappyPath(t *testing.T) {
	env := setupServerTest(t, Config{})
	txn := env.newUserSignedTransaction(t)

	expected := env.expectedSignature(txn)
	env.sc.Statuses[expected] = &solana.SignatureStatus{}
	env.sc.Balances[base58.Encode(expected[:])] = &solana.TransactionTokenBalances{
		Accounts: []string{env.userTokenAccountAddress(t)},
		PreTokenBalances: []solana.TokenBalance{{
			AccountIndex: 0,
			Mint:         usdc.Mint,
			TokenAmount:  solana.TokenAmount{Amount: "50000000", Decimals: usdc.Decimals},
		}},
		PostTokenBalances: []solana.TokenBalance{{
			AccountIndex: 0,
			Mint:         usdc.Mint,
			TokenAmount:  solana.TokenAmount{Amount: "0", Decimals: usdc.Decimals},
		}},
	}

	recorder := env.do(t, http.MethodPost, "/v1/savings/flex/send", sendRequest{
		Transaction: base64.StdEncoding.EncodeToString(txn.Marshal()),
		Action:      "deposit",
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var resp sendResponse
	decodeBody(t, recorder, &resp)

	assert.Equal(t, base58.Encode(expected[:]), resp.Signature)
	assert.True(t, resp.Recorded)
	require.NotNil(t, resp.Accounting)
	assert.Equal(t, "50.00", resp.Accounting.Gross)
	assert.Equal(t, "0.00", resp.Accounting.Fee)
	assert.Equal(t, "50.00", resp.Accounting.Principal)

	entry, err := env.provider.GetLedgerEntryBySignature(context.Background(), resp.Signature)
	require.NoError(t, err)
	assert.EqualValues(t, 50_000000, entry.Amount)
	assert.Equal(t, ledger.DirectionDeposit, entry.Direction)
}

func TestServer_Send_InvalidPayload(t *testing.T) {
	env := setupServerTest(t, Config{})

	t.Run("not base64", func(t *testing.T) {
		recorder := env.do(t, http.MethodPost, "/v1/savings/flex/send", sendRequest{
			Transaction: "!!!",
			Action:      "deposit",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, "invalid_payload", errorKind(t, recorder))
	})

	t.Run("not a transaction", func(t *testing.T) {
		recorder := env.do(t, http.MethodPost, "/v1/savings/flex/send", sendRequest{
			Transaction: base64.StdEncoding.EncodeToString([]byte("garbage")),
			Action:      "deposit",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		txn := env.newUserSignedTransaction(t)
		recorder := env.do(t, http.MethodPost, "/v1/savings/flex/send", sendRequest{
			Transaction: base64.StdEncoding.EncodeToString(txn.Marshal()),
			Action:      "transfer",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("missing user signature", func(t *testing.T) {
		ixn := solana.NewInstruction(
			testutil.NewRandomAccount(t).PublicKey().ToBytes(),
			[]byte{1},
			solana.NewAccountMeta(env.wallet.PublicKey().ToBytes(), true),
		)
		txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
		txn.SetBlockhash(env.sc.Blockhash)

		recorder := env.do(t, http.MethodPost, "/v1/savings/flex/send", sendRequest{
			Transaction: base64.StdEncoding.EncodeToString(txn.Marshal()),
			Action:      "deposit",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, 0, env.sc.SubmitCalls)
	})
}
