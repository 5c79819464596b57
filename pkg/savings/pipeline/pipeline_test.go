package pipeline

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/testutil"
)

type testEnv struct {
	sc         *testutil.FakeSolanaClient
	pipeline   *Pipeline
	subsidizer *common.Subsidizer
	user       *common.Account
}

func setupPipelineTest(t *testing.T) *testEnv {
	sc := testutil.NewFakeSolanaClient()
	subsidizer := testutil.NewRandomSubsidizer(t)

	p := New(data.NewTestDataProvider(sc), subsidizer)
	p.confirmationPollLimit = 1
	p.confirmationPollInterval = 0

	return &testEnv{
		sc:         sc,
		pipeline:   p,
		subsidizer: subsidizer,
		user:       testutil.NewRandomAccount(t),
	}
}

// newUserSignedTransaction builds a transaction with the subsidizer as fee
// payer and the user as the second required signer, signed by the user only.
func (env *testEnv) newUserSignedTransaction(t *testing.T) solana.Transaction {
	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1, 2, 3},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
	)

	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)
	require.NoError(t, txn.Sign(env.user.PrivateKey().ToBytes()))

	return txn
}

// expectedSignature computes the signature the subsidizer will produce when
// co-signing, so finalized metadata can be staged ahead of Submit.
func (env *testEnv) expectedSignature(txn solana.Transaction) solana.Signature {
	var sig solana.Signature
	private := ed25519.PrivateKey(env.subsidizer.Account().PrivateKey().ToBytes())
	copy(sig[:], ed25519.Sign(private, txn.Message.Marshal()))
	return sig
}

func TestSubmit_HappyPath(t *testing.T) {
	env := setupPipelineTest(t)
	txn := env.newUserSignedTransaction(t)

	expected := env.expectedSignature(txn)
	env.sc.Statuses[expected] = &solana.SignatureStatus{}
	env.sc.Balances[base58.Encode(expected[:])] = &solana.TransactionTokenBalances{
		Accounts: []string{env.user.PublicKey().ToBase58()},
	}

	outcome, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	require.NoError(t, err)

	assert.Equal(t, expected, outcome.Signature)
	require.NotNil(t, outcome.TokenBalances)
	assert.Equal(t, []string{env.user.PublicKey().ToBase58()}, outcome.TokenBalances.Accounts)
	assert.Equal(t, 1, env.sc.SubmitCalls)
}

func TestSubmit_WrongFeePayer(t *testing.T) {
	env := setupPipelineTest(t)

	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
	)
	txn := solana.NewVersionedTransaction(testutil.NewRandomAccount(t).PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)
	require.NoError(t, txn.Sign(env.user.PrivateKey().ToBytes()))

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
	assert.Equal(t, 0, env.sc.SubmitCalls)
}

func TestSubmit_PlaceholderBlockhash(t *testing.T) {
	env := setupPipelineTest(t)

	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
	)
	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	require.NoError(t, txn.Sign(env.user.PrivateKey().ToBytes()))

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
}

func TestSubmit_MissingUserSignature(t *testing.T) {
	env := setupPipelineTest(t)

	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
	)
	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
	assert.Equal(t, 0, env.sc.SubmitCalls)
}

func TestSubmit_TruncatedSignatureList(t *testing.T) {
	env := setupPipelineTest(t)
	txn := env.newUserSignedTransaction(t)

	// A hand-crafted transaction can carry fewer signature entries than the
	// header requires. The user's signature slot must be range checked, not
	// assumed.
	txn.Signatures = txn.Signatures[:1]

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
	assert.Equal(t, 0, env.sc.SubmitCalls)
}

func TestSubmit_ForgedUserSignature(t *testing.T) {
	env := setupPipelineTest(t)

	other := testutil.NewRandomAccount(t)

	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
	)
	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)

	forged := ed25519.Sign(other.PrivateKey().ToBytes(), txn.Message.Marshal())
	require.NoError(t, txn.SetSignature(env.user.PublicKey().ToBytes(), forged))

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
}

func TestSubmit_UnexpectedExtraSigner(t *testing.T) {
	env := setupPipelineTest(t)

	extra := testutil.NewRandomAccount(t)

	ixn := solana.NewInstruction(
		testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		[]byte{1},
		solana.NewAccountMeta(env.user.PublicKey().ToBytes(), true),
		solana.NewAccountMeta(extra.PublicKey().ToBytes(), true),
	)
	txn := solana.NewVersionedTransaction(env.subsidizer.PublicKey().ToBytes(), nil, []solana.Instruction{ixn})
	txn.SetBlockhash(env.sc.Blockhash)
	require.NoError(t, txn.Sign(env.user.PrivateKey().ToBytes(), extra.PrivateKey().ToBytes()))

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorInvalidPayload))
	assert.Equal(t, 0, env.sc.SubmitCalls)
}

func TestSubmit_SimulationFailureNotBroadcast(t *testing.T) {
	env := setupPipelineTest(t)
	txn := env.newUserSignedTransaction(t)

	env.sc.SimulationResult = solana.SimulationResult{
		Err:  solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound),
		Logs: []string{"Program log: something"},
	}

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorBlockhashExpired))
	assert.Equal(t, 0, env.sc.SubmitCalls)
}

func TestSubmit_BroadcastRetriesThenClassifies(t *testing.T) {
	env := setupPipelineTest(t)
	txn := env.newUserSignedTransaction(t)

	env.sc.SubmitErr = errors.New("Blockhash not found")

	_, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	assert.True(t, savings.IsErrorKind(err, savings.ErrorBlockhashExpired))
	assert.Equal(t, maxBroadcastAttempts, env.sc.SubmitCalls)
}

func TestSubmit_SentButUnreconciled(t *testing.T) {
	env := setupPipelineTest(t)
	txn := env.newUserSignedTransaction(t)

	// No signature status staged, so no finalized metadata is retrievable.
	outcome, err := env.pipeline.Submit(context.Background(), env.user, &txn)
	require.NoError(t, err)
	assert.Nil(t, outcome.TokenBalances)
	assert.Equal(t, 1, env.sc.SubmitCalls)
}
