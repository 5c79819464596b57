package pipeline

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/retry"
	"github.com/stashfi/savings-server/pkg/retry/backoff"
	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/solana"
)

// State is the position of a submitted transaction in the co-sign and
// broadcast flow. Transitions are strictly forward.
type State uint8

const (
	StateReceived State = iota
	StateValidated
	StateCoSigned
	StateSimulated
	StateBroadcast
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateCoSigned:
		return "co_signed"
	case StateSimulated:
		return "simulated"
	case StateBroadcast:
		return "broadcast"
	case StateConfirmed:
		return "confirmed"
	}
	return "unknown"
}

const (
	maxBroadcastAttempts = 3
	broadcastBackoff     = 250 * time.Millisecond
	maxBroadcastBackoff  = 2 * time.Second

	defaultConfirmationPollLimit    = 30
	defaultConfirmationPollInterval = 2 * time.Second
)

var errNotYetFinalized = errors.New("transaction not yet finalized")

// Outcome is the result of a successfully broadcast transaction. Once a
// transaction is broadcast it is never rolled back; TokenBalances is nil
// when no finalized metadata could be retrieved, in which case the caller
// reports the send as successful but unreconciled.
type Outcome struct {
	Signature     solana.Signature
	TokenBalances *solana.TransactionTokenBalances
}

func (o *Outcome) SignatureString() string {
	return base58.Encode(o.Signature[:])
}

// Pipeline validates a user-signed transaction against the co-signing
// security contract, counter-signs it, simulates, broadcasts with bounded
// retries, and fetches finalized metadata for reconciliation.
type Pipeline struct {
	log        *logrus.Entry
	data       data.Provider
	subsidizer *common.Subsidizer

	confirmationPollLimit    uint
	confirmationPollInterval time.Duration
}

func New(data data.Provider, subsidizer *common.Subsidizer) *Pipeline {
	return &Pipeline{
		log:        logrus.StandardLogger().WithField("type", "pipeline"),
		data:       data,
		subsidizer: subsidizer,

		confirmationPollLimit:    defaultConfirmationPollLimit,
		confirmationPollInterval: defaultConfirmationPollInterval,
	}
}

// Submit runs the full state machine over one transaction instance:
//
//	received -> validated -> co-signed -> simulated -> broadcast -> confirmed
//
// The user account identifies the wallet expected to have signed. Any error
// before broadcast leaves no on-chain footprint and the client must request
// a fresh build rather than resubmit the same transaction.
func (p *Pipeline) Submit(ctx context.Context, user *common.Account, txn *solana.Transaction) (*Outcome, error) {
	log := p.log.WithFields(logrus.Fields{
		"method": "Submit",
		"user":   user.PublicKey().ToBase58(),
	})

	if err := p.validate(user, txn); err != nil {
		log.WithError(err).WithField("state", StateReceived).Info("transaction rejected")
		return nil, err
	}

	if err := txn.Sign(p.subsidizer.Account().PrivateKey().ToBytes()); err != nil {
		log.WithError(err).WithField("state", StateValidated).Warn("failure co-signing transaction")
		return nil, savings.NewError(savings.ErrorSigningFailed, err)
	}

	if err := p.simulate(ctx, txn); err != nil {
		log.WithError(err).WithField("state", StateCoSigned).Info("simulation rejected transaction")
		return nil, err
	}

	sig, err := p.broadcast(ctx, txn)
	if err != nil {
		log.WithError(err).WithField("state", StateSimulated).Warn("failure broadcasting transaction")
		return nil, err
	}

	log = log.WithField("signature", base58.Encode(sig[:]))
	log.WithField("state", StateBroadcast).Info("transaction broadcast")

	// Past this point the operation is never rolled back. Missing metadata
	// downgrades reconciliation, not the send itself.
	outcome := &Outcome{
		Signature:     sig,
		TokenBalances: p.fetchConfirmedMetadata(ctx, log, sig),
	}
	return outcome, nil
}

// validate enforces the co-signing security contract before the custodial
// signer ever touches the transaction.
func (p *Pipeline) validate(user *common.Account, txn *solana.Transaction) error {
	subsidizerKey := p.subsidizer.PublicKey().ToBytes()

	if !bytes.Equal(txn.FeePayer(), subsidizerKey) {
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"fee payer is not the expected fee sponsor",
		)
	}

	if txn.Message.RecentBlockhash == (solana.Blockhash{}) {
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"transaction has a placeholder blockhash",
		)
	}

	// The required signer set must be exactly {sponsor, user}. An unexpected
	// extra required signer is a security violation, not something to accept
	// silently.
	signers := txn.RequiredSigners()
	if len(signers) != 2 {
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"unexpected required signer set",
		)
	}

	userKey := user.PublicKey().ToBytes()
	userIndex := -1
	for i, signer := range signers {
		if bytes.Equal(signer, userKey) {
			userIndex = i
		}
	}
	if userIndex <= 0 {
		// Index 0 is the fee payer, which is already pinned to the sponsor.
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"user is not a required signer",
		)
	}

	if userIndex >= len(txn.Signatures) {
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"transaction is missing a signature slot for the user",
		)
	}

	userSignature := txn.Signatures[userIndex]
	if userSignature == (solana.Signature{}) ||
		!ed25519.Verify(userKey, txn.Message.Marshal(), userSignature[:]) {
		return savings.NewErrorWithReason(
			savings.ErrorInvalidPayload,
			nil,
			"user signature does not verify",
		)
	}

	return nil
}

// simulate runs the fully-signed transaction without signature verification.
// A failed simulation is classified for messaging but never retried; the
// caller must request a fresh build.
func (p *Pipeline) simulate(ctx context.Context, txn *solana.Transaction) error {
	result, err := p.data.SimulateBlockchainTransaction(ctx, txn)
	if err != nil {
		return savings.NewError(savings.ErrorSimulationFailed, err)
	}

	if result.Err != nil {
		return classifySimulationFailure(result.Err, result.Logs)
	}

	return nil
}

func (p *Pipeline) broadcast(ctx context.Context, txn *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature

	_, err := retry.Retry(
		func() error {
			var err error
			sig, err = p.data.SubmitBlockchainTransaction(ctx, txn)
			return err
		},
		retry.Limit(maxBroadcastAttempts),
		retry.Backoff(backoff.BinaryExponential(broadcastBackoff), maxBroadcastBackoff),
	)
	if err != nil {
		return sig, classifyBroadcastFailure(err)
	}

	return sig, nil
}

// fetchConfirmedMetadata polls for finalization, then pulls the transaction's
// token balance metadata. A nil return means the send succeeded but there is
// nothing authoritative to reconcile against yet.
func (p *Pipeline) fetchConfirmedMetadata(ctx context.Context, log *logrus.Entry, sig solana.Signature) *solana.TransactionTokenBalances {
	_, err := retry.Retry(
		func() error {
			status, err := p.data.GetBlockchainSignatureStatus(ctx, sig, solana.CommitmentFinalized)
			if err != nil {
				return err
			}
			if status.ErrorResult != nil {
				return status.ErrorResult
			}
			if !status.Finalized() {
				return errNotYetFinalized
			}
			return nil
		},
		retry.Limit(p.confirmationPollLimit),
		retry.RetriableErrors(solana.ErrSignatureNotFound, errNotYetFinalized),
		retry.Backoff(backoff.Constant(p.confirmationPollInterval), p.confirmationPollInterval),
	)
	if err != nil {
		log.WithError(err).Warn("transaction metadata unavailable after broadcast")
		return nil
	}

	balances, err := p.data.GetBlockchainTransactionTokenBalances(ctx, base58.Encode(sig[:]))
	if err != nil {
		log.WithError(err).Warn("failure getting transaction token balances")
		return nil
	}

	return balances
}
