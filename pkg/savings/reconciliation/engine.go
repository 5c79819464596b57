package reconciliation

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/fee"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
	"github.com/stashfi/savings-server/pkg/solana"
	"github.com/stashfi/savings-server/pkg/usdc"
)

// Params describe one confirmed transaction to record. UserTokenAccount and
// TreasuryTokenAccount are the base58 settlement token accounts whose pre and
// post balances drive the accounting split.
type Params struct {
	Wallet      string
	AccountType account.AccountType
	Direction   ledger.Direction
	Signature   string

	UserTokenAccount     string
	TreasuryTokenAccount string

	// Balances is the confirmed transaction's token balance metadata. Nil
	// when the pipeline could not retrieve any, in which case nothing is
	// recorded and the result carries a diagnostic reason.
	Balances *solana.TransactionTokenBalances
}

// Result is the accounting outcome. Recorded is false when bookkeeping could
// not complete; the caller still reports the broadcast signature as a success
// and reconciliation is retried out of band.
type Result struct {
	Recorded bool
	Reason   string

	Amount        uint64
	Fee           uint64
	Net           uint64
	PrincipalPart uint64
	InterestPart  uint64
}

// Engine records confirmed transactions into the ledger and keeps the
// denormalized account summary in sync. All recording is idempotent per
// signature; a reconciliation may be retried any number of times without
// double counting.
type Engine struct {
	log  *logrus.Entry
	data data.Provider
}

func New(data data.Provider) *Engine {
	return &Engine{
		log:  logrus.StandardLogger().WithField("type", "reconciliation/engine"),
		data: data,
	}
}

// Reconcile computes the user and treasury balance deltas, splits the amount
// into principal, interest and fee components, and records a ledger entry
// keyed by the transaction signature.
//
// Errors are returned only for storage failures, which are safe to retry with
// the same signature. All other shortfalls (missing metadata, no observable
// balance change) report Recorded=false with a reason instead.
func (e *Engine) Reconcile(ctx context.Context, params *Params) (*Result, error) {
	log := e.log.WithFields(logrus.Fields{
		"method":    "Reconcile",
		"wallet":    params.Wallet,
		"signature": params.Signature,
	})

	if params.Balances == nil {
		return &Result{
			Recorded: false,
			Reason:   "no transaction metadata available",
		}, nil
	}

	userDelta, err := tokenBalanceDelta(params.Balances, params.UserTokenAccount)
	if err != nil {
		log.WithError(err).Warn("failure computing user balance delta")
		return &Result{Recorded: false, Reason: "unreadable user balance metadata"}, nil
	}
	treasuryDelta, err := tokenBalanceDelta(params.Balances, params.TreasuryTokenAccount)
	if err != nil {
		log.WithError(err).Warn("failure computing treasury balance delta")
		return &Result{Recorded: false, Reason: "unreadable treasury balance metadata"}, nil
	}

	result, entry, err := e.buildEntry(ctx, params, userDelta, treasuryDelta)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return result, nil
	}

	inserted, err := e.data.PutLedgerEntryIfAbsent(ctx, entry)
	if err != nil {
		log.WithError(err).Warn("failure recording ledger entry")
		return nil, savings.NewError(savings.ErrorReconciliationFailed, err)
	}

	// Only a fresh insert re-aggregates the summary. Duplicate recordings,
	// from client retries or concurrent reconciliations, must not recompute
	// from a base another writer already advanced.
	if inserted {
		if err := e.syncAccountSummary(ctx, params); err != nil {
			log.WithError(err).Warn("failure syncing account summary")
			return nil, savings.NewError(savings.ErrorReconciliationFailed, err)
		}
	} else {
		result.Reason = "already recorded"
	}

	// Fee recording has its own idempotency key and may be retried
	// independently of whether the ledger insert was new.
	if result.Fee > 0 {
		if err := e.recordFeeEvent(ctx, params, result.Fee); err != nil {
			log.WithError(err).Warn("failure recording fee event")
			return nil, savings.NewError(savings.ErrorReconciliationFailed, err)
		}
	}

	result.Recorded = true
	return result, nil
}

func (e *Engine) buildEntry(ctx context.Context, params *Params, userDelta, treasuryDelta int64) (*Result, *ledger.Record, error) {
	feeAmount := clampPositive(treasuryDelta)

	var result Result
	switch params.Direction {
	case ledger.DirectionDeposit:
		// The user's settlement account drains into the protocol; the fee is
		// skimmed off the outflow before it reaches the vault.
		gross := clampPositive(-userDelta)
		if gross <= feeAmount {
			return &Result{Recorded: false, Reason: "no balance change for user settlement account"}, nil, nil
		}
		result = Result{
			Amount:        gross - feeAmount,
			Fee:           feeAmount,
			Net:           gross - feeAmount,
			PrincipalPart: gross - feeAmount,
		}
	case ledger.DirectionWithdraw:
		// The vault releases gross, a fee is skimmed, the user receives net.
		net := clampPositive(userDelta)
		if net+feeAmount == 0 {
			return &Result{Recorded: false, Reason: "no balance change for user settlement account"}, nil, nil
		}

		aggregates, err := e.data.GetLedgerAggregates(ctx, params.Wallet, params.AccountType)
		if err != nil {
			return nil, nil, savings.NewError(savings.ErrorReconciliationFailed, err)
		}

		// Principal-first ordering: interest is only recorded as withdrawn
		// once no un-withdrawn principal remains.
		amount := net + feeAmount
		principalPart := amount
		if remaining := aggregates.PrincipalRemaining(); remaining < amount {
			principalPart = remaining
		}
		result = Result{
			Amount:        amount,
			Fee:           feeAmount,
			Net:           net,
			PrincipalPart: principalPart,
			InterestPart:  amount - principalPart,
		}
	default:
		return nil, nil, savings.NewErrorWithReason(savings.ErrorReconciliationFailed, nil, "unknown ledger direction")
	}

	entry := &ledger.Record{
		Wallet:      params.Wallet,
		AccountType: params.AccountType,
		Direction:   params.Direction,

		Amount:        result.Amount,
		PrincipalPart: result.PrincipalPart,
		InterestPart:  result.InterestPart,
		Fee:           result.Fee,

		Signature: params.Signature,
	}
	if err := entry.Validate(); err != nil {
		return nil, nil, savings.NewError(savings.ErrorReconciliationFailed, err)
	}

	return &result, entry, nil
}

// syncAccountSummary replays the ledger into the denormalized summary.
func (e *Engine) syncAccountSummary(ctx context.Context, params *Params) error {
	aggregates, err := e.data.GetLedgerAggregates(ctx, params.Wallet, params.AccountType)
	if err != nil {
		return err
	}

	summary, err := e.data.GetSavingsAccount(ctx, params.Wallet, params.AccountType)
	if err == account.ErrAccountNotFound {
		summary = &account.Record{
			Wallet:      params.Wallet,
			AccountType: params.AccountType,
		}
	} else if err != nil {
		return err
	}

	// The sub-account is set once, from the hint the build path recorded
	// when it resolved the position. Hints are most recent first.
	if summary.SubAccount == "" {
		hints, err := e.data.GetSubAccountHints(ctx, params.Wallet, params.AccountType)
		if err != nil {
			return err
		}
		if len(hints) > 0 {
			summary.SubAccount = hints[0]
		}
	}

	summary.PrincipalDeposited = aggregates.PrincipalDeposited
	summary.PrincipalWithdrawn = aggregates.PrincipalWithdrawn
	summary.InterestWithdrawn = aggregates.InterestWithdrawn
	summary.TotalDeposited = aggregates.TotalDeposited
	summary.TotalWithdrawn = aggregates.TotalWithdrawn
	summary.FeesPaid = aggregates.FeesPaid
	summary.LastSyncedAt = time.Now()

	return e.data.PutSavingsAccount(ctx, summary)
}

func (e *Engine) recordFeeEvent(ctx context.Context, params *Params, amount uint64) error {
	kind := fee.KindSwap
	if params.Direction == ledger.DirectionWithdraw {
		kind = fee.KindWithdraw
	}

	_, err := e.data.PutFeeEventIfAbsent(ctx, &fee.Record{
		Wallet:    params.Wallet,
		Signature: params.Signature,
		Kind:      kind,
		Lines: []fee.Line{
			{
				Asset:    usdc.Mint,
				Amount:   amount,
				Decimals: usdc.Decimals,
			},
		},
	})
	return err
}

// tokenBalanceDelta is post minus pre for the provided token account. A
// missing pre or post entry reads as zero; accounts untouched by the
// transaction produce a zero delta.
func tokenBalanceDelta(balances *solana.TransactionTokenBalances, tokenAccount string) (int64, error) {
	pre, err := balanceFor(balances, balances.PreTokenBalances, tokenAccount)
	if err != nil {
		return 0, err
	}
	post, err := balanceFor(balances, balances.PostTokenBalances, tokenAccount)
	if err != nil {
		return 0, err
	}
	return post - pre, nil
}

func balanceFor(balances *solana.TransactionTokenBalances, tokenBalances []solana.TokenBalance, tokenAccount string) (int64, error) {
	for _, tokenBalance := range tokenBalances {
		if int(tokenBalance.AccountIndex) >= len(balances.Accounts) {
			return 0, errors.Errorf("token balance account index %d out of range", tokenBalance.AccountIndex)
		}
		if balances.Accounts[tokenBalance.AccountIndex] != tokenAccount {
			continue
		}

		value, err := strconv.ParseInt(tokenBalance.TokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "invalid token balance amount")
		}
		return value, nil
	}
	return 0, nil
}

func clampPositive(value int64) uint64 {
	if value <= 0 {
		return 0
	}
	return uint64(value)
}
