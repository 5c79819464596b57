package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
)

var (
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
)

type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionDeposit
	DirectionWithdraw
)

// Record is one immutable accounting entry. The network transaction signature
// is the idempotency key; at most one entry per signature ever exists.
type Record struct {
	Id uint64

	Wallet      string
	AccountType account.AccountType
	Direction   Direction

	Amount        uint64
	PrincipalPart uint64
	InterestPart  uint64
	Fee           uint64

	Signature string

	CreatedAt time.Time
}

// Aggregates are the sums over all entries for a (wallet, account type) pair.
type Aggregates struct {
	PrincipalDeposited uint64
	PrincipalWithdrawn uint64
	InterestWithdrawn  uint64
	TotalDeposited     uint64
	TotalWithdrawn     uint64
	FeesPaid           uint64
}

// PrincipalRemaining is deposited minus withdrawn principal, floored at zero.
// Raw arithmetic can dip below zero on out-of-order replays; it must never be
// reported as negative.
func (a *Aggregates) PrincipalRemaining() uint64 {
	if a.PrincipalWithdrawn >= a.PrincipalDeposited {
		return 0
	}
	return a.PrincipalDeposited - a.PrincipalWithdrawn
}

type Store interface {
	// PutIfAbsent inserts the entry if no entry for its signature exists.
	// Returns whether a new row was actually inserted. The insert-or-noop is
	// atomic at the storage layer, so concurrent recordings of the same
	// signature can never both report an insert.
	PutIfAbsent(ctx context.Context, record *Record) (bool, error)

	// GetBySignature gets the entry recorded for a network signature
	GetBySignature(ctx context.Context, signature string) (*Record, error)

	// GetAggregates sums all entries for a (wallet, account type) pair
	GetAggregates(ctx context.Context, wallet string, accountType account.AccountType) (*Aggregates, error)
}

func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "deposit"
	case DirectionWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

func (r *Record) Validate() error {
	if len(r.Wallet) == 0 {
		return errors.New("wallet is required")
	}

	if len(r.AccountType) == 0 {
		return errors.New("account type is required")
	}

	if r.Direction != DirectionDeposit && r.Direction != DirectionWithdraw {
		return errors.New("direction is required")
	}

	if len(r.Signature) == 0 {
		return errors.New("signature is required")
	}

	if r.Amount == 0 {
		return errors.New("amount is required")
	}

	if r.Amount != r.PrincipalPart+r.InterestPart {
		return errors.New("amount must equal principal part plus interest part")
	}

	if r.Direction == DirectionDeposit && r.InterestPart != 0 {
		return errors.New("deposits cannot have an interest part")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		Wallet:      r.Wallet,
		AccountType: r.AccountType,
		Direction:   r.Direction,

		Amount:        r.Amount,
		PrincipalPart: r.PrincipalPart,
		InterestPart:  r.InterestPart,
		Fee:           r.Fee,

		Signature: r.Signature,

		CreatedAt: r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.Wallet = r.Wallet
	dst.AccountType = r.AccountType
	dst.Direction = r.Direction

	dst.Amount = r.Amount
	dst.PrincipalPart = r.PrincipalPart
	dst.InterestPart = r.InterestPart
	dst.Fee = r.Fee

	dst.Signature = r.Signature

	dst.CreatedAt = r.CreatedAt
}
