package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("savings account not found")
)

// AccountType identifies a savings product tier.
type AccountType string

const (
	AccountTypeFlex AccountType = "flex"
	AccountTypePlus AccountType = "plus"
)

// Record is the denormalized per (wallet, account type) summary. Aggregates
// are a cache derived by replaying ledger entries; the ledger is the source
// of truth.
type Record struct {
	Id uint64

	Wallet      string
	AccountType AccountType

	// SubAccount is the protocol sub-account backing the position. Empty
	// until the first deposit initializes one.
	SubAccount string

	PrincipalDeposited uint64
	PrincipalWithdrawn uint64
	InterestWithdrawn  uint64
	TotalDeposited     uint64
	TotalWithdrawn     uint64
	FeesPaid           uint64

	LastSyncedAt time.Time
	CreatedAt    time.Time
}

type Store interface {
	// Put creates or overwrites the summary record for (wallet, account type)
	Put(ctx context.Context, record *Record) error

	// Get gets the summary record for (wallet, account type)
	Get(ctx context.Context, wallet string, accountType AccountType) (*Record, error)

	// AddSubAccountHint records a protocol sub-account observed for the user.
	// Adding the same hint twice is a no-op.
	AddSubAccountHint(ctx context.Context, wallet string, accountType AccountType, subAccount string) error

	// GetSubAccountHints gets all recorded sub-account hints for the user,
	// most recently added first
	GetSubAccountHints(ctx context.Context, wallet string, accountType AccountType) ([]string, error)

	// RemoveSubAccountHint removes a stale sub-account hint
	RemoveSubAccountHint(ctx context.Context, wallet string, accountType AccountType, subAccount string) error
}

func (r *Record) Validate() error {
	if len(r.Wallet) == 0 {
		return errors.New("wallet is required")
	}

	if len(r.AccountType) == 0 {
		return errors.New("account type is required")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		Wallet:      r.Wallet,
		AccountType: r.AccountType,
		SubAccount:  r.SubAccount,

		PrincipalDeposited: r.PrincipalDeposited,
		PrincipalWithdrawn: r.PrincipalWithdrawn,
		InterestWithdrawn:  r.InterestWithdrawn,
		TotalDeposited:     r.TotalDeposited,
		TotalWithdrawn:     r.TotalWithdrawn,
		FeesPaid:           r.FeesPaid,

		LastSyncedAt: r.LastSyncedAt,
		CreatedAt:    r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.Wallet = r.Wallet
	dst.AccountType = r.AccountType
	dst.SubAccount = r.SubAccount

	dst.PrincipalDeposited = r.PrincipalDeposited
	dst.PrincipalWithdrawn = r.PrincipalWithdrawn
	dst.InterestWithdrawn = r.InterestWithdrawn
	dst.TotalDeposited = r.TotalDeposited
	dst.TotalWithdrawn = r.TotalWithdrawn
	dst.FeesPaid = r.FeesPaid

	dst.LastSyncedAt = r.LastSyncedAt
	dst.CreatedAt = r.CreatedAt
}
