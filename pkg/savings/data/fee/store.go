package fee

import (
	"context"
	"errors"
	"time"
)

var (
	ErrFeeEventNotFound = errors.New("fee event not found")
)

// Kind categorizes why a fee was skimmed.
type Kind string

const (
	KindWithdraw Kind = "withdraw"
	KindSwap     Kind = "swap"
)

// Line is one (asset, amount) component of a fee event.
type Line struct {
	Asset    string `json:"asset"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// Record is one fee event. Recording is idempotent per (signature, kind),
// independently of ledger entry recording.
type Record struct {
	Id uint64

	Wallet    string
	Signature string
	Kind      Kind

	Lines []Line

	CreatedAt time.Time
}

type Store interface {
	// PutIfAbsent inserts the event if none exists for (signature, kind).
	// Returns whether a new row was actually inserted.
	PutIfAbsent(ctx context.Context, record *Record) (bool, error)

	// Get gets the event recorded for (signature, kind)
	Get(ctx context.Context, signature string, kind Kind) (*Record, error)
}

func (r *Record) Validate() error {
	if len(r.Wallet) == 0 {
		return errors.New("wallet is required")
	}

	if len(r.Signature) == 0 {
		return errors.New("signature is required")
	}

	if len(r.Kind) == 0 {
		return errors.New("kind is required")
	}

	if len(r.Lines) == 0 {
		return errors.New("at least one fee line is required")
	}

	for _, line := range r.Lines {
		if len(line.Asset) == 0 {
			return errors.New("fee line asset is required")
		}
		if line.Amount == 0 {
			return errors.New("fee line amount is required")
		}
	}

	return nil
}

func (r *Record) Clone() Record {
	lines := make([]Line, len(r.Lines))
	copy(lines, r.Lines)

	return Record{
		Id: r.Id,

		Wallet:    r.Wallet,
		Signature: r.Signature,
		Kind:      r.Kind,

		Lines: lines,

		CreatedAt: r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.Wallet = r.Wallet
	dst.Signature = r.Signature
	dst.Kind = r.Kind

	dst.Lines = make([]Line, len(r.Lines))
	copy(dst.Lines, r.Lines)

	dst.CreatedAt = r.CreatedAt
}
