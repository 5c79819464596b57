package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
	"github.com/stashfi/savings-server/pkg/savings/data/ledger"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*ledger.Record
}

// New returns a new in memory ledger.Store
func New() ledger.Store {
	return &store{}
}

// PutIfAbsent implements ledger.Store.PutIfAbsent
func (s *store) PutIfAbsent(_ context.Context, data *ledger.Record) (bool, error) {
	if err := data.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.findBySignature(data.Signature); item != nil {
		return false, nil
	}

	s.last++

	data.Id = s.last
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}

	cloned := data.Clone()
	s.records = append(s.records, &cloned)

	return true, nil
}

// GetBySignature implements ledger.Store.GetBySignature
func (s *store) GetBySignature(_ context.Context, signature string) (*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findBySignature(signature)
	if item == nil {
		return nil, ledger.ErrLedgerEntryNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetAggregates implements ledger.Store.GetAggregates
func (s *store) GetAggregates(_ context.Context, wallet string, accountType account.AccountType) (*ledger.Aggregates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ledger.Aggregates
	for _, item := range s.records {
		if item.Wallet != wallet || item.AccountType != accountType {
			continue
		}

		switch item.Direction {
		case ledger.DirectionDeposit:
			res.PrincipalDeposited += item.PrincipalPart
			res.TotalDeposited += item.Amount
		case ledger.DirectionWithdraw:
			res.PrincipalWithdrawn += item.PrincipalPart
			res.InterestWithdrawn += item.InterestPart
			res.TotalWithdrawn += item.Amount
		}
		res.FeesPaid += item.Fee
	}
	return &res, nil
}

func (s *store) findBySignature(signature string) *ledger.Record {
	for _, item := range s.records {
		if item.Signature == signature {
			return item
		}
	}
	return nil
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.records = nil
}
