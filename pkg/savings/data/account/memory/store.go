package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stashfi/savings-server/pkg/savings/data/account"
)

type hint struct {
	id          uint64
	wallet      string
	accountType account.AccountType
	subAccount  string
}

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*account.Record
	hints   []*hint
}

// New returns a new in memory account.Store
func New() account.Store {
	return &store{}
}

// Put implements account.Store.Put
func (s *store) Put(_ context.Context, data *account.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++

	if item := s.find(data.Wallet, data.AccountType); item != nil {
		item.SubAccount = data.SubAccount
		item.PrincipalDeposited = data.PrincipalDeposited
		item.PrincipalWithdrawn = data.PrincipalWithdrawn
		item.InterestWithdrawn = data.InterestWithdrawn
		item.TotalDeposited = data.TotalDeposited
		item.TotalWithdrawn = data.TotalWithdrawn
		item.FeesPaid = data.FeesPaid
		item.LastSyncedAt = data.LastSyncedAt

		item.CopyTo(data)

		return nil
	}

	data.Id = s.last
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}

	cloned := data.Clone()
	s.records = append(s.records, &cloned)

	return nil
}

// Get implements account.Store.Get
func (s *store) Get(_ context.Context, wallet string, accountType account.AccountType) (*account.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(wallet, accountType)
	if item == nil {
		return nil, account.ErrAccountNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// AddSubAccountHint implements account.Store.AddSubAccountHint
func (s *store) AddSubAccountHint(_ context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.hints {
		if item.wallet == wallet && item.accountType == accountType && item.subAccount == subAccount {
			return nil
		}
	}

	s.last++
	s.hints = append(s.hints, &hint{
		id:          s.last,
		wallet:      wallet,
		accountType: accountType,
		subAccount:  subAccount,
	})

	return nil
}

// GetSubAccountHints implements account.Store.GetSubAccountHints
func (s *store) GetSubAccountHints(_ context.Context, wallet string, accountType account.AccountType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []string
	for i := len(s.hints) - 1; i >= 0; i-- {
		item := s.hints[i]
		if item.wallet == wallet && item.accountType == accountType {
			res = append(res, item.subAccount)
		}
	}
	return res, nil
}

// RemoveSubAccountHint implements account.Store.RemoveSubAccountHint
func (s *store) RemoveSubAccountHint(_ context.Context, wallet string, accountType account.AccountType, subAccount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.hints {
		if item.wallet == wallet && item.accountType == accountType && item.subAccount == subAccount {
			s.hints = append(s.hints[:i], s.hints[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *store) find(wallet string, accountType account.AccountType) *account.Record {
	for _, item := range s.records {
		if item.Wallet == wallet && item.AccountType == accountType {
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
	s.hints = nil
}
