package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stashfi/savings-server/pkg/savings/data/fee"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*fee.Record
}

// New returns a new in memory fee.Store
func New() fee.Store {
	return &store{}
}

// PutIfAbsent implements fee.Store.PutIfAbsent
func (s *store) PutIfAbsent(_ context.Context, data *fee.Record) (bool, error) {
	if err := data.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.find(data.Signature, data.Kind); item != nil {
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

// Get implements fee.Store.Get
func (s *store) Get(_ context.Context, signature string, kind fee.Kind) (*fee.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(signature, kind)
	if item == nil {
		return nil, fee.ErrFeeEventNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

func (s *store) find(signature string, kind fee.Kind) *fee.Record {
	for _, item := range s.records {
		if item.Signature == signature && item.Kind == kind {
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
