package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	prices map[price.AssetIndex]price.Record
}

var _ storage.AssetPriceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{prices: make(map[price.AssetIndex]price.Record)}
}

func (s *Store) GetPrice(_ context.Context, asset price.AssetIndex) (price.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.prices[asset]
	if !ok {
		return price.Record{}, false, nil
	}
	return rec, true, nil
}

func (s *Store) GetPrices(_ context.Context, assets []price.AssetIndex) ([]price.Record, []bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]price.Record, len(assets))
	exists := make([]bool, len(assets))
	for i, asset := range assets {
		rec, ok := s.prices[asset]
		if !ok {
			continue
		}
		recs[i] = rec
		exists[i] = true
	}
	return recs, exists, nil
}

func (s *Store) ListPrices(_ context.Context) ([]price.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]price.Record, 0, len(s.prices))
	for _, rec := range s.prices {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Asset < recs[j].Asset })
	return recs, nil
}

func (s *Store) SetPrice(_ context.Context, rec price.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[rec.Asset] = rec
	return nil
}

func (s *Store) ApplyPrices(_ context.Context, recs []price.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		s.prices[rec.Asset] = rec
	}
	return nil
}
