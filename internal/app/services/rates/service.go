package rates

import (
	"context"
	"fmt"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Service is the query surface over stored prices and derived pairs. It
// validates request shape and hands the arithmetic to the engine.
type Service struct {
	store  storage.AssetPriceStore
	engine *Engine
	log    *logger.Logger
}

// NewService constructs the query service.
func NewService(store storage.AssetPriceStore, engine *Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rates-query")
	}
	return &Service{store: store, engine: engine, log: log}
}

// GetPrice returns the stored record for one asset.
func (s *Service) GetPrice(ctx context.Context, asset price.AssetIndex) (price.Record, error) {
	rec, ok, err := s.store.GetPrice(ctx, asset)
	if err != nil {
		return price.Record{}, fmt.Errorf("get price: %w", err)
	}
	if !ok {
		return price.Record{}, &price.UnknownAssetError{Asset: asset}
	}
	return rec, nil
}

// ListPrices returns every stored record ordered by asset index.
func (s *Service) ListPrices(ctx context.Context) ([]price.Record, error) {
	return s.store.ListPrices(ctx)
}

// GetPair derives a single pair in the given direction.
func (s *Service) GetPair(ctx context.Context, asset0, asset1 price.AssetIndex, dir price.Direction) (price.DerivedPair, error) {
	return s.engine.Derive(ctx, asset0, asset1, dir)
}

// GetPairsForward derives idx0[i]/idx1[i] for every position.
func (s *Service) GetPairsForward(ctx context.Context, idx0, idx1 []price.AssetIndex) ([]price.DerivedPair, error) {
	return s.uniformPairs(ctx, idx0, idx1, price.DirectionForward)
}

// GetPairsBackward derives idx1[i]/idx0[i] for every position.
func (s *Service) GetPairsBackward(ctx context.Context, idx0, idx1 []price.AssetIndex) ([]price.DerivedPair, error) {
	return s.uniformPairs(ctx, idx0, idx1, price.DirectionBackward)
}

// GetPairs derives each pair in its own declared direction. All three slices
// must have equal length.
func (s *Service) GetPairs(ctx context.Context, idx0, idx1 []price.AssetIndex, dirs []price.Direction) ([]price.DerivedPair, error) {
	if len(idx0) != len(idx1) || len(idx0) != len(dirs) {
		return nil, &price.LengthMismatchError{Len0: len(idx0), Len1: len(idx1), Directions: len(dirs)}
	}
	return s.engine.DerivePairs(ctx, idx0, idx1, dirs)
}

func (s *Service) uniformPairs(ctx context.Context, idx0, idx1 []price.AssetIndex, dir price.Direction) ([]price.DerivedPair, error) {
	if len(idx0) != len(idx1) {
		return nil, &price.LengthMismatchError{Len0: len(idx0), Len1: len(idx1), Directions: -1}
	}
	dirs := make([]price.Direction, len(idx0))
	for i := range dirs {
		dirs[i] = dir
	}
	return s.engine.DerivePairs(ctx, idx0, idx1, dirs)
}
