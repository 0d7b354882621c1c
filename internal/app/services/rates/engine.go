// Package rates derives cross rates between stored assets and dispatches
// pair queries. Rates are computed on demand; nothing derived is ever
// persisted.
package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/pkg/fixedpoint"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Engine computes derived pairs from stored records.
type Engine struct {
	store storage.AssetPriceStore
	log   *logger.Logger
}

// NewEngine constructs a derivation engine.
func NewEngine(store storage.AssetPriceStore, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("rates")
	}
	return &Engine{store: store, log: log}
}

// Derive computes one pair from a single consistent snapshot of both legs.
func (e *Engine) Derive(ctx context.Context, asset0, asset1 price.AssetIndex, dir price.Direction) (price.DerivedPair, error) {
	if asset0 == asset1 {
		return price.DerivedPair{}, &price.SelfPairError{Asset: asset0}
	}

	recs, exists, err := e.store.GetPrices(ctx, []price.AssetIndex{asset0, asset1})
	if err != nil {
		return price.DerivedPair{}, fmt.Errorf("read legs: %w", err)
	}
	if !exists[0] {
		return price.DerivedPair{}, &price.UnknownAssetError{Asset: asset0}
	}
	if !exists[1] {
		return price.DerivedPair{}, &price.UnknownAssetError{Asset: asset1}
	}
	return derivePair(recs[0], recs[1], dir)
}

// DerivePairs computes every requested pair against one snapshot, so results
// are mutually consistent even while batches commit concurrently. Slices must
// be parallel; callers validate lengths. The first failing pair aborts the
// whole call, wrapped with its position.
func (e *Engine) DerivePairs(ctx context.Context, idx0, idx1 []price.AssetIndex, dirs []price.Direction) ([]price.DerivedPair, error) {
	union := make([]price.AssetIndex, 0, len(idx0)+len(idx1))
	seen := make(map[price.AssetIndex]struct{}, len(idx0)+len(idx1))
	for _, slice := range [][]price.AssetIndex{idx0, idx1} {
		for _, a := range slice {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			union = append(union, a)
		}
	}

	recs, exists, err := e.store.GetPrices(ctx, union)
	if err != nil {
		return nil, fmt.Errorf("read legs: %w", err)
	}
	view := make(map[price.AssetIndex]price.Record, len(union))
	for i, a := range union {
		if exists[i] {
			view[a] = recs[i]
		}
	}

	pairs := make([]price.DerivedPair, len(idx0))
	for i := range idx0 {
		pair, err := deriveFromView(view, idx0[i], idx1[i], dirs[i])
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		pairs[i] = pair
	}
	return pairs, nil
}

func deriveFromView(view map[price.AssetIndex]price.Record, asset0, asset1 price.AssetIndex, dir price.Direction) (price.DerivedPair, error) {
	if asset0 == asset1 {
		return price.DerivedPair{}, &price.SelfPairError{Asset: asset0}
	}
	rec0, ok := view[asset0]
	if !ok {
		return price.DerivedPair{}, &price.UnknownAssetError{Asset: asset0}
	}
	rec1, ok := view[asset1]
	if !ok {
		return price.DerivedPair{}, &price.UnknownAssetError{Asset: asset1}
	}
	return derivePair(rec0, rec1, dir)
}

// derivePair maps the direction onto a numerator/denominator ordering. Each
// branch owns its ordering end to end, round difference included, so the sign
// always reflects the declared direction rather than a magnitude fixed up
// after the fact.
func derivePair(rec0, rec1 price.Record, dir price.Direction) (price.DerivedPair, error) {
	switch dir {
	case price.DirectionForward:
		return deriveQuotient(rec0, rec1)
	case price.DirectionBackward:
		return deriveQuotient(rec1, rec0)
	default:
		return price.DerivedPair{}, fmt.Errorf("%w: %q", price.ErrInvalidDirection, dir)
	}
}

// deriveQuotient prices num in units of den at the wider of the two leg
// exponents.
func deriveQuotient(num, den price.Record) (price.DerivedPair, error) {
	if den.Value == 0 {
		// Stored prices are validated positive; a zero here means the store
		// was corrupted out-of-band.
		return price.DerivedPair{}, &price.DivisionByZeroError{Asset: den.Asset}
	}

	target := num.Decimals
	if den.Decimals > target {
		target = den.Decimals
	}

	quotient, err := fixedpoint.DivToScale(num.Value, num.Decimals, den.Value, den.Decimals, target)
	if errors.Is(err, fixedpoint.ErrOverflow) {
		return price.DerivedPair{}, fmt.Errorf("%d/%d: %w", num.Asset, den.Asset, price.ErrPriceOverflow)
	}
	if err != nil {
		return price.DerivedPair{}, fmt.Errorf("derive %d/%d: %w", num.Asset, den.Asset, err)
	}

	updated := num.UpdatedAt
	if den.UpdatedAt.Before(updated) {
		updated = den.UpdatedAt
	}

	return price.DerivedPair{
		Price:           quotient,
		Decimals:        target,
		RoundDifference: fixedpoint.SignedDelta(num.Round, den.Round),
		UpdatedAt:       updated,
	}, nil
}
