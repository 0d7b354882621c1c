package storage

import (
	"context"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
)

// AssetPriceStore persists the latest accepted record per asset index.
//
// The store itself is deliberately dumb: SetPrice and ApplyPrices overwrite
// unconditionally, and the forward-only ordering rules are enforced by the
// ingestion service before anything reaches the store. Absence of a record is
// reported through the boolean, never through a zero-valued Record.
type AssetPriceStore interface {
	// GetPrice returns the record for one asset and whether it exists.
	GetPrice(ctx context.Context, asset price.AssetIndex) (price.Record, bool, error)

	// GetPrices resolves all requested assets against a single consistent
	// snapshot of the store, so a caller never observes half of a concurrent
	// batch commit. Both returned slices are parallel to assets.
	GetPrices(ctx context.Context, assets []price.AssetIndex) ([]price.Record, []bool, error)

	// ListPrices returns every stored record ordered by asset index.
	ListPrices(ctx context.Context) ([]price.Record, error)

	// SetPrice stores a single record, replacing any previous one.
	SetPrice(ctx context.Context, rec price.Record) error

	// ApplyPrices stores all records or none of them.
	ApplyPrices(ctx context.Context, recs []price.Record) error
}
