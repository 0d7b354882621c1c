package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
//
// Mantissas and rounds are stored as NUMERIC(20,0) because the full uint64
// range does not fit a signed BIGINT; database/sql converts the textual
// numeric back into uint64 on scan.
type Store struct {
	db *sqlx.DB
}

var _ storage.AssetPriceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `asset, value, decimals, round, updated_at`

func (s *Store) GetPrice(ctx context.Context, asset price.AssetIndex) (price.Record, bool, error) {
	var rec price.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT `+selectColumns+`
		FROM asset_prices
		WHERE asset = $1
	`, int64(asset))
	if errors.Is(err, sql.ErrNoRows) {
		return price.Record{}, false, nil
	}
	if err != nil {
		return price.Record{}, false, fmt.Errorf("get price %d: %w", asset, err)
	}
	return rec, true, nil
}

func (s *Store) GetPrices(ctx context.Context, assets []price.AssetIndex) ([]price.Record, []bool, error) {
	recs := make([]price.Record, len(assets))
	exists := make([]bool, len(assets))
	if len(assets) == 0 {
		return recs, exists, nil
	}

	ids := make([]int64, len(assets))
	for i, a := range assets {
		ids[i] = int64(a)
	}

	var rows []price.Record
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+selectColumns+`
		FROM asset_prices
		WHERE asset = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("get prices: %w", err)
	}

	byAsset := make(map[price.AssetIndex]price.Record, len(rows))
	for _, rec := range rows {
		byAsset[rec.Asset] = rec
	}
	for i, a := range assets {
		if rec, ok := byAsset[a]; ok {
			recs[i] = rec
			exists[i] = true
		}
	}
	return recs, exists, nil
}

func (s *Store) ListPrices(ctx context.Context) ([]price.Record, error) {
	var recs []price.Record
	err := s.db.SelectContext(ctx, &recs, `
		SELECT `+selectColumns+`
		FROM asset_prices
		ORDER BY asset
	`)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return recs, nil
}

const upsertPrice = `
	INSERT INTO asset_prices (asset, value, decimals, round, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (asset) DO UPDATE
	SET value = EXCLUDED.value,
	    decimals = EXCLUDED.decimals,
	    round = EXCLUDED.round,
	    updated_at = EXCLUDED.updated_at
`

// upsertArgs renders a record's bind parameters. The uint64 fields travel as
// decimal strings because driver values cannot carry the high uint64 range.
func upsertArgs(rec price.Record) []interface{} {
	return []interface{}{
		int64(rec.Asset),
		strconv.FormatUint(rec.Value, 10),
		rec.Decimals,
		strconv.FormatUint(rec.Round, 10),
		rec.UpdatedAt,
	}
}

func (s *Store) SetPrice(ctx context.Context, rec price.Record) error {
	_, err := s.db.ExecContext(ctx, upsertPrice, upsertArgs(rec)...)
	if err != nil {
		return fmt.Errorf("set price %d: %w", rec.Asset, err)
	}
	return nil
}

func (s *Store) ApplyPrices(ctx context.Context, recs []price.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, upsertPrice, upsertArgs(rec)...); err != nil {
			return fmt.Errorf("apply price %d: %w", rec.Asset, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}
