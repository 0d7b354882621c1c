// Package redis implements the price store on a Redis key-value backend.
// Each asset's record is a JSON blob under one key, so a multi-asset read is
// a single MGET and a batch commit is a single MULTI/EXEC pipeline.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
)

const keyPrefix = "price:"

// Store implements the storage interfaces backed by Redis.
type Store struct {
	client *redis.Client
}

var _ storage.AssetPriceStore = (*Store)(nil)

// New creates a Store using the provided client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(asset price.AssetIndex) string {
	return keyPrefix + strconv.FormatUint(uint64(asset), 10)
}

func (s *Store) GetPrice(ctx context.Context, asset price.AssetIndex) (price.Record, bool, error) {
	raw, err := s.client.Get(ctx, key(asset)).Result()
	if errors.Is(err, redis.Nil) {
		return price.Record{}, false, nil
	}
	if err != nil {
		return price.Record{}, false, fmt.Errorf("get price %d: %w", asset, err)
	}

	var rec price.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return price.Record{}, false, fmt.Errorf("decode price %d: %w", asset, err)
	}
	return rec, true, nil
}

func (s *Store) GetPrices(ctx context.Context, assets []price.AssetIndex) ([]price.Record, []bool, error) {
	recs := make([]price.Record, len(assets))
	exists := make([]bool, len(assets))
	if len(assets) == 0 {
		return recs, exists, nil
	}

	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = key(a)
	}

	// MGET executes atomically, so every leg comes from one store snapshot.
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("get prices: %w", err)
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("decode price %d: unexpected type %T", assets[i], v)
		}
		if err := json.Unmarshal([]byte(raw), &recs[i]); err != nil {
			return nil, nil, fmt.Errorf("decode price %d: %w", assets[i], err)
		}
		exists[i] = true
	}
	return recs, exists, nil
}

func (s *Store) ListPrices(ctx context.Context) ([]price.Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan prices: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}

	recs := make([]price.Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Key expired between SCAN and MGET.
			continue
		}
		var rec price.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode price: %w", err)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Asset < recs[j].Asset })
	return recs, nil
}

func (s *Store) SetPrice(ctx context.Context, rec price.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode price %d: %w", rec.Asset, err)
	}
	if err := s.client.Set(ctx, key(rec.Asset), raw, 0).Err(); err != nil {
		return fmt.Errorf("set price %d: %w", rec.Asset, err)
	}
	return nil
}

func (s *Store) ApplyPrices(ctx context.Context, recs []price.Record) error {
	if len(recs) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode price %d: %w", rec.Asset, err)
		}
		pipe.Set(ctx, key(rec.Asset), raw, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply prices: %w", err)
	}
	return nil
}
