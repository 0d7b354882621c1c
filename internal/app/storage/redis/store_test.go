package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 9})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	return New(client)
}

func TestStoreIntegration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0).UTC()

	if _, ok, err := store.GetPrice(ctx, 1); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	batch := []price.Record{
		{Asset: 1, Value: 2000_00000000, Decimals: 8, Round: 7, UpdatedAt: ts},
		{Asset: 5, Value: 50000_00000000, Decimals: 8, Round: 7, UpdatedAt: ts},
	}
	if err := store.ApplyPrices(ctx, batch); err != nil {
		t.Fatalf("apply prices: %v", err)
	}

	rec, ok, err := store.GetPrice(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("get price: ok=%v err=%v", ok, err)
	}
	if rec.Value != 50000_00000000 || rec.Round != 7 || !rec.UpdatedAt.Equal(ts) {
		t.Fatalf("unexpected record %+v", rec)
	}

	recs, exists, err := store.GetPrices(ctx, []price.AssetIndex{5, 3, 1})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if !exists[0] || exists[1] || !exists[2] {
		t.Fatalf("exists = %v", exists)
	}
	if recs[0].Asset != 5 || recs[2].Asset != 1 {
		t.Fatalf("records out of request order: %+v", recs)
	}

	all, err := store.ListPrices(ctx)
	if err != nil {
		t.Fatalf("list prices: %v", err)
	}
	if len(all) != 2 || all[0].Asset != 1 || all[1].Asset != 5 {
		t.Fatalf("unexpected listing %+v", all)
	}
}
