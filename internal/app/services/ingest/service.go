// Package ingest validates submitted price batches and commits the accepted
// entries to the store. It is the only writer: every mutation of the price
// store in a running service goes through Submit.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/events"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Service validates and commits price batches.
type Service struct {
	store    storage.AssetPriceStore
	bus      *events.Bus
	log      *logger.Logger
	maxStale time.Duration

	now func() time.Time

	// mu serializes Submit so the read-validate-apply sequence is a single
	// writer even when the host serves concurrent submitters.
	mu sync.Mutex
}

// New constructs the ingestion service. maxStale bounds how old a batch
// timestamp may be; zero or negative disables the bound.
func New(store storage.AssetPriceStore, bus *events.Bus, maxStale time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	return &Service{
		store:    store,
		bus:      bus,
		log:      log,
		maxStale: maxStale,
		now:      time.Now,
	}
}

// Result summarizes the outcome of a committed batch.
type Result struct {
	// BatchTime is the shared observation timestamp of the batch.
	BatchTime time.Time `json:"batch_time"`
	// Committed counts entries written to the store.
	Committed int `json:"committed"`
	// Superseded counts entries dropped because the store already held a
	// fresher record for the asset.
	Superseded int `json:"superseded"`
	// Unchanged counts entries identical in time and round to the stored
	// record; resubmitting a batch is a no-op, not an error.
	Unchanged int `json:"unchanged"`
}

// Submit validates the batch as a whole, merges it against the stored state
// per asset, and commits the surviving entries atomically. Any validation
// failure rejects the entire batch with nothing stored.
//
// A batch must carry one uniform observation timestamp and strictly positive
// prices, and must not be older than the configured staleness bound. Per
// asset, an entry older than the stored record is silently dropped; an entry
// with a newer timestamp must also advance the round, otherwise the batch
// fails. A committed round is never rewritten.
func (s *Service) Submit(ctx context.Context, entries []price.Record) (Result, error) {
	if len(entries) == 0 {
		return Result{}, fmt.Errorf("empty batch")
	}

	batchTime := entries[0].UpdatedAt
	for _, e := range entries[1:] {
		if !e.UpdatedAt.Equal(batchTime) {
			return Result{}, &price.TimestampMismatchError{Asset: e.Asset, Want: batchTime, Got: e.UpdatedAt}
		}
	}
	for _, e := range entries {
		if e.Value == 0 {
			return Result{}, &price.ZeroPriceError{Asset: e.Asset}
		}
	}
	if s.maxStale > 0 {
		if age := s.now().Sub(batchTime); age > s.maxStale {
			return Result{}, &price.StaleBatchError{BatchTime: batchTime, Age: age, MaxStale: s.maxStale}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	assets := make([]price.AssetIndex, 0, len(entries))
	seen := make(map[price.AssetIndex]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Asset]; ok {
			continue
		}
		seen[e.Asset] = struct{}{}
		assets = append(assets, e.Asset)
	}

	stored, exists, err := s.store.GetPrices(ctx, assets)
	if err != nil {
		return Result{}, fmt.Errorf("read current prices: %w", err)
	}

	// pending is the stored view overlaid with entries accepted so far, so a
	// batch that names an asset twice is merged in input order.
	pending := make(map[price.AssetIndex]price.Record, len(assets))
	for i, a := range assets {
		if exists[i] {
			pending[a] = stored[i]
		}
	}

	result := Result{BatchTime: batchTime}
	commits := make([]price.Record, 0, len(entries))
	committed := make(map[price.AssetIndex]int, len(entries))

	accept := func(e price.Record) {
		pending[e.Asset] = e
		if idx, ok := committed[e.Asset]; ok {
			// A later entry in the same batch displaces the earlier one; the
			// asset still appears once in the applied set.
			commits[idx] = e
			result.Superseded++
			return
		}
		committed[e.Asset] = len(commits)
		commits = append(commits, e)
		result.Committed++
	}

	for _, e := range entries {
		current, ok := pending[e.Asset]
		if !ok {
			accept(e)
			continue
		}

		switch {
		case e.UpdatedAt.Before(current.UpdatedAt):
			result.Superseded++

		case e.UpdatedAt.After(current.UpdatedAt):
			if e.Round <= current.Round {
				return Result{}, &price.RoundConsistencyError{Asset: e.Asset, Round: e.Round, StoredRound: current.Round}
			}
			accept(e)

		default: // equal timestamps
			switch {
			case e.Round > current.Round:
				accept(e)
			case e.Round == current.Round:
				result.Unchanged++
			default:
				result.Superseded++
			}
		}
	}

	if len(commits) == 0 {
		s.log.WithField("batch_time", batchTime).
			WithField("unchanged", result.Unchanged).
			WithField("superseded", result.Superseded).
			Info("batch contained nothing newer than the store")
		return result, nil
	}

	if err := s.store.ApplyPrices(ctx, commits); err != nil {
		return Result{}, fmt.Errorf("apply batch: %w", err)
	}

	if s.bus != nil {
		for _, rec := range commits {
			s.bus.Publish(events.PriceUpdate{
				Asset:     rec.Asset,
				Value:     rec.Value,
				Decimals:  rec.Decimals,
				Round:     rec.Round,
				UpdatedAt: rec.UpdatedAt,
			})
		}
	}

	s.log.WithField("batch_time", batchTime).
		WithField("committed", result.Committed).
		WithField("superseded", result.Superseded).
		Info("batch committed")
	return result, nil
}
