// Package watchdog periodically sweeps the stored prices and flags assets
// whose records have gone stale. It never mutates anything; it exists so a
// quiet submitter is noticed before consumers are.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/internal/app/system"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// Summary is the outcome of one sweep.
type Summary struct {
	Checked   int                `json:"checked"`
	Stale     []price.AssetIndex `json:"stale,omitempty"`
	OldestAge time.Duration      `json:"oldest_age"`
	SweptAt   time.Time          `json:"swept_at"`
}

// Service runs the staleness sweep on a cron schedule ("@every 1m" style).
type Service struct {
	store    storage.AssetPriceStore
	log      *logger.Logger
	maxStale time.Duration
	schedule string
	observer func(Summary)

	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a watchdog sweeping on the given schedule. maxStale bounds the
// acceptable record age; zero or negative flags nothing.
func New(store storage.AssetPriceStore, maxStale time.Duration, schedule string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("watchdog")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Service{
		store:    store,
		log:      log,
		maxStale: maxStale,
		schedule: schedule,
		now:      time.Now,
	}
}

// WithObserver assigns a callback invoked with every sweep summary.
func (s *Service) WithObserver(fn func(Summary)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *Service) Name() string { return "price-watchdog" }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Sweep(sweepCtx); err != nil {
			s.log.WithError(err).Warn("staleness sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("price watchdog started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("price watchdog stopped")
	return nil
}

// Sweep inspects every stored record once and reports the stale set. It is
// exported so the ops surface can trigger an immediate check.
func (s *Service) Sweep(ctx context.Context) (Summary, error) {
	recs, err := s.store.ListPrices(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list prices: %w", err)
	}

	now := s.now()
	summary := Summary{Checked: len(recs), SweptAt: now}
	for _, rec := range recs {
		age := now.Sub(rec.UpdatedAt)
		if age < 0 {
			age = 0
		}
		if age > summary.OldestAge {
			summary.OldestAge = age
		}
		if s.maxStale > 0 && age > s.maxStale {
			summary.Stale = append(summary.Stale, rec.Asset)
			s.log.WithField("asset", rec.Asset).
				WithField("age", age.String()).
				WithField("round", rec.Round).
				Warn("stored price is stale")
		}
	}

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer(summary)
	}
	return summary, nil
}
