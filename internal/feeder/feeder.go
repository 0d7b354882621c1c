// Package feeder polls upstream JSON price endpoints and submits the readings
// to the oracle as one batch per sweep. Every entry in a batch shares one
// observation timestamp, and each asset's round is the oracle's current round
// plus one.
package feeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/openfeeds/rate-layer/internal/app/system"
	"github.com/openfeeds/rate-layer/internal/config"
	"github.com/openfeeds/rate-layer/pkg/fixedpoint"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

var _ system.Service = (*Client)(nil)

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 1 << 20

// Reading is one extracted upstream price, scaled to its mantissa.
type Reading struct {
	Asset    uint32
	Value    uint64
	Decimals uint8
}

// Result mirrors the oracle's batch outcome counts.
type Result struct {
	BatchTime  time.Time `json:"batch_time"`
	Committed  int       `json:"committed"`
	Superseded int       `json:"superseded"`
	Unchanged  int       `json:"unchanged"`
}

// Client polls the configured sources on a cron schedule and submits batches
// to the oracle.
type Client struct {
	cfg  *config.FeederConfig
	base string
	http *http.Client
	log  *logger.Logger

	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New builds a feeder client from validated configuration.
func New(cfg *config.FeederConfig, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewDefault("feeder")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.OracleURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
		now:  time.Now,
	}, nil
}

func (c *Client) Name() string { return "price-feeder" }

// Start begins polling on the configured schedule.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cr := cron.New()
	if _, err := cr.AddFunc(c.cfg.Schedule, func() {
		pollCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.Poll(pollCtx); err != nil {
			c.log.WithError(err).Warn("poll failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", c.cfg.Schedule, err)
	}
	cr.Start()

	c.cron = cr
	c.running = true
	c.log.WithField("schedule", c.cfg.Schedule).
		WithField("sources", len(c.cfg.Sources)).
		Info("price feeder started")
	return nil
}

// Stop halts the poll schedule and waits for an in-flight poll to finish.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cr := c.cron
	c.cron = nil
	c.running = false
	c.mu.Unlock()

	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.log.Info("price feeder stopped")
	return nil
}

// Poll fetches every source once and submits the successful readings as a
// single batch. Sources that fail to fetch or parse are skipped with a
// warning; the poll errors only when nothing could be read or the oracle
// rejects the batch.
func (c *Client) Poll(ctx context.Context) (Result, error) {
	readings := c.collect(ctx)
	if len(readings) == 0 {
		return Result{}, fmt.Errorf("no source produced a reading")
	}

	rounds, err := c.currentRounds(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read current rounds: %w", err)
	}

	res, err := c.submit(ctx, readings, rounds)
	if err != nil {
		return Result{}, err
	}

	c.log.WithField("committed", res.Committed).
		WithField("superseded", res.Superseded).
		WithField("unchanged", res.Unchanged).
		Info("batch submitted")
	return res, nil
}

func (c *Client) collect(ctx context.Context) []Reading {
	readings := make([]Reading, 0, len(c.cfg.Sources))
	for _, src := range c.cfg.Sources {
		reading, err := c.fetch(ctx, src)
		if err != nil {
			c.log.WithError(err).WithField("asset", src.Asset).Warn("upstream fetch failed")
			continue
		}
		readings = append(readings, reading)
	}
	return readings
}

func (c *Client) fetch(ctx context.Context, src config.FeederSource) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("build request for %s: %w", src.URL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("fetch %s: status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", src.URL, err)
	}

	result := gjson.GetBytes(body, src.Path)
	if !result.Exists() {
		return Reading{}, fmt.Errorf("path %q matched nothing in response from %s", src.Path, src.URL)
	}

	// Raw preserves the number token exactly; going through float64 would
	// round long mantissas.
	var raw string
	switch result.Type {
	case gjson.String:
		raw = result.Str
	case gjson.Number:
		raw = result.Raw
	default:
		return Reading{}, fmt.Errorf("path %q yields %s, want number or string", src.Path, result.Type)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Reading{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if d.Sign() <= 0 {
		return Reading{}, fmt.Errorf("non-positive price %s", d)
	}

	value, err := fixedpoint.FromDecimal(d, src.Decimals)
	if err != nil {
		return Reading{}, fmt.Errorf("scale price %s to %d decimals: %w", d, src.Decimals, err)
	}
	if value == 0 {
		return Reading{}, fmt.Errorf("price %s truncates to zero at %d decimals", d, src.Decimals)
	}

	return Reading{Asset: src.Asset, Value: value, Decimals: src.Decimals}, nil
}

func (c *Client) currentRounds(ctx context.Context) (map[uint32]uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/prices", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var records []struct {
		Asset uint32 `json:"asset"`
		Round uint64 `json:"round"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode price list: %w", err)
	}

	rounds := make(map[uint32]uint64, len(records))
	for _, rec := range records {
		rounds[rec.Asset] = rec.Round
	}
	return rounds, nil
}

type batchEntry struct {
	Asset     uint32    `json:"asset"`
	Value     uint64    `json:"value"`
	Decimals  uint8     `json:"decimals"`
	Round     uint64    `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) submit(ctx context.Context, readings []Reading, rounds map[uint32]uint64) (Result, error) {
	observed := c.now().UTC()
	entries := make([]batchEntry, len(readings))
	for i, r := range readings {
		entries[i] = batchEntry{
			Asset:     r.Asset,
			Value:     r.Value,
			Decimals:  r.Decimals,
			Round:     rounds[r.Asset] + 1,
			Timestamp: observed,
		}
	}

	payload, err := json.Marshal(map[string]any{"prices": entries})
	if err != nil {
		return Result{}, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/prices", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBody)).Decode(&envelope)
		if envelope.Error == "" {
			envelope.Error = http.StatusText(resp.StatusCode)
		}
		return Result{}, fmt.Errorf("oracle rejected batch (status %d): %s", resp.StatusCode, envelope.Error)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode batch result: %w", err)
	}
	return res, nil
}
