// Package opsapi serves the operational plane on its own port: health,
// Prometheus metrics, process status, the audit trail, and a manual
// staleness sweep.
package opsapi

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/openfeeds/rate-layer/internal/app/audit"
	"github.com/openfeeds/rate-layer/internal/app/metrics"
	"github.com/openfeeds/rate-layer/internal/app/services/watchdog"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Options bundles what the ops plane exposes. Nil fields disable their
// routes.
type Options struct {
	Store    storage.AssetPriceStore
	Audit    *audit.Log
	Watchdog *watchdog.Service
	Backend  string
	Log      *logger.Logger
}

type handler struct {
	store     storage.AssetPriceStore
	audit     *audit.Log
	watchdog  *watchdog.Service
	backend   string
	log       *logger.Logger
	startedAt time.Time
}

// NewHandler returns the ops router.
func NewHandler(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("opsapi")
	}
	h := &handler{
		store:     opts.Store,
		audit:     opts.Audit,
		watchdog:  opts.Watchdog,
		backend:   opts.Backend,
		log:       log,
		startedAt: time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", h.status)
	if h.audit != nil {
		r.Get("/v1/audit", h.auditEntries)
	}
	if h.watchdog != nil {
		r.Post("/v1/sweep", h.sweep)
	}
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": h.backend,
	})
}

type statusResponse struct {
	Backend       string  `json:"backend"`
	StartedAt     string  `json:"started_at"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	TrackedAssets int     `json:"tracked_assets"`
	Goroutines    int     `json:"goroutines"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	HostMemUsed   float64 `json:"host_mem_used_percent,omitempty"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Backend:       h.backend,
		StartedAt:     h.startedAt.Format(time.RFC3339),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if h.store != nil {
		if records, err := h.store.ListPrices(r.Context()); err == nil {
			resp.TrackedAssets = len(records)
		} else {
			h.log.WithError(err).Warn("status: list prices failed")
		}
	}

	// Process and host stats are best effort; the endpoint stays useful on
	// platforms where gopsutil cannot read them.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			resp.RSSBytes = info.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = pct
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.HostMemUsed = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.ListLimit(limit))
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.watchdog.Sweep(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
