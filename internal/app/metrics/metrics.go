package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rate_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rate_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rate_layer",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of submitted batches by outcome.",
		},
		[]string{"outcome"},
	)

	ingestEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rate_layer",
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Total number of batch entries by disposition.",
		},
		[]string{"disposition"},
	)

	deriveRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rate_layer",
			Subsystem: "derive",
			Name:      "requests_total",
			Help:      "Total number of pair derivations by outcome.",
		},
		[]string{"outcome"},
	)

	deriveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rate_layer",
			Subsystem: "derive",
			Name:      "duration_seconds",
			Help:      "Duration of pair derivation requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
		},
	)

	priceAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_layer",
			Subsystem: "prices",
			Name:      "oldest_age_seconds",
			Help:      "Age of the oldest stored price record at the last sweep.",
		},
	)

	priceStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_layer",
			Subsystem: "prices",
			Name:      "stale_assets",
			Help:      "Number of assets flagged stale at the last sweep.",
		},
	)

	priceUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rate_layer",
			Subsystem: "prices",
			Name:      "updates_total",
			Help:      "Total number of committed price updates published.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ingestBatches,
		ingestEntries,
		deriveRequests,
		deriveDuration,
		priceAge,
		priceStale,
		priceUpdates,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordBatch records the outcome of a submitted batch. outcome is "accepted"
// (including pure no-op batches) or "rejected".
func RecordBatch(outcome string, committed, superseded, unchanged int) {
	ingestBatches.WithLabelValues(outcome).Inc()
	if committed > 0 {
		ingestEntries.WithLabelValues("committed").Add(float64(committed))
	}
	if superseded > 0 {
		ingestEntries.WithLabelValues("superseded").Add(float64(superseded))
	}
	if unchanged > 0 {
		ingestEntries.WithLabelValues("unchanged").Add(float64(unchanged))
	}
}

// RecordDerive records one derivation request.
func RecordDerive(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	deriveRequests.WithLabelValues(outcome).Inc()
	deriveDuration.Observe(duration.Seconds())
}

// RecordSweep records the staleness sweep gauges.
func RecordSweep(oldest time.Duration, staleAssets int) {
	priceAge.Set(oldest.Seconds())
	priceStale.Set(float64(staleAssets))
}

// RecordPriceUpdate counts one published price update.
func RecordPriceUpdate() {
	priceUpdates.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}
	// Collapse identifiers so /v1/prices/17 and /v1/pairs/1/2 do not fan out
	// into unbounded label sets.
	switch parts[1] {
	case "prices":
		if len(parts) == 2 {
			return "/v1/prices"
		}
		return "/v1/prices/:asset"
	case "pairs":
		if len(parts) == 2 || parts[len(parts)-1] == "query" {
			return "/v1/pairs/query"
		}
		return "/v1/pairs/:asset0/:asset1"
	default:
		return "/v1/" + parts[1]
	}
}
