// Package httpapi exposes the public REST and websocket API: price batch
// submission, stored price reads, and on-demand pair derivation.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/openfeeds/rate-layer/internal/app/audit"
	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/metrics"
	"github.com/openfeeds/rate-layer/internal/app/services/ingest"
	"github.com/openfeeds/rate-layer/internal/app/services/rates"
	"github.com/openfeeds/rate-layer/internal/middleware"
	"github.com/openfeeds/rate-layer/pkg/fixedpoint"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Options bundles the dependencies of the public API. Nil middleware fields
// disable the corresponding layer.
type Options struct {
	Rates  *rates.Service
	Ingest *ingest.Service
	Hub    *Hub
	Audit  *audit.Log
	Log    *logger.Logger

	Auth       *middleware.TokenAuth
	RateLimit  *middleware.RateLimiter
	CORS       *middleware.CORS
	RequestLog *middleware.RequestLogger
}

type handler struct {
	rates  *rates.Service
	ingest *ingest.Service
	log    *logger.Logger
}

// NewHandler returns the public API router. The websocket route bypasses the
// response-recording middleware because the upgrade needs the raw connection.
func NewHandler(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{rates: opts.Rates, ingest: opts.Ingest, log: log}

	wrap := func(fn http.HandlerFunc, layers ...func(http.Handler) http.Handler) http.Handler {
		var hd http.Handler = fn
		for i := len(layers) - 1; i >= 0; i-- {
			if layers[i] != nil {
				hd = layers[i](hd)
			}
		}
		return hd
	}

	var requestLog, auditMW, auth, limit, cors func(http.Handler) http.Handler
	if opts.RequestLog != nil {
		requestLog = opts.RequestLog.Handler
	}
	if opts.Audit != nil {
		auditMW = opts.Audit.Middleware
	}
	if opts.Auth != nil {
		auth = opts.Auth.Handler
	}
	if opts.RateLimit != nil {
		limit = opts.RateLimit.Handler
	}
	if opts.CORS != nil {
		cors = opts.CORS.Handler
	}

	read := func(fn http.HandlerFunc) http.Handler {
		return wrap(fn, requestLog, cors, auditMW, metrics.InstrumentHandler, limit)
	}

	r := mux.NewRouter()
	// CORS answers preflights before auth sees them; auth runs before the
	// audit and limiter layers so entries carry the client name and submitters
	// are throttled by it rather than by source address. OPTIONS is routed so
	// preflights reach the CORS layer at all.
	r.Handle("/v1/prices", wrap(h.submitPrices, requestLog, cors, metrics.InstrumentHandler, auth, auditMW, limit)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/v1/prices", read(h.listPrices)).Methods(http.MethodGet)
	r.Handle("/v1/prices/{asset}", read(h.getPrice)).Methods(http.MethodGet)
	r.Handle("/v1/pairs/query", read(h.queryPairs)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/v1/pairs/{asset0}/{asset1}", read(h.getPair)).Methods(http.MethodGet)
	if opts.Hub != nil {
		r.Handle("/ws", wrap(opts.Hub.HandleConnection, limit)).Methods(http.MethodGet)
	}
	return r
}

type submitEntry struct {
	Asset     uint32    `json:"asset"`
	Price     string    `json:"price,omitempty"`
	Value     *uint64   `json:"value,omitempty"`
	Decimals  uint8     `json:"decimals"`
	Round     uint64    `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

type submitRequest struct {
	Prices []submitEntry `json:"prices"`
}

func (h *handler) submitPrices(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Prices) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "prices must not be empty")
		return
	}

	entries := make([]price.Record, 0, len(payload.Prices))
	for _, e := range payload.Prices {
		if e.Timestamp.IsZero() {
			writeErrorMessage(w, http.StatusBadRequest, "every entry needs a timestamp")
			return
		}

		var value uint64
		switch {
		case e.Value != nil && e.Price != "":
			writeErrorMessage(w, http.StatusBadRequest, "set either price or value, not both")
			return
		case e.Value != nil:
			value = *e.Value
		case e.Price != "":
			d, err := decimal.NewFromString(e.Price)
			if err != nil {
				writeErrorMessage(w, http.StatusBadRequest, "asset "+strconv.FormatUint(uint64(e.Asset), 10)+": malformed price: "+err.Error())
				return
			}
			v, err := fixedpoint.FromDecimal(d, e.Decimals)
			if err != nil {
				writeErrorMessage(w, http.StatusBadRequest, "asset "+strconv.FormatUint(uint64(e.Asset), 10)+": "+err.Error())
				return
			}
			value = v
		default:
			writeErrorMessage(w, http.StatusBadRequest, "set either price or value")
			return
		}

		entries = append(entries, price.Record{
			Asset:     price.AssetIndex(e.Asset),
			Value:     value,
			Decimals:  e.Decimals,
			Round:     e.Round,
			UpdatedAt: e.Timestamp.UTC(),
		})
	}

	result, err := h.ingest.Submit(r.Context(), entries)
	if err != nil {
		metrics.RecordBatch("rejected", 0, 0, 0)
		writeError(w, statusForError(err), err)
		return
	}
	metrics.RecordBatch("accepted", result.Committed, result.Superseded, result.Unchanged)
	writeJSON(w, http.StatusOK, result)
}

type priceResponse struct {
	price.Record
	PriceDecimal string `json:"price_decimal"`
}

func toPriceResponse(rec price.Record) priceResponse {
	return priceResponse{
		Record:       rec,
		PriceDecimal: fixedpoint.ToDecimal(rec.Value, rec.Decimals).String(),
	}
}

func (h *handler) listPrices(w http.ResponseWriter, r *http.Request) {
	records, err := h.rates.ListPrices(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	out := make([]priceResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toPriceResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAsset(w, mux.Vars(r)["asset"])
	if !ok {
		return
	}
	rec, err := h.rates.GetPrice(r.Context(), asset)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceResponse(rec))
}

type pairResponse struct {
	Asset0          uint32    `json:"asset0"`
	Asset1          uint32    `json:"asset1"`
	Direction       string    `json:"direction"`
	Price           uint64    `json:"price"`
	PriceDecimal    string    `json:"price_decimal"`
	Decimals        uint8     `json:"decimals"`
	RoundDifference int64     `json:"round_difference"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toPairResponse(asset0, asset1 price.AssetIndex, dir price.Direction, p price.DerivedPair) pairResponse {
	return pairResponse{
		Asset0:          uint32(asset0),
		Asset1:          uint32(asset1),
		Direction:       string(dir),
		Price:           p.Price,
		PriceDecimal:    fixedpoint.ToDecimal(p.Price, p.Decimals).String(),
		Decimals:        p.Decimals,
		RoundDifference: p.RoundDifference,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (h *handler) getPair(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset0, ok := parseAsset(w, vars["asset0"])
	if !ok {
		return
	}
	asset1, ok := parseAsset(w, vars["asset1"])
	if !ok {
		return
	}

	dir := price.DirectionForward
	if raw := r.URL.Query().Get("direction"); raw != "" {
		dir = price.Direction(raw)
		if !dir.Valid() {
			writeErrorMessage(w, http.StatusBadRequest, "direction must be forward or backward")
			return
		}
	}

	start := time.Now()
	pair, err := h.rates.GetPair(r.Context(), asset0, asset1, dir)
	if err != nil {
		metrics.RecordDerive("error", time.Since(start))
		writeError(w, statusForError(err), err)
		return
	}
	metrics.RecordDerive("ok", time.Since(start))
	writeJSON(w, http.StatusOK, toPairResponse(asset0, asset1, dir, pair))
}

type pairsQueryRequest struct {
	Asset0     []uint32 `json:"asset0"`
	Asset1     []uint32 `json:"asset1"`
	Direction  string   `json:"direction,omitempty"`
	Directions []string `json:"directions,omitempty"`
}

func (h *handler) queryPairs(w http.ResponseWriter, r *http.Request) {
	var payload pairsQueryRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Direction != "" && len(payload.Directions) > 0 {
		writeErrorMessage(w, http.StatusBadRequest, "set either direction or directions, not both")
		return
	}

	idx0 := toAssetIndices(payload.Asset0)
	idx1 := toAssetIndices(payload.Asset1)

	start := time.Now()
	var (
		pairs []price.DerivedPair
		dirs  []price.Direction
		err   error
	)
	switch {
	case len(payload.Directions) > 0:
		dirs = make([]price.Direction, len(payload.Directions))
		for i, raw := range payload.Directions {
			dirs[i] = price.Direction(raw)
		}
		pairs, err = h.rates.GetPairs(r.Context(), idx0, idx1, dirs)

	case payload.Direction == "" || payload.Direction == string(price.DirectionForward):
		pairs, err = h.rates.GetPairsForward(r.Context(), idx0, idx1)
		dirs = uniformDirections(len(idx0), price.DirectionForward)

	case payload.Direction == string(price.DirectionBackward):
		pairs, err = h.rates.GetPairsBackward(r.Context(), idx0, idx1)
		dirs = uniformDirections(len(idx0), price.DirectionBackward)

	default:
		writeErrorMessage(w, http.StatusBadRequest, "direction must be forward or backward")
		return
	}
	if err != nil {
		metrics.RecordDerive("error", time.Since(start))
		writeError(w, statusForError(err), err)
		return
	}
	metrics.RecordDerive("ok", time.Since(start))

	out := make([]pairResponse, len(pairs))
	for i, p := range pairs {
		out[i] = toPairResponse(idx0[i], idx1[i], dirs[i], p)
	}
	writeJSON(w, http.StatusOK, out)
}

func parseAsset(w http.ResponseWriter, raw string) (price.AssetIndex, bool) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "asset index must be an unsigned integer")
		return 0, false
	}
	return price.AssetIndex(n), true
}

func toAssetIndices(raw []uint32) []price.AssetIndex {
	out := make([]price.AssetIndex, len(raw))
	for i, v := range raw {
		out[i] = price.AssetIndex(v)
	}
	return out
}

func uniformDirections(n int, dir price.Direction) []price.Direction {
	out := make([]price.Direction, n)
	for i := range out {
		out[i] = dir
	}
	return out
}

// statusForError maps the feed error taxonomy onto HTTP statuses. Unknown
// errors are internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, price.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, price.ErrRoundConsistency):
		return http.StatusConflict
	case errors.Is(err, price.ErrZeroPrice),
		errors.Is(err, price.ErrTimestampMismatch),
		errors.Is(err, price.ErrStaleBatch),
		errors.Is(err, price.ErrPriceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, price.ErrLengthMismatch),
		errors.Is(err, price.ErrSelfPair),
		errors.Is(err, price.ErrInvalidDirection):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
