// Package events distributes committed price updates to in-process
// subscribers. A bounded ring buffer retains recent updates so late
// subscribers and the ops surface can inspect what was published.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
)

// PriceUpdate is published once per committed record. It carries the full
// record content so subscribers can filter on any field without a lookup.
type PriceUpdate struct {
	ID          string           `json:"id"`
	Asset       price.AssetIndex `json:"asset"`
	Value       uint64           `json:"value"`
	Decimals    uint8            `json:"decimals"`
	Round       uint64           `json:"round"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CommittedAt time.Time        `json:"committed_at"`
}

// Handler receives published updates. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(PriceUpdate)

// Filter decides whether a handler sees an update.
type Filter func(PriceUpdate) bool

type handlerEntry struct {
	id      int
	filter  Filter
	handler Handler
}

// Bus is a fixed-size ring buffer of updates with subscription fan-out.
type Bus struct {
	mu       sync.RWMutex
	updates  []PriceUpdate
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int
}

// NewBus creates a bus retaining up to size recent updates.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{updates: make([]PriceUpdate, size), size: size}
}

// Publish stamps the update with an ID and commit time, records it, and
// invokes every matching handler.
func (b *Bus) Publish(u PriceUpdate) PriceUpdate {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CommittedAt.IsZero() {
		u.CommittedAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.updates[b.head] = u
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(u) {
			h.handler(u)
		}
	}
	return u
}

// Subscribe registers a handler for all updates.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter. The returned function
// removes the subscription.
func (b *Bus) SubscribeFiltered(filter Filter, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n updates in reverse chronological order.
func (b *Bus) Recent(n int) []PriceUpdate {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	result := make([]PriceUpdate, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		result[i] = b.updates[idx]
	}
	return result
}

// ForAssets builds a filter passing only the given asset indices. An empty
// set passes everything.
func ForAssets(assets []price.AssetIndex) Filter {
	if len(assets) == 0 {
		return nil
	}
	set := make(map[price.AssetIndex]struct{}, len(assets))
	for _, a := range assets {
		set[a] = struct{}{}
	}
	return func(u PriceUpdate) bool {
		_, ok := set[u.Asset]
		return ok
	}
}
