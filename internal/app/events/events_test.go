package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
)

func TestPublishStampsAndFansOut(t *testing.T) {
	bus := NewBus(8)

	var got []PriceUpdate
	unsubscribe := bus.Subscribe(func(u PriceUpdate) { got = append(got, u) })
	defer unsubscribe()

	published := bus.Publish(PriceUpdate{Asset: 3, Value: 100, Round: 1})

	require.NotEmpty(t, published.ID)
	require.False(t, published.CommittedAt.IsZero())
	require.Len(t, got, 1)
	require.Equal(t, published, got[0])
}

func TestSubscribeFiltered(t *testing.T) {
	bus := NewBus(8)

	var seen []price.AssetIndex
	unsubscribe := bus.SubscribeFiltered(ForAssets([]price.AssetIndex{1, 3}), func(u PriceUpdate) {
		seen = append(seen, u.Asset)
	})
	defer unsubscribe()

	for _, a := range []price.AssetIndex{1, 2, 3, 4} {
		bus.Publish(PriceUpdate{Asset: a})
	}

	require.Equal(t, []price.AssetIndex{1, 3}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)

	calls := 0
	unsubscribe := bus.Subscribe(func(PriceUpdate) { calls++ })
	bus.Publish(PriceUpdate{Asset: 1})
	unsubscribe()
	bus.Publish(PriceUpdate{Asset: 2})

	require.Equal(t, 1, calls)
}

func TestRecentWrapsAround(t *testing.T) {
	bus := NewBus(3)

	for round := uint64(1); round <= 5; round++ {
		bus.Publish(PriceUpdate{Asset: 1, Round: round})
	}

	recent := bus.Recent(10)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(5), recent[0].Round)
	require.Equal(t, uint64(4), recent[1].Round)
	require.Equal(t, uint64(3), recent[2].Round)
}

func TestForAssetsEmptyPassesAll(t *testing.T) {
	require.Nil(t, ForAssets(nil))
}
