package rates

import (
	"context"
	"errors"
	"testing"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
)

func newQueryService(t *testing.T) *Service {
	t.Helper()
	store := ethBtcStore(t)
	return NewService(store, NewEngine(store, nil), nil)
}

func TestGetPrice(t *testing.T) {
	svc := newQueryService(t)

	rec, err := svc.GetPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if rec.Value != 2000_00000000 || rec.Round != 41 {
		t.Fatalf("unexpected record %+v", rec)
	}

	_, err = svc.GetPrice(context.Background(), 99)
	if !errors.Is(err, price.ErrUnknownAsset) {
		t.Fatalf("error = %v, want ErrUnknownAsset", err)
	}
}

func TestListPrices(t *testing.T) {
	svc := newQueryService(t)

	recs, err := svc.ListPrices(context.Background())
	if err != nil {
		t.Fatalf("list prices: %v", err)
	}
	if len(recs) != 2 || recs[0].Asset != 1 || recs[1].Asset != 2 {
		t.Fatalf("unexpected listing %+v", recs)
	}
}

func TestGetPairDelegates(t *testing.T) {
	svc := newQueryService(t)

	pair, err := svc.GetPair(context.Background(), 1, 2, price.DirectionForward)
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if pair.Price != 4000000 {
		t.Fatalf("price = %d, want 4000000", pair.Price)
	}
}

func TestGetPairsForwardLengthMismatch(t *testing.T) {
	svc := newQueryService(t)

	_, err := svc.GetPairsForward(context.Background(),
		[]price.AssetIndex{1, 2, 1},
		[]price.AssetIndex{2, 1})

	var lm *price.LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("error = %v, want LengthMismatchError", err)
	}
	// The error must report the true lengths, not echo one of them twice.
	if lm.Len0 != 3 || lm.Len1 != 2 || lm.Directions != -1 {
		t.Fatalf("reported lengths %+v, want {3 2 -1}", lm)
	}
}

func TestGetPairsDirectionsLengthMismatch(t *testing.T) {
	svc := newQueryService(t)

	_, err := svc.GetPairs(context.Background(),
		[]price.AssetIndex{1, 2},
		[]price.AssetIndex{2, 1},
		[]price.Direction{price.DirectionForward})

	var lm *price.LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("error = %v, want LengthMismatchError", err)
	}
	if lm.Len0 != 2 || lm.Len1 != 2 || lm.Directions != 1 {
		t.Fatalf("reported lengths %+v, want {2 2 1}", lm)
	}
}

func TestGetPairsMixedDirections(t *testing.T) {
	svc := newQueryService(t)

	pairs, err := svc.GetPairs(context.Background(),
		[]price.AssetIndex{1, 1},
		[]price.AssetIndex{2, 2},
		[]price.Direction{price.DirectionForward, price.DirectionBackward})
	if err != nil {
		t.Fatalf("get pairs: %v", err)
	}
	if pairs[0].Price != 4000000 || pairs[1].Price != 25_00000000 {
		t.Fatalf("prices = %d, %d", pairs[0].Price, pairs[1].Price)
	}
}

func TestGetPairsBackwardUniform(t *testing.T) {
	svc := newQueryService(t)

	pairs, err := svc.GetPairsBackward(context.Background(),
		[]price.AssetIndex{1},
		[]price.AssetIndex{2})
	if err != nil {
		t.Fatalf("get pairs backward: %v", err)
	}
	if pairs[0].Price != 25_00000000 {
		t.Fatalf("price = %d, want 2500000000", pairs[0].Price)
	}
}

func TestGetPairsEmptySlices(t *testing.T) {
	svc := newQueryService(t)

	pairs, err := svc.GetPairsForward(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("got %d pairs, want 0", len(pairs))
	}
}
