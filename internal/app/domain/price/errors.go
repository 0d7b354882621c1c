package price

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the feed. Callers match with errors.Is; the typed
// variants below carry the offending values and unwrap to these.
var (
	ErrLengthMismatch    = errors.New("argument lengths differ")
	ErrUnknownAsset      = errors.New("no price recorded for asset")
	ErrSelfPair          = errors.New("pair names the same asset on both sides")
	ErrDivisionByZero    = errors.New("derivation would divide by zero")
	ErrZeroPrice         = errors.New("price must be positive")
	ErrTimestampMismatch = errors.New("batch timestamps differ")
	ErrStaleBatch        = errors.New("batch timestamp too old")
	ErrRoundConsistency  = errors.New("round did not advance with newer timestamp")
	ErrPriceOverflow     = errors.New("derived price overflows mantissa")
	ErrInvalidDirection  = errors.New("unknown pair direction")
)

// LengthMismatchError reports the actual lengths of parallel query slices.
// Directions is -1 for the fixed-direction query forms that take no direction
// slice.
type LengthMismatchError struct {
	Len0       int
	Len1       int
	Directions int
}

func (e *LengthMismatchError) Error() string {
	if e.Directions < 0 {
		return fmt.Sprintf("argument lengths differ: %d vs %d", e.Len0, e.Len1)
	}
	return fmt.Sprintf("argument lengths differ: %d vs %d vs %d directions", e.Len0, e.Len1, e.Directions)
}

func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

// UnknownAssetError identifies the asset that has no stored record.
type UnknownAssetError struct {
	Asset AssetIndex
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("no price recorded for asset %d", e.Asset)
}

func (e *UnknownAssetError) Unwrap() error { return ErrUnknownAsset }

// SelfPairError identifies the asset requested against itself.
type SelfPairError struct {
	Asset AssetIndex
}

func (e *SelfPairError) Error() string {
	return fmt.Sprintf("pair names asset %d on both sides", e.Asset)
}

func (e *SelfPairError) Unwrap() error { return ErrSelfPair }

// DivisionByZeroError identifies the denominator asset whose stored price was
// zero. Stored prices are validated positive, so seeing this means the store
// was corrupted out-of-band.
type DivisionByZeroError struct {
	Asset AssetIndex
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("stored price for asset %d is zero", e.Asset)
}

func (e *DivisionByZeroError) Unwrap() error { return ErrDivisionByZero }

// ZeroPriceError identifies the batch entry carrying a non-positive price.
type ZeroPriceError struct {
	Asset AssetIndex
}

func (e *ZeroPriceError) Error() string {
	return fmt.Sprintf("price for asset %d must be positive", e.Asset)
}

func (e *ZeroPriceError) Unwrap() error { return ErrZeroPrice }

// TimestampMismatchError identifies the entry that broke the uniform batch
// timestamp, alongside the timestamp established by the batch head.
type TimestampMismatchError struct {
	Asset AssetIndex
	Want  time.Time
	Got   time.Time
}

func (e *TimestampMismatchError) Error() string {
	return fmt.Sprintf("asset %d timestamp %s differs from batch timestamp %s",
		e.Asset, e.Got.Format(time.RFC3339Nano), e.Want.Format(time.RFC3339Nano))
}

func (e *TimestampMismatchError) Unwrap() error { return ErrTimestampMismatch }

// StaleBatchError reports how old the batch was against the configured bound.
type StaleBatchError struct {
	BatchTime time.Time
	Age       time.Duration
	MaxStale  time.Duration
}

func (e *StaleBatchError) Error() string {
	return fmt.Sprintf("batch timestamp %s is %s old, exceeds %s",
		e.BatchTime.Format(time.RFC3339Nano), e.Age, e.MaxStale)
}

func (e *StaleBatchError) Unwrap() error { return ErrStaleBatch }

// RoundConsistencyError reports an entry whose timestamp moved past the
// stored record while its round failed to advance.
type RoundConsistencyError struct {
	Asset       AssetIndex
	Round       uint64
	StoredRound uint64
}

func (e *RoundConsistencyError) Error() string {
	return fmt.Sprintf("asset %d round %d does not advance stored round %d despite newer timestamp",
		e.Asset, e.Round, e.StoredRound)
}

func (e *RoundConsistencyError) Unwrap() error { return ErrRoundConsistency }
