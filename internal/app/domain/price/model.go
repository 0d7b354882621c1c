// Package price holds the core price-feed types shared by the ingestion and
// derivation services: stored records, pair directions, derived cross rates,
// and the error taxonomy callers branch on.
package price

import "time"

// AssetIndex identifies an asset in the feed universe. Indices are assigned
// by the submitter side and are opaque to this service.
type AssetIndex uint32

// Direction selects which asset of a pair acts as the numerator.
type Direction string

const (
	// DirectionForward derives asset0 priced in asset1 (asset0/asset1).
	DirectionForward Direction = "forward"
	// DirectionBackward derives asset1 priced in asset0 (asset1/asset0).
	DirectionBackward Direction = "backward"
)

// Valid reports whether d names a known direction.
func (d Direction) Valid() bool {
	return d == DirectionForward || d == DirectionBackward
}

// Record is the authoritative stored observation for one asset. Value is a
// fixed-point mantissa scaled by 10^Decimals and is always positive once
// stored; a missing record is a distinct state reported by the store, never a
// zero-valued Record.
type Record struct {
	Asset     AssetIndex `json:"asset" db:"asset"`
	Value     uint64     `json:"value" db:"value"`
	Decimals  uint8      `json:"decimals" db:"decimals"`
	Round     uint64     `json:"round" db:"round"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// DerivedPair is a cross rate computed on demand from two stored records.
// Price is scaled by 10^Decimals where Decimals is the larger of the two leg
// exponents. RoundDifference is round(numerator) minus round(denominator) and
// so changes sign with the direction. UpdatedAt is the older of the two leg
// timestamps, since the pair is only as fresh as its stalest input.
type DerivedPair struct {
	Price           uint64    `json:"price"`
	Decimals        uint8     `json:"decimals"`
	RoundDifference int64     `json:"round_difference"`
	UpdatedAt       time.Time `json:"updated_at"`
}
