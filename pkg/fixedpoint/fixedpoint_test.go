package fixedpoint

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	up, err := Rescale(1500, 2, 6)
	require.NoError(t, err)
	require.Equal(t, uint64(15000000), up)

	down, err := Rescale(15999999, 6, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1599), down, "scaling down truncates")

	same, err := Rescale(42, 8, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(42), same)

	_, err = Rescale(math.MaxUint64, 0, 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv(t *testing.T) {
	// 2000.00 * 10^8 / 50000.00000000 = 0.04 at 8 decimals once legs share a scale.
	got, err := MulDiv(2000_00000000, 1_00000000, 50000_00000000)
	require.NoError(t, err)
	require.Equal(t, uint64(4000000), got)

	// Intermediate product far beyond uint64 still divides down exactly.
	got, err = MulDiv(math.MaxUint64, 1000, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), got)

	_, err = MulDiv(1, 1, 0)
	require.ErrorIs(t, err, ErrDivideByZero)

	_, err = MulDiv(math.MaxUint64, 2, 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulDivTruncates(t *testing.T) {
	got, err := MulDiv(10, 1, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestDivToScale(t *testing.T) {
	// 2000.00000000 / 50000.00 at 8 decimals: 0.04.
	got, err := DivToScale(2000_00000000, 8, 50000_00, 2, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(4000000), got)

	// Same legs, inverse quotient: 25.
	got, err = DivToScale(50000_00, 2, 2000_00000000, 8, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(25_00000000), got)

	// Equal exponents reduce to a plain scaled division.
	got, err = DivToScale(1_000000, 6, 3_000000, 6, 6)
	require.NoError(t, err)
	require.Equal(t, uint64(333333), got)

	// Rendering below the numerator's exponent truncates exactly.
	got, err = DivToScale(1_000000, 6, 3_000000, 6, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(33), got)

	_, err = DivToScale(1, 0, 0, 0, 0)
	require.ErrorIs(t, err, ErrDivideByZero)

	// A tiny denominator at a wide target exponent overflows the mantissa.
	_, err = DivToScale(math.MaxUint64, 0, 1, 18, 18)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSignedDelta(t *testing.T) {
	require.Equal(t, int64(5), SignedDelta(12, 7))
	require.Equal(t, int64(-5), SignedDelta(7, 12))
	require.Equal(t, int64(0), SignedDelta(9, 9))
	require.Equal(t, int64(math.MaxInt64), SignedDelta(math.MaxUint64, 0))
	require.Equal(t, int64(math.MinInt64), SignedDelta(0, math.MaxUint64))
}

func TestDecimalRoundTrip(t *testing.T) {
	d := ToDecimal(123456789, 8)
	require.Equal(t, "1.23456789", d.String())

	m, err := FromDecimal(decimal.RequireFromString("1.23456789"), 8)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), m)

	// Excess fractional digits truncate rather than round.
	m, err = FromDecimal(decimal.RequireFromString("0.129"), 2)
	require.NoError(t, err)
	require.Equal(t, uint64(12), m)

	_, err = FromDecimal(decimal.RequireFromString("-1"), 2)
	require.ErrorIs(t, err, ErrNegative)

	_, err = FromDecimal(decimal.RequireFromString("99999999999999999999"), 8)
	require.ErrorIs(t, err, ErrOverflow)
}
