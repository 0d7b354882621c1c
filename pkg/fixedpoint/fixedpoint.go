// Package fixedpoint implements arithmetic on unsigned fixed-point values
// represented as a uint64 mantissa plus a base-10 decimals exponent.
// Intermediate products use math/big so no precision is lost before the final
// truncating division.
package fixedpoint

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrDivideByZero is returned when a quotient's denominator is zero.
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	// ErrOverflow is returned when a result does not fit in a uint64 mantissa.
	ErrOverflow = errors.New("fixedpoint: result overflows uint64")
	// ErrNegative is returned when converting a negative decimal to a mantissa.
	ErrNegative = errors.New("fixedpoint: negative value")
)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Pow10 returns 10^n as a big integer.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Rescale converts a mantissa from one decimals exponent to another.
// Scaling down truncates; scaling up fails with ErrOverflow when the result
// exceeds uint64.
func Rescale(value uint64, from, to uint8) (uint64, error) {
	if from == to {
		return value, nil
	}
	v := new(big.Int).SetUint64(value)
	if to > from {
		v.Mul(v, Pow10(to-from))
		if v.Cmp(maxUint64) > 0 {
			return 0, ErrOverflow
		}
		return v.Uint64(), nil
	}
	v.Quo(v, Pow10(from-to))
	return v.Uint64(), nil
}

// MulDiv computes (a*b)/den with a widened intermediate product and truncating
// division.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Quo(prod, new(big.Int).SetUint64(den))
	if prod.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return prod.Uint64(), nil
}

// DivToScale divides num (at numDec decimals) by den (at denDec decimals) and
// renders the truncated quotient at the target exponent. The whole computation
// runs on wide integers, so legs never overflow on the way in regardless of
// how far apart their exponents sit.
func DivToScale(num uint64, numDec uint8, den uint64, denDec uint8, target uint8) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}

	// quotient = num/10^numDec / (den/10^denDec) * 10^target
	//          = num * 10^(target+denDec-numDec) / den
	exp := int(target) + int(denDec) - int(numDec)
	n := new(big.Int).SetUint64(num)
	d := new(big.Int).SetUint64(den)
	if exp >= 0 {
		n.Mul(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		// Folding the shift into the denominator keeps nested truncation
		// exact: floor(n/(a*b)) == floor(floor(n/a)/b).
		d.Mul(d, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil))
	}
	n.Quo(n, d)
	if n.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return n.Uint64(), nil
}

// SignedDelta returns a-b as a signed value, saturating at the int64 bounds.
func SignedDelta(a, b uint64) int64 {
	if a >= b {
		d := a - b
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := b - a
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}

// ToDecimal renders a mantissa as an arbitrary-precision decimal.
func ToDecimal(value uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(value), -int32(decimals))
}

// FromDecimal converts a decimal to a mantissa at the given exponent,
// truncating excess fractional digits.
func FromDecimal(d decimal.Decimal, decimals uint8) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	scaled := d.Shift(int32(decimals)).Truncate(0).BigInt()
	if scaled.Cmp(maxUint64) > 0 {
		return 0, ErrOverflow
	}
	return scaled.Uint64(), nil
}
