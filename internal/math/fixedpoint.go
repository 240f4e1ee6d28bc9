package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}       // 0.01
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 (position size)
	QuoteConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 (collateral, shares)
	LeverageConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 1.0x == 1_000_000
)

// Intermediate products are computed in big.Int to prevent int64 overflow.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with the given rounding mode.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	// Quo/Rem truncate toward zero, the documented rounding for all
	// share/asset conversions.
	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		remainder.Abs(remainder)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default)
	RoundHalfEven
)

// MulDiv computes a * b / denominator in a single widened step, truncating
// toward zero. denominator must be non-zero; callers zero-guard.
func MulDiv(a, b, denominator int64) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, denominator, RoundDown)
	putInt128(product)
	return result
}

// ComputeNotional calculates position notional value in quote units.
func ComputeNotional(positionSize, price int64) int64 {
	raw := MultiplyInt128(positionSize, price)
	raw.Mul(raw, big.NewInt(QuoteConfig.Scale))
	result := DivideInt128(raw, PriceConfig.Scale*QuantityConfig.Scale, RoundDown)
	putInt128(raw)
	return result
}

// ComputeTargetPosition converts a collateral allocation into a maker
// position size at the given leverage and price:
//
//	size = collateral * leverage / price
//
// with scale conversion from quote units to quantity units.
func ComputeTargetPosition(collateral, leverage, price int64) int64 {
	if price <= 0 {
		return 0
	}
	num := MultiplyInt128(collateral, leverage)
	num.Mul(num, big.NewInt(PriceConfig.Scale))
	num.Mul(num, big.NewInt(QuantityConfig.Scale))

	denom := MultiplyInt128(LeverageConfig.Scale*price, QuoteConfig.Scale)
	quotient := getInt128()
	quotient.Quo(num, denom)
	result := quotient.Int64()

	putInt128(num)
	putInt128(denom)
	putInt128(quotient)
	return result
}

// ComputeCollateralForPosition is the inverse of ComputeTargetPosition: the
// collateral backing a position of the given size at the given leverage.
func ComputeCollateralForPosition(positionSize, leverage, price int64) int64 {
	if leverage <= 0 {
		return 0
	}
	num := MultiplyInt128(positionSize, price)
	num.Mul(num, big.NewInt(LeverageConfig.Scale))
	num.Mul(num, big.NewInt(QuoteConfig.Scale))

	denom := MultiplyInt128(leverage*PriceConfig.Scale, QuantityConfig.Scale)
	quotient := getInt128()
	quotient.Quo(num, denom)
	result := quotient.Int64()

	putInt128(num)
	putInt128(denom)
	putInt128(quotient)
	return result
}
