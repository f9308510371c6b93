// Package ranges computes concentrated-liquidity ranges and the liquidity
// minted for a given amount of capital.
package ranges

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// ComputeRange centres a range on currentPrice with bufferPct on each side and
// sizes its liquidity for capital. It is a pure function of its inputs.
func ComputeRange(currentPrice float64, capital decimal.Decimal, bufferPct float64) (domain.PositionRange, error) {
	if bufferPct <= 0 {
		return domain.PositionRange{}, fmt.Errorf("%w: buffer must be positive, got %v", ports.ErrInvalidRange, bufferPct)
	}
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return domain.PositionRange{}, fmt.Errorf("%w: price must be positive and finite, got %v", ports.ErrInvalidRange, currentPrice)
	}
	if !capital.IsPositive() {
		return domain.PositionRange{}, fmt.Errorf("%w: capital must be positive, got %s", ports.ErrInvalidRange, capital)
	}

	lower := currentPrice * (1 - bufferPct/100)
	upper := currentPrice * (1 + bufferPct/100)
	if lower <= 0 {
		return domain.PositionRange{}, fmt.Errorf("%w: buffer %v%% leaves a non-positive lower bound", ports.ErrInvalidRange, bufferPct)
	}

	liquidity, err := LiquidityForCapital(capital.InexactFloat64(), currentPrice, lower, upper)
	if err != nil {
		return domain.PositionRange{}, err
	}

	return domain.PositionRange{
		LowerPrice: lower,
		UpperPrice: upper,
		Liquidity:  liquidity,
	}, nil
}

// LiquidityForCapital converts capital (in quote units) into concentrated
// liquidity over [lower, upper] at price. The price is clamped into the range
// before conversion, so a position opened outside its range is single-sided.
func LiquidityForCapital(capital, price, lower, upper float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive, got %v", ports.ErrInvalidRange, price)
	}
	if lower <= 0 || lower >= upper {
		return 0, fmt.Errorf("%w: lower bound %v must be positive and below upper bound %v", ports.ErrInvalidRange, lower, upper)
	}

	p := math.Max(math.Min(price, upper), lower)
	sqrtP := math.Sqrt(p)

	base := 1/sqrtP - 1/math.Sqrt(upper) // base tokens per unit of liquidity
	quote := sqrtP - math.Sqrt(lower)    // quote tokens per unit of liquidity
	denom := base*p + quote
	if denom <= 0 {
		return 0, fmt.Errorf("%w: liquidity denominator is zero for range [%v, %v]", ports.ErrInvalidRange, lower, upper)
	}
	return capital / denom, nil
}

// PositionValue marks a position to market at price, in quote units.
// Below the range the position is all base; above it, all quote.
func PositionValue(rng domain.PositionRange, price float64) float64 {
	if !rng.Valid() || !(price > 0) || math.IsInf(price, 0) || rng.Liquidity <= 0 {
		return 0
	}
	sqrtA := math.Sqrt(rng.LowerPrice)
	sqrtB := math.Sqrt(rng.UpperPrice)

	switch {
	case price <= rng.LowerPrice:
		baseTokens := rng.Liquidity * (1/sqrtA - 1/sqrtB)
		return baseTokens * price
	case price >= rng.UpperPrice:
		return rng.Liquidity * (sqrtB - sqrtA)
	default:
		sqrtP := math.Sqrt(price)
		baseTokens := rng.Liquidity * (1/sqrtP - 1/sqrtB)
		quoteTokens := rng.Liquidity * (sqrtP - sqrtA)
		return baseTokens*price + quoteTokens
	}
}
