// Package fees estimates the trading fees earned by a concentrated-liquidity
// position from the volume that trades through its range.
package fees

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// SharePolicy selects how the position's share of pool liquidity is measured
// over an accrual interval.
type SharePolicy string

const (
	// ShareInstant uses the share observed at the sample.
	ShareInstant SharePolicy = "instant"
	// ShareTimeWeighted averages the shares at both ends of the interval.
	ShareTimeWeighted SharePolicy = "time_weighted"
)

// ParseSharePolicy converts a configuration string to a SharePolicy.
func ParseSharePolicy(s string) (SharePolicy, error) {
	switch SharePolicy(s) {
	case ShareInstant, "":
		return ShareInstant, nil
	case ShareTimeWeighted:
		return ShareTimeWeighted, nil
	default:
		return "", fmt.Errorf("%w: unknown fee share policy %q", ports.ErrConfigurationError, s)
	}
}

var bpsDenominator = decimal.NewFromInt(10000)

// Calculator accrues fees into positions. It holds no per-position state.
type Calculator struct {
	feeRate decimal.Decimal
	policy  SharePolicy
}

// NewCalculator creates a calculator for a pool fee tier given in basis points.
func NewCalculator(feeTierBps int, policy SharePolicy) (*Calculator, error) {
	if feeTierBps < 0 {
		return nil, fmt.Errorf("%w: fee tier cannot be negative, got %d", ports.ErrConfigurationError, feeTierBps)
	}
	policy, err := ParseSharePolicy(string(policy))
	if err != nil {
		return nil, err
	}
	return &Calculator{
		feeRate: decimal.NewFromInt(int64(feeTierBps)).Div(bpsDenominator),
		policy:  policy,
	}, nil
}

// Policy returns the configured share policy.
func (c *Calculator) Policy() SharePolicy {
	return c.policy
}

// Accrue computes the position's fees for the interval ending at sample and
// adds them to pos.AccruedFees. Out-of-range samples earn nothing. An in-range
// sample without pool liquidity data fails with ports.ErrMissingLiquidityData
// and leaves pos untouched.
func (c *Calculator) Accrue(pos *domain.Position, sample domain.PriceSample) (decimal.Decimal, error) {
	if pos == nil {
		return decimal.Zero, fmt.Errorf("%w: no position to accrue into", ports.ErrInvalidRequest)
	}
	if !finite(sample.Volume) || !finite(sample.PoolLiquidity) {
		return decimal.Zero, fmt.Errorf("%w: non-finite volume %v or liquidity %v", ports.ErrInvalidRange, sample.Volume, sample.PoolLiquidity)
	}
	if !pos.Range.Contains(sample.Price) {
		pos.LastAccrualAt = sample.Timestamp
		pos.LastShare = 0
		return decimal.Zero, nil
	}
	if sample.PoolLiquidity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: at %s", ports.ErrMissingLiquidityData, sample.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}

	share := math.Min(1, pos.Range.Liquidity/sample.PoolLiquidity)
	effective := share
	if c.policy == ShareTimeWeighted && pos.LastShare > 0 {
		effective = (pos.LastShare + share) / 2
	}

	delta := decimal.Zero
	if sample.Volume > 0 {
		delta = c.feeRate.Mul(decimal.NewFromFloat(sample.Volume * effective))
	}

	pos.AccruedFees = pos.AccruedFees.Add(delta)
	pos.LastAccrualAt = sample.Timestamp
	pos.LastShare = share
	return delta, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
