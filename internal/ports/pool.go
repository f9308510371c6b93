package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
)

// PoolAdapter executes structural decisions against a pool, on-chain or in
// simulation. The engine only needs success/failure and, on close, the
// realized fee figure.
type PoolAdapter interface {
	// Open mints a position over the given range.
	Open(ctx context.Context, rng domain.PositionRange) (domain.PositionHandle, error)
	// Close burns the position and collects its fees, returning the realized fees.
	Close(ctx context.Context, handle domain.PositionHandle) (decimal.Decimal, error)
}

// SampleObserver is implemented by adapters that need to see the price stream
// themselves, such as simulators that earn fees per sample.
type SampleObserver interface {
	ObserveSample(sample domain.PriceSample)
}

// LiquiditySource reports the total in-range liquidity of a pool.
type LiquiditySource interface {
	PoolLiquidity(ctx context.Context) (float64, error)
}

// FeeOracle measures the fees a range earned on-chain between two times.
type FeeOracle interface {
	RangeFees(ctx context.Context, rng domain.PositionRange, from, to time.Time) (decimal.Decimal, error)
}
