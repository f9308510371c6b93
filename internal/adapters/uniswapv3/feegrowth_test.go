package uniswapv3

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

var _ ports.FeeOracle = (*Reader)(nil)

// growth returns 2^128 / div, a Q128 fee growth of 1/div per unit of liquidity.
func growth(div int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(div))
}

func TestFeeGrowthInside(t *testing.T) {
	tests := []struct {
		name           string
		global, lo, up int64
		tick           int64
		want           int64
	}{
		{name: "price inside range", global: 100, lo: 30, up: 10, tick: 50, want: 60},
		{name: "price below range", global: 100, lo: 30, up: 10, tick: -10, want: 20},
		{name: "price above range", global: 100, lo: 10, up: 30, tick: 200, want: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feeGrowthInside(big.NewInt(tt.global), big.NewInt(tt.lo), big.NewInt(tt.up), tt.tick, 0, 100)
			assert.Equal(t, 0, got.Cmp(big.NewInt(tt.want)), "got %s", got)
		})
	}

	wrapped := sub256(big.NewInt(0), big.NewInt(1))
	assert.Equal(t, 0, wrapped.Cmp(new(big.Int).Sub(two256, big.NewInt(1))))
}

func TestRangeTicks(t *testing.T) {
	t.Run("same decimals", func(t *testing.T) {
		rng := domain.PositionRange{LowerPrice: 95, UpperPrice: 105, Liquidity: 1}
		lower, upper, err := RangeTicks(rng, 18, 18, false, 60)
		require.NoError(t, err)
		assert.Zero(t, lower%60)
		assert.Zero(t, upper%60)
		assert.LessOrEqual(t, math.Pow(1.0001, float64(lower)), 95.0)
		assert.GreaterOrEqual(t, math.Pow(1.0001, float64(upper)), 105.0)
		assert.Less(t, upper-lower, int64(1200))
	})

	t.Run("inverted usdc weth", func(t *testing.T) {
		rng := domain.PositionRange{LowerPrice: 1900, UpperPrice: 2100, Liquidity: 1}
		lower, upper, err := RangeTicks(rng, 6, 18, true, 10)
		require.NoError(t, err)
		assert.Zero(t, lower%10)
		assert.Zero(t, upper%10)
		assert.LessOrEqual(t, math.Pow(1.0001, float64(lower)), 1e12/2100)
		assert.GreaterOrEqual(t, math.Pow(1.0001, float64(upper)), 1e12/1900)
	})

	_, _, err := RangeTicks(domain.PositionRange{LowerPrice: 5, UpperPrice: 1}, 18, 18, false, 60)
	assert.ErrorIs(t, err, ports.ErrInvalidRange)

	assert.Equal(t, int64(-120), floorTo(-61, 60))
	assert.Equal(t, int64(-60), floorTo(-60, 60))
	assert.Equal(t, int64(60), floorTo(119, 60))
}

func TestEstimateFees(t *testing.T) {
	start := FeeGrowthSnapshot{
		Block: 100, Timestamp: blockAt(100), SqrtPriceX96: sqrtX96(10), Tick: 46000,
		LowerTick: 45540, UpperTick: 46560,
		Global0: big.NewInt(0), Global1: big.NewInt(0),
		Lower: TickFeeGrowth{Outside0: big.NewInt(0), Outside1: big.NewInt(0)},
		Upper: TickFeeGrowth{Outside0: big.NewInt(0), Outside1: big.NewInt(0)},
	}
	end := start
	end.Block, end.Timestamp = 7300, start.Timestamp.Add(24*time.Hour)
	end.Global0, end.Global1 = growth(1000), growth(10)

	est, err := EstimateFees(start, end, 50, 18, 18, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, est.Token0, 1e-12)
	assert.InDelta(t, 5.0, est.Token1, 1e-12)
	assert.InDelta(t, 100.0, est.Price, 1e-9)
	// 0.05 token0 at 100 plus 5 token1.
	assert.InDelta(t, 10.0, est.QuoteFees.InexactFloat64(), 1e-9)
	assert.Equal(t, 24*time.Hour, est.Period)
	assert.InDelta(t, 365.0, est.APRPct(decimal.NewFromInt(1000)), 1e-6)
	assert.Zero(t, est.APRPct(decimal.Zero))

	inverted, err := EstimateFees(start, end, 50, 18, 18, true)
	require.NoError(t, err)
	// 0.05 token0 plus 5 token1 at 0.01.
	assert.InDelta(t, 0.1, inverted.QuoteFees.InexactFloat64(), 1e-9)

	_, err = EstimateFees(end, start, 50, 18, 18, false)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	shifted := end
	shifted.UpperTick = 47000
	_, err = EstimateFees(start, shifted, 50, 18, 18, false)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestBlockByTimestamp(t *testing.T) {
	r := newReader(t, newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1)), false)
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want uint64
	}{
		{name: "exact block time", at: blockAt(500), want: 500},
		{name: "between blocks rounds up", at: blockAt(500).Add(time.Second), want: 501},
		{name: "before genesis", at: blockAt(0).Add(-time.Hour), want: 0},
		{name: "slightly past head", at: blockAt(1000).Add(30 * time.Second), want: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.BlockByTimestamp(ctx, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.BlockByTimestamp(ctx, blockAt(1000).Add(2*time.Hour))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestBlockByTimestampNeedsHeaders(t *testing.T) {
	chain := newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1))
	r, err := NewReader(struct{ ContractCaller }{chain}, Config{PoolAddress: poolAddr, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = r.BlockByTimestamp(context.Background(), blockAt(10))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestFeeGrowthSnapshot(t *testing.T) {
	chain := newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1))
	chain.blocks[200] = map[string][]interface{}{
		"feeGrowthGlobal0X128": {big.NewInt(700)},
		"slot0":                {sqrtX96(10), big.NewInt(46000), uint16(1), uint16(2), uint16(3), uint8(0), true},
	}
	r := newReader(t, chain, false)

	snap, err := r.FeeGrowthSnapshot(context.Background(), 200, 45540, 46560)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), snap.Block)
	assert.Equal(t, blockAt(200), snap.Timestamp)
	assert.Equal(t, int64(46000), snap.Tick)
	assert.Equal(t, 0, snap.Global0.Cmp(big.NewInt(700)))
	assert.Equal(t, 0, snap.Global1.Sign())
	assert.True(t, snap.Lower.Initialized)
	assert.Equal(t, 0, snap.Upper.Outside0.Sign())

	_, err = r.FeeGrowthSnapshot(context.Background(), 200, 46560, 45540)
	assert.ErrorIs(t, err, ports.ErrInvalidRange)
}

func TestRangeFees(t *testing.T) {
	chain := newFakeChain(t, 18, 18, sqrtX96(10), big.NewInt(1))
	inRange := []interface{}{sqrtX96(10), big.NewInt(46000), uint16(1), uint16(2), uint16(3), uint8(0), true}
	chain.blocks[100] = map[string][]interface{}{"slot0": inRange}
	chain.blocks[200] = map[string][]interface{}{
		"slot0":                inRange,
		"feeGrowthGlobal0X128": {growth(1000)},
		"feeGrowthGlobal1X128": {growth(10)},
	}
	r := newReader(t, chain, false)
	rng := domain.PositionRange{LowerPrice: 95, UpperPrice: 105, Liquidity: 50}

	est, err := r.EstimateRangeFees(context.Background(), rng, blockAt(100), blockAt(200))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), est.FromBlock)
	assert.Equal(t, uint64(200), est.ToBlock)
	assert.Equal(t, 100*blockTime*time.Second, est.Period)

	fees, err := r.RangeFees(context.Background(), rng, blockAt(100), blockAt(200))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fees.InexactFloat64(), 1e-9)

	_, err = r.RangeFees(context.Background(), rng, blockAt(200), blockAt(100))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	// Both ends resolve to block 101.
	_, err = r.RangeFees(context.Background(), rng, blockAt(100).Add(time.Second), blockAt(100).Add(5*time.Second))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
