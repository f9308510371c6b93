package uniswapv3

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// latestTolerance lets a target slightly newer than the chain head resolve
// to the head block instead of failing.
const latestTolerance = time.Minute

var (
	q128   = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 128))
	two256 = new(big.Int).Lsh(big.NewInt(1), 256)
	// tickBase is the price ratio between adjacent ticks.
	tickBase = math.Log(1.0001)
)

// TickFeeGrowth is the fee growth recorded outside one initialized tick.
type TickFeeGrowth struct {
	Outside0    *big.Int
	Outside1    *big.Int
	Initialized bool
}

// FeeGrowthSnapshot is the pool's fee accounting for one tick range at one block.
type FeeGrowthSnapshot struct {
	Block        uint64
	Timestamp    time.Time
	SqrtPriceX96 *big.Int
	Tick         int64
	LowerTick    int64
	UpperTick    int64
	Global0      *big.Int
	Global1      *big.Int
	Lower        TickFeeGrowth
	Upper        TickFeeGrowth
}

// Inside returns the Q128 fee growth per unit of liquidity accumulated inside
// [LowerTick, UpperTick) for token0 and token1.
func (s FeeGrowthSnapshot) Inside() (*big.Int, *big.Int) {
	return feeGrowthInside(s.Global0, s.Lower.Outside0, s.Upper.Outside0, s.Tick, s.LowerTick, s.UpperTick),
		feeGrowthInside(s.Global1, s.Lower.Outside1, s.Upper.Outside1, s.Tick, s.LowerTick, s.UpperTick)
}

// feeGrowthInside follows the pool contract: outside values flip meaning
// depending on which side of each tick the current price sits.
func feeGrowthInside(global, lowerOut, upperOut *big.Int, tick, lower, upper int64) *big.Int {
	below := lowerOut
	if tick < lower {
		below = sub256(global, lowerOut)
	}
	above := upperOut
	if tick >= upper {
		above = sub256(global, upperOut)
	}
	return sub256(sub256(global, below), above)
}

// sub256 subtracts modulo 2^256, as the contract's unchecked arithmetic does.
func sub256(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Mod(d, two256)
}

// FeeEstimate is the fee income of a liquidity amount over a block interval.
type FeeEstimate struct {
	FromBlock uint64
	ToBlock   uint64
	Period    time.Duration
	Token0    float64 // In human token0 units
	Token1    float64 // In human token1 units
	Price     float64 // Pool price at the end block, in the reader's orientation
	QuoteFees decimal.Decimal
}

// APRPct annualizes the estimate against capital, in percent.
func (e FeeEstimate) APRPct(capital decimal.Decimal) float64 {
	if !capital.IsPositive() || e.Period <= 0 {
		return 0
	}
	year := 365 * 24 * time.Hour
	return e.QuoteFees.Div(capital).InexactFloat64() * (float64(year) / float64(e.Period)) * 100
}

// TickSpacing reads the pool's tick spacing.
func (r *Reader) TickSpacing(ctx context.Context) (int64, error) {
	values, err := r.call(ctx, r.poolABI, r.pool, "tickSpacing")
	if err != nil {
		return 0, err
	}
	spacing, ok := values[0].(*big.Int)
	if !ok || spacing.Sign() <= 0 {
		return 0, fmt.Errorf("%w: unexpected tick spacing %v", ports.ErrChainCall, values[0])
	}
	return spacing.Int64(), nil
}

func (r *Reader) header(ctx context.Context, number *big.Int) (*types.Header, error) {
	if r.headers == nil {
		return nil, fmt.Errorf("%w: client cannot read block headers", ports.ErrInvalidRequest)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	h, err := r.headers.HeaderByNumber(callCtx, number)
	if err != nil {
		return nil, fmt.Errorf("%w: reading header %v: %v", ports.ErrChainCall, number, err)
	}
	if h == nil || h.Number == nil {
		return nil, fmt.Errorf("%w: empty header for block %v", ports.ErrChainCall, number)
	}
	return h, nil
}

// BlockByTimestamp returns the first block whose timestamp is at or after at.
// A target up to a minute past the chain head resolves to the head.
func (r *Reader) BlockByTimestamp(ctx context.Context, at time.Time) (uint64, error) {
	latest, err := r.header(ctx, nil)
	if err != nil {
		return 0, err
	}
	head := latest.Number.Uint64()
	headTime := time.Unix(int64(latest.Time), 0)
	if !at.Before(headTime) {
		if at.Sub(headTime) > latestTolerance {
			return 0, fmt.Errorf("%w: %s is after the latest block at %s", ports.ErrInvalidRequest,
				at.UTC().Format(time.RFC3339), headTime.UTC().Format(time.RFC3339))
		}
		return head, nil
	}

	target := uint64(0)
	if at.Unix() > 0 {
		target = uint64(at.Unix())
	}
	lo, hi := uint64(0), head
	for lo < hi {
		mid := lo + (hi-lo)/2
		h, err := r.header(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return 0, err
		}
		if h.Time < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// FeeGrowthSnapshot reads the global and per-tick fee growth of the pool at block.
func (r *Reader) FeeGrowthSnapshot(ctx context.Context, block uint64, lowerTick, upperTick int64) (FeeGrowthSnapshot, error) {
	if lowerTick >= upperTick {
		return FeeGrowthSnapshot{}, fmt.Errorf("%w: lower tick %d must be below upper tick %d", ports.ErrInvalidRange, lowerTick, upperTick)
	}
	num := new(big.Int).SetUint64(block)

	h, err := r.header(ctx, num)
	if err != nil {
		return FeeGrowthSnapshot{}, err
	}
	s0, err := r.slot0At(ctx, num)
	if err != nil {
		return FeeGrowthSnapshot{}, err
	}
	snap := FeeGrowthSnapshot{
		Block:        block,
		Timestamp:    time.Unix(int64(h.Time), 0).UTC(),
		SqrtPriceX96: s0.SqrtPriceX96,
		Tick:         s0.Tick,
		LowerTick:    lowerTick,
		UpperTick:    upperTick,
	}
	if snap.Global0, err = r.uint256At(ctx, num, "feeGrowthGlobal0X128"); err != nil {
		return FeeGrowthSnapshot{}, err
	}
	if snap.Global1, err = r.uint256At(ctx, num, "feeGrowthGlobal1X128"); err != nil {
		return FeeGrowthSnapshot{}, err
	}
	if snap.Lower, err = r.tickAt(ctx, num, lowerTick); err != nil {
		return FeeGrowthSnapshot{}, err
	}
	if snap.Upper, err = r.tickAt(ctx, num, upperTick); err != nil {
		return FeeGrowthSnapshot{}, err
	}
	return snap, nil
}

func (r *Reader) uint256At(ctx context.Context, block *big.Int, method string) (*big.Int, error) {
	values, err := r.callAt(ctx, r.poolABI, r.pool, block, method)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s type %T", ports.ErrChainCall, method, values[0])
	}
	return v, nil
}

func (r *Reader) tickAt(ctx context.Context, block *big.Int, tick int64) (TickFeeGrowth, error) {
	values, err := r.callAt(ctx, r.poolABI, r.pool, block, "ticks", big.NewInt(tick))
	if err != nil {
		return TickFeeGrowth{}, err
	}
	out0, ok0 := values[2].(*big.Int)
	out1, ok1 := values[3].(*big.Int)
	if !ok0 || !ok1 {
		return TickFeeGrowth{}, fmt.Errorf("%w: unexpected fee growth types %T, %T for tick %d", ports.ErrChainCall, values[2], values[3], tick)
	}
	initialized, _ := values[7].(bool)
	return TickFeeGrowth{Outside0: out0, Outside1: out1, Initialized: initialized}, nil
}

// PriceToTick returns the tick at or below a raw token1/token0 price.
func PriceToTick(rawPrice float64) int64 {
	return int64(math.Floor(math.Log(rawPrice) / tickBase))
}

// RangeTicks converts a human price range to the enclosing pool ticks,
// widened to multiples of spacing.
func RangeTicks(rng domain.PositionRange, dec0, dec1 uint8, invert bool, spacing int64) (int64, int64, error) {
	if !rng.Valid() {
		return 0, 0, fmt.Errorf("%w: range [%v, %v)", ports.ErrInvalidRange, rng.LowerPrice, rng.UpperPrice)
	}
	if spacing <= 0 {
		spacing = 1
	}
	scale := math.Pow10(int(dec1) - int(dec0))
	a, b := rng.LowerPrice*scale, rng.UpperPrice*scale
	if invert {
		a, b = scale/rng.UpperPrice, scale/rng.LowerPrice
	}
	lower := floorTo(PriceToTick(a), spacing)
	upper := -floorTo(-int64(math.Ceil(math.Log(b)/tickBase)), spacing)
	if upper <= lower {
		upper = lower + spacing
	}
	return lower, upper, nil
}

func floorTo(tick, spacing int64) int64 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// EstimateFees values the fees earned by liquidity (in human units, as
// computed from quote capital) between two snapshots of the same ticks.
func EstimateFees(start, end FeeGrowthSnapshot, liquidity float64, dec0, dec1 uint8, invert bool) (FeeEstimate, error) {
	if start.LowerTick != end.LowerTick || start.UpperTick != end.UpperTick {
		return FeeEstimate{}, fmt.Errorf("%w: snapshots cover different tick ranges", ports.ErrInvalidRequest)
	}
	if !end.Timestamp.After(start.Timestamp) {
		return FeeEstimate{}, fmt.Errorf("%w: end snapshot at %s is not after start at %s", ports.ErrInvalidRequest,
			end.Timestamp.Format(time.RFC3339), start.Timestamp.Format(time.RFC3339))
	}
	price, err := SqrtPriceToPrice(end.SqrtPriceX96, dec0, dec1, invert)
	if err != nil {
		return FeeEstimate{}, err
	}

	in0Start, in1Start := start.Inside()
	in0End, in1End := end.Inside()
	g0, _ := new(big.Float).Quo(new(big.Float).SetInt(sub256(in0End, in0Start)), q128).Float64()
	g1, _ := new(big.Float).Quo(new(big.Float).SetInt(sub256(in1End, in1Start)), q128).Float64()

	// Raw liquidity is human liquidity times 10^((dec0+dec1)/2); dividing by
	// each token's decimals leaves the half difference.
	half := float64(int(dec1)-int(dec0)) / 2
	fees0 := g0 * liquidity * math.Pow(10, half)
	fees1 := g1 * liquidity * math.Pow(10, -half)

	quote := fees0*price + fees1
	if invert {
		quote = fees0 + fees1*price
	}
	if math.IsNaN(quote) || math.IsInf(quote, 0) {
		return FeeEstimate{}, fmt.Errorf("%w: fee estimate is not finite", ports.ErrChainCall)
	}
	return FeeEstimate{
		FromBlock: start.Block,
		ToBlock:   end.Block,
		Period:    end.Timestamp.Sub(start.Timestamp),
		Token0:    fees0,
		Token1:    fees1,
		Price:     price,
		QuoteFees: decimal.NewFromFloat(quote),
	}, nil
}

// EstimateRangeFees measures on-chain what a position over rng would have
// earned between from and to.
func (r *Reader) EstimateRangeFees(ctx context.Context, rng domain.PositionRange, from, to time.Time) (FeeEstimate, error) {
	if !to.After(from) {
		return FeeEstimate{}, fmt.Errorf("%w: fee window end %s is not after start %s", ports.ErrInvalidRequest,
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	d0, d1, err := r.TokenDecimals(ctx)
	if err != nil {
		return FeeEstimate{}, err
	}
	spacing, err := r.TickSpacing(ctx)
	if err != nil {
		return FeeEstimate{}, err
	}
	lower, upper, err := RangeTicks(rng, d0, d1, r.invert, spacing)
	if err != nil {
		return FeeEstimate{}, err
	}
	startBlock, err := r.BlockByTimestamp(ctx, from)
	if err != nil {
		return FeeEstimate{}, err
	}
	endBlock, err := r.BlockByTimestamp(ctx, to)
	if err != nil {
		return FeeEstimate{}, err
	}
	if endBlock <= startBlock {
		return FeeEstimate{}, fmt.Errorf("%w: window %s to %s falls within block %d", ports.ErrInvalidRequest,
			from.Format(time.RFC3339), to.Format(time.RFC3339), startBlock)
	}
	start, err := r.FeeGrowthSnapshot(ctx, startBlock, lower, upper)
	if err != nil {
		return FeeEstimate{}, err
	}
	end, err := r.FeeGrowthSnapshot(ctx, endBlock, lower, upper)
	if err != nil {
		return FeeEstimate{}, err
	}
	est, err := EstimateFees(start, end, rng.Liquidity, d0, d1, r.invert)
	if err != nil {
		return FeeEstimate{}, err
	}
	r.logger.Debug(ctx, "Estimated on-chain range fees", map[string]interface{}{
		"fromBlock": startBlock, "toBlock": endBlock, "lowerTick": lower, "upperTick": upper,
		"fees": est.QuoteFees.StringFixed(6),
	})
	return est, nil
}

// RangeFees implements ports.FeeOracle.
func (r *Reader) RangeFees(ctx context.Context, rng domain.PositionRange, from, to time.Time) (decimal.Decimal, error) {
	est, err := r.EstimateRangeFees(ctx, rng, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return est.QuoteFees, nil
}
