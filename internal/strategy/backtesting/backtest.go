package backtesting

import (
	"context"
	"fmt"
	"time"

	"lpRebalancer/internal/adapters/memory"
	"lpRebalancer/internal/adapters/pricefeed"
	"lpRebalancer/internal/adapters/simpool"
	"lpRebalancer/internal/app"
	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
	"lpRebalancer/internal/strategy/analytics"
	"lpRebalancer/internal/strategy/ranges"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Pool      string
	StartTime time.Time // Zero replays from the first sample
	EndTime   time.Time // Zero replays to the last sample
	Strategy  strategy.Config
	// PoolLiquidity is the simulator's fallback for samples without a
	// liquidity reading.
	PoolLiquidity float64
	// KeepOpen leaves the last position open instead of closing it with
	// SHUTDOWN at the end of the replay.
	KeepOpen bool
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	Decisions  []domain.Decision // Structural decisions in the order emitted
	Entries    []*domain.LedgerEntry
	Events     []domain.Event
	Valuations []analytics.ValuePoint // One mark-to-market point per processed sample
	Stats      app.Stats
	FinalState strategy.State
	Metrics    *analytics.PerformanceMetrics
}

// Backtest replays samples through the same service loop used live, against
// a simulated pool and an in-memory ledger.
func Backtest(ctx context.Context, samples []domain.PriceSample, config BacktestConfig, logger ports.Logger) (*BacktestResult, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to backtest")
	}
	pool := config.Pool
	if pool == "" {
		pool = "backtest"
	}

	engine, err := strategy.NewEngine(pool, config.Strategy, logger)
	if err != nil {
		return nil, err
	}
	sim, err := simpool.New(simpool.Config{
		Pool:          pool,
		FeeTierBps:    config.Strategy.FeeTierBps,
		SharePolicy:   config.Strategy.SharePolicy,
		PoolLiquidity: config.PoolLiquidity,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	ledger := memory.NewLedger()

	feed := pricefeed.NewSliceFeed(samples)
	if !config.StartTime.IsZero() {
		feed.Seek(config.StartTime)
	}
	var source ports.PriceFeed = feed
	if !config.EndTime.IsZero() {
		source = &untilFeed{inner: feed, end: config.EndTime}
	}

	svc, err := app.NewRebalanceService(engine, source, sim, ledger, logger, app.ServiceConfig{CloseOnExit: !config.KeepOpen})
	if err != nil {
		return nil, err
	}

	result := &BacktestResult{}
	svc.OnDecision(func(d domain.Decision) {
		if d.IsStructural() {
			result.Decisions = append(result.Decisions, d)
		}
		// The shutdown close repeats the last sample's valuation.
		if d.Kind != domain.DecisionClose {
			result.Valuations = append(result.Valuations, markToMarket(engine.Snapshot(), d))
		}
	})

	if err := svc.Run(ctx); err != nil {
		return nil, fmt.Errorf("backtest of %s failed: %w", pool, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := ledger.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	result.Entries = entries
	result.Events = ledger.Events()
	result.Stats = svc.Stats()
	result.FinalState = engine.Snapshot()
	result.Metrics = analytics.AnalyzePerformance(entries, config.Strategy.InitialCapital)
	result.Metrics.ApplyValuations(result.Valuations)
	return result, nil
}

// markToMarket values the engine state at a decision's sample, before the
// decision is executed.
func markToMarket(st strategy.State, d domain.Decision) analytics.ValuePoint {
	p := analytics.ValuePoint{Time: d.Timestamp, Price: d.Price, Rebalance: d.Kind == domain.DecisionRebalance}
	if st.Position != nil {
		p.Value = ranges.PositionValue(st.Position.Range, d.Price) + st.Position.AccruedFees.InexactFloat64()
	} else {
		p.Value = st.Capital.InexactFloat64()
	}
	return p
}

// BacktestKlines replays exchange candles, one sample per kline close.
func BacktestKlines(ctx context.Context, klines []*domain.Kline, config BacktestConfig, logger ports.Logger) (*BacktestResult, error) {
	samples := make([]domain.PriceSample, 0, len(klines))
	for _, k := range klines {
		if k != nil {
			samples = append(samples, domain.SampleFromKline(k))
		}
	}
	return Backtest(ctx, samples, config, logger)
}

// untilFeed ends the inner feed at the first sample after end.
type untilFeed struct {
	inner ports.PriceFeed
	end   time.Time
}

func (f *untilFeed) Next(ctx context.Context) (domain.PriceSample, error) {
	s, err := f.inner.Next(ctx)
	if err != nil {
		return s, err
	}
	if s.Timestamp.After(f.end) {
		return domain.PriceSample{}, ports.ErrFeedExhausted
	}
	return s, nil
}
