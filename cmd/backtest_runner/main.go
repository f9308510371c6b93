package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"lpRebalancer/config"
	"lpRebalancer/internal/adapters/logger"
	"lpRebalancer/internal/adapters/sqlite"
	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/strategy/backtesting"
	"lpRebalancer/internal/strategy/optimization"
	"lpRebalancer/internal/utils"
)

func main() {
	csvFile := flag.String("csv", "", "Kline CSV written by fetch_klines (required)")
	liquidity := flag.Float64("liquidity", 0, "Pool liquidity assumed for every sample; zero uses SIM_POOL_LIQUIDITY")
	optimize := flag.Bool("optimize", false, "Sweep buffer, wick and cooldown parameters instead of a single run")
	top := flag.Int("top", 5, "Number of sweep results to report")
	persist := flag.Bool("persist", false, "Append the run's ledger entries and events to DB_PATH")
	out := flag.String("out", "", "Write the run's ledger entries to this CSV file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()

	if *csvFile == "" {
		log.Fatalf("FATAL: -csv is required")
	}

	// 2. Load klines
	klines, err := utils.ReadKlinesFromCSV(*csvFile)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading klines", map[string]interface{}{"file": *csvFile})
		log.Fatalf("Error loading klines: %v", err)
	}
	if len(klines) == 0 {
		log.Fatalf("No klines in %s", *csvFile)
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"file": *csvFile, "count": len(klines)})

	poolName := cfg.PoolName
	if poolName == cfg.Symbol {
		poolName = strings.TrimSuffix(filepath.Base(*csvFile), filepath.Ext(*csvFile))
	}
	fallback := cfg.SimPoolLiquidity
	if *liquidity > 0 {
		fallback = *liquidity
	}
	btConfig := backtesting.BacktestConfig{
		Pool:          poolName,
		StartTime:     klines[0].CloseTime,
		EndTime:       klines[len(klines)-1].CloseTime,
		Strategy:      cfg.Engine,
		PoolLiquidity: fallback,
	}
	if fallback <= 0 {
		appLogger.Warn(ctx, "No pool liquidity assumed: fees accrue only on samples with liquidity readings", nil)
	}

	// 3. Sweep or single run
	if *optimize {
		runSweep(ctx, btConfig, klines, *top, appLogger)
		return
	}

	result, err := backtesting.BacktestKlines(ctx, klines, btConfig, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "Backtest error")
		log.Fatalf("Backtest error: %v", err)
	}

	m := result.Metrics
	appLogger.Info(ctx, "Backtest result", map[string]interface{}{
		"pool":         poolName,
		"samples":      result.Stats.Samples,
		"positions":    m.Positions,
		"rebalances":   m.Rebalances,
		"events":       len(result.Events),
		"accruedFees":  m.TotalAccruedFees.StringFixed(4),
		"realizedFees": m.TotalRealizedFees.StringFixed(4),
		"finalCapital": m.FinalCapital.StringFixed(2),
		"roiPct":       m.ReturnOnInvestment * 100,
		"feeAprPct":    m.FeeAPR * 100,
		"maxDrawdown":  m.MaxDrawdown,
		"avgLifetime":  m.AveragePositionLifetime.String(),
		"holds":        result.Stats.Decisions[domain.DecisionHold],
	})
	for _, mf := range m.GetMonthlyFees() {
		fmt.Printf("%s  fees %s\n", mf.Month.Format("2006-01"), mf.Fees.StringFixed(4))
	}

	if *out != "" {
		if err := utils.WriteLedgerToCSV(result.Entries, *out); err != nil {
			appLogger.Error(ctx, err, "Error writing ledger CSV")
		} else {
			appLogger.Info(ctx, "Ledger saved to", map[string]interface{}{"filename": *out})
		}
	}

	if *persist {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to open ledger repository")
			log.Fatalf("FATAL: Failed to open ledger repository: %v", err)
		}
		defer repo.Close()
		for _, e := range result.Entries {
			if _, err := repo.Append(ctx, e); err != nil {
				log.Fatalf("Error persisting ledger entry: %v", err)
			}
		}
		for i := range result.Events {
			if _, err := repo.AppendEvent(ctx, &result.Events[i]); err != nil {
				log.Fatalf("Error persisting event: %v", err)
			}
		}
		appLogger.Info(ctx, "Backtest ledger persisted", map[string]interface{}{"db": cfg.DBPath, "entries": len(result.Entries)})
	}
}

// runSweep backtests a grid around the configured parameters and prints the
// best combinations.
func runSweep(ctx context.Context, base backtesting.BacktestConfig, klines []*domain.Kline, top int, appLogger *logger.ZapLogger) {
	samples := make([]domain.PriceSample, 0, len(klines))
	for _, k := range klines {
		samples = append(samples, domain.SampleFromKline(k))
	}

	// Individual runs log at warn so the sweep summary stays readable.
	quiet, err := logger.NewZapLogger(logger.LevelWarn)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize sweep logger: %v", err)
	}

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: []optimization.ParameterRange{
			{Name: optimization.ParamBufferPct, Min: 1, Max: 10, Step: 1},
			{Name: optimization.ParamWickThresholdPct, Min: 2, Max: 10, Step: 2},
			{Name: optimization.ParamWickWindowSeconds, Min: 60, Max: 300, Step: 120, IsInt: true},
			{Name: optimization.ParamCooldownSeconds, Min: 0, Max: 1800, Step: 600, IsInt: true},
		},
		Base: base,
	}, quiet)
	if err != nil {
		log.Fatalf("FATAL: Failed to create optimizer: %v", err)
	}

	results, err := optimizer.Optimize(ctx, samples)
	if err != nil {
		appLogger.Error(ctx, err, "Parameter sweep failed")
		log.Fatalf("Parameter sweep failed: %v", err)
	}

	if top > len(results) {
		top = len(results)
	}
	for i, r := range results[:top] {
		appLogger.Info(ctx, "Sweep result", map[string]interface{}{
			"rank":         i + 1,
			"score":        r.Score,
			"bufferPct":    r.Config.BufferPct,
			"wickPct":      r.Config.WickThresholdPct,
			"wickWindow":   r.Config.WickWindowSeconds,
			"cooldown":     r.Config.CooldownSeconds,
			"rebalances":   r.Metrics.Rebalances,
			"realizedFees": r.Metrics.TotalRealizedFees.StringFixed(4),
			"roiPct":       r.Metrics.ReturnOnInvestment * 100,
			"maxDrawdown":  r.Metrics.MaxDrawdown,
		})
	}
}
