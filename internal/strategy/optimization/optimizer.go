package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
	"lpRebalancer/internal/strategy/analytics"
	"lpRebalancer/internal/strategy/backtesting"
)

// Tunable parameter names.
const (
	ParamBufferPct         = "buffer_pct"
	ParamWickThresholdPct  = "wick_threshold_pct"
	ParamWickWindowSeconds = "wick_window_seconds"
	ParamCooldownSeconds   = "cooldown_seconds"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Config     strategy.Config
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Base            backtesting.BacktestConfig // Values not swept come from here
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	Concurrency     int // Zero uses GOMAXPROCS
}

// Optimizer sweeps engine parameters over a fixed sample history.
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) (*Optimizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("%w: no parameter ranges to optimize", ports.ErrConfigurationError)
	}
	for _, r := range config.ParameterRanges {
		switch r.Name {
		case ParamBufferPct, ParamWickThresholdPct, ParamWickWindowSeconds, ParamCooldownSeconds:
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ports.ErrConfigurationError, r.Name)
		}
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("%w: invalid range for %s", ports.ErrConfigurationError, r.Name)
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config, logger: logger}, nil
}

// Optimize backtests every parameter combination and returns the results
// sorted by score, best first. Combinations that fail validation are skipped.
func (o *Optimizer) Optimize(ctx context.Context, samples []domain.PriceSample) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	slots := make([]*OptimizationResult, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for i, params := range combinations {
		i, params := i, params
		g.Go(func() error {
			cfg := o.config.Base
			cfg.Strategy = applyParams(cfg.Strategy, params)
			if err := cfg.Strategy.Validate(); err != nil {
				o.logger.Debug(gctx, "Skipping invalid parameter combination", map[string]interface{}{"params": params, "error": err.Error()})
				return nil
			}

			result, err := backtesting.Backtest(gctx, samples, cfg, o.logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return fmt.Errorf("backtest with %v: %w", params, err)
			}

			slots[i] = &OptimizationResult{
				Parameters: params,
				Config:     cfg.Strategy,
				Metrics:    result.Metrics,
				Score:      o.config.ScoreFunction(result.Metrics),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]OptimizationResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}

	// Stable so ties keep generation order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	o.logger.Info(ctx, "Parameter sweep finished", map[string]interface{}{
		"combinations": len(combinations),
		"evaluated":    len(results),
	})
	return results, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		steps := int(math.Floor((param.Max-param.Min)/param.Step + 1e-9))
		for i := 0; i <= steps; i++ {
			value := param.Min + float64(i)*param.Step
			if param.IsInt {
				value = math.Round(value)
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// applyParams overrides the swept fields of base.
func applyParams(base strategy.Config, params map[string]float64) strategy.Config {
	cfg := base
	for name, v := range params {
		switch name {
		case ParamBufferPct:
			cfg.BufferPct = v
		case ParamWickThresholdPct:
			cfg.WickThresholdPct = v
		case ParamWickWindowSeconds:
			cfg.WickWindowSeconds = int(math.Round(v))
		case ParamCooldownSeconds:
			cfg.CooldownSeconds = int(math.Round(v))
		}
	}
	return cfg
}

// DefaultScoreFunction rewards fee income and return, and penalizes drawdown
// and churn.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0

	score += metrics.ReturnOnInvestment * 0.5
	score += metrics.FeeAPR * 0.3
	score += (1 - metrics.MaxDrawdown) * 0.2
	if metrics.Positions > 0 {
		score -= float64(metrics.Rebalances) / float64(metrics.Positions) * 0.01
	}

	return score
}
