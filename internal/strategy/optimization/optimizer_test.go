package optimization

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
	"lpRebalancer/internal/strategy/analytics"
	"lpRebalancer/internal/strategy/backtesting"
	"lpRebalancer/internal/strategy/fees"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func baseConfig() backtesting.BacktestConfig {
	return backtesting.BacktestConfig{
		Pool: "ETHUSDC",
		Strategy: strategy.Config{
			BufferPct:         5,
			WickThresholdPct:  10,
			WickWindowSeconds: 60,
			CooldownSeconds:   300,
			InitialCapital:    decimal.NewFromInt(1000),
			FeeTierBps:        30,
			SlippagePct:       strategy.DefaultSlippagePct,
			SharePolicy:       fees.ShareInstant,
		},
	}
}

// oscillating produces a slow sine around 100 sampled every minute.
func oscillating(n int) []domain.PriceSample {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PriceSample, n)
	for i := range out {
		out[i] = domain.PriceSample{
			Timestamp:     t0.Add(time.Duration(i) * time.Minute),
			Price:         100 + 8*math.Sin(float64(i)/10),
			Volume:        5000,
			PoolLiquidity: 1e6,
		}
	}
	return out
}

func TestOptimizer(t *testing.T) {
	optimizer, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{
			{Name: ParamBufferPct, Min: 2, Max: 6, Step: 2},
			{Name: ParamCooldownSeconds, Min: 0, Max: 300, Step: 300, IsInt: true},
		},
		Base:        baseConfig(),
		Concurrency: 2,
	}, &mockLogger{})
	require.NoError(t, err)

	results, err := optimizer.Optimize(context.Background(), oscillating(200))
	require.NoError(t, err)
	require.Len(t, results, 6) // 3 buffers * 2 cooldowns

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results not sorted by score")
	}
	for _, r := range results {
		require.NotNil(t, r.Metrics)
		assert.Equal(t, r.Parameters[ParamBufferPct], r.Config.BufferPct)
		assert.Equal(t, int(r.Parameters[ParamCooldownSeconds]), r.Config.CooldownSeconds)
		assert.Equal(t, 60, r.Config.WickWindowSeconds, "unswept values come from the base config")
	}

	// Narrower ranges rebalance at least as often on the same path.
	byBuffer := make(map[float64]int)
	for _, r := range results {
		if r.Config.CooldownSeconds == 0 {
			byBuffer[r.Config.BufferPct] = r.Metrics.Rebalances
		}
	}
	assert.GreaterOrEqual(t, byBuffer[2], byBuffer[6])
}

func TestOptimizerSkipsInvalidCombinations(t *testing.T) {
	optimizer, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: ParamBufferPct, Min: 0, Max: 4, Step: 2}},
		Base:            baseConfig(),
	}, &mockLogger{})
	require.NoError(t, err)

	results, err := optimizer.Optimize(context.Background(), oscillating(50))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestOptimizerCustomScore(t *testing.T) {
	optimizer, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: ParamWickThresholdPct, Min: 5, Max: 15, Step: 5}},
		Base:            baseConfig(),
		ScoreFunction: func(m *analytics.PerformanceMetrics) float64 {
			return -float64(m.Rebalances)
		},
	}, &mockLogger{})
	require.NoError(t, err)

	results, err := optimizer.Optimize(context.Background(), oscillating(100))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.LessOrEqual(t, results[0].Metrics.Rebalances, results[2].Metrics.Rebalances)
}

func TestOptimizerCancelled(t *testing.T) {
	optimizer, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: ParamBufferPct, Min: 2, Max: 4, Step: 1}},
		Base:            baseConfig(),
	}, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = optimizer.Optimize(ctx, oscillating(10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOptimizerValidation(t *testing.T) {
	tests := []struct {
		name   string
		ranges []ParameterRange
	}{
		{name: "no ranges"},
		{name: "unknown parameter", ranges: []ParameterRange{{Name: "leverage", Min: 1, Max: 2, Step: 1}}},
		{name: "zero step", ranges: []ParameterRange{{Name: ParamBufferPct, Min: 1, Max: 2}}},
		{name: "inverted", ranges: []ParameterRange{{Name: ParamBufferPct, Min: 3, Max: 2, Step: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptimizer(OptimizerConfig{ParameterRanges: tt.ranges, Base: baseConfig()}, &mockLogger{})
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}

	_, err := NewOptimizer(OptimizerConfig{ParameterRanges: []ParameterRange{{Name: ParamBufferPct, Min: 1, Max: 2, Step: 1}}}, nil)
	assert.Error(t, err)
}

func TestGenerateParameterCombinations(t *testing.T) {
	o := &Optimizer{config: OptimizerConfig{ParameterRanges: []ParameterRange{
		{Name: ParamWickWindowSeconds, Min: 30, Max: 60, Step: 30, IsInt: true},
		{Name: ParamWickThresholdPct, Min: 0.1, Max: 0.3, Step: 0.1},
	}}}

	combinations := o.generateParameterCombinations()
	require.Len(t, combinations, 6)
	assert.Equal(t, 30.0, combinations[0][ParamWickWindowSeconds])
	assert.InDelta(t, 0.1, combinations[0][ParamWickThresholdPct], 1e-12)
	assert.InDelta(t, 0.3, combinations[5][ParamWickThresholdPct], 1e-12)
	assert.Equal(t, 60.0, combinations[5][ParamWickWindowSeconds])
}

func TestApplyParams(t *testing.T) {
	cfg := applyParams(baseConfig().Strategy, map[string]float64{
		ParamBufferPct:         3,
		ParamWickThresholdPct:  7.5,
		ParamWickWindowSeconds: 120,
		ParamCooldownSeconds:   0,
	})
	assert.Equal(t, 3.0, cfg.BufferPct)
	assert.Equal(t, 7.5, cfg.WickThresholdPct)
	assert.Equal(t, 120, cfg.WickWindowSeconds)
	assert.Equal(t, 0, cfg.CooldownSeconds)
	assert.True(t, cfg.InitialCapital.Equal(decimal.NewFromInt(1000)))
}
