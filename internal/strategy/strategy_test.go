package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy/fees"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func validConfig() Config {
	return Config{
		BufferPct:         5,
		WickThresholdPct:  10,
		WickWindowSeconds: 60,
		CooldownSeconds:   300,
		InitialCapital:    decimal.NewFromInt(1000),
		FeeTierBps:        30,
		SlippagePct:       DefaultSlippagePct,
		SharePolicy:       fees.ShareInstant,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero cooldown allowed", mutate: func(c *Config) { c.CooldownSeconds = 0 }},
		{name: "zero buffer", mutate: func(c *Config) { c.BufferPct = 0 }, wantErr: "buffer percent must be positive"},
		{name: "buffer too wide", mutate: func(c *Config) { c.BufferPct = 100 }, wantErr: "buffer percent must be below 100"},
		{name: "negative threshold", mutate: func(c *Config) { c.WickThresholdPct = -1 }, wantErr: "wick threshold"},
		{name: "zero window", mutate: func(c *Config) { c.WickWindowSeconds = 0 }, wantErr: "wick window"},
		{name: "negative cooldown", mutate: func(c *Config) { c.CooldownSeconds = -5 }, wantErr: "cooldown seconds"},
		{name: "zero capital", mutate: func(c *Config) { c.InitialCapital = decimal.Zero }, wantErr: "initial capital"},
		{name: "negative fee tier", mutate: func(c *Config) { c.FeeTierBps = -1 }, wantErr: "fee tier"},
		{name: "slippage out of bounds", mutate: func(c *Config) { c.SlippagePct = 100 }, wantErr: "slippage"},
		{name: "unknown share policy", mutate: func(c *Config) { c.SharePolicy = "weekly" }, wantErr: "weekly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidateReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.BufferPct = 0
	cfg.WickWindowSeconds = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer percent")
	assert.Contains(t, err.Error(), "wick window")
}

func TestDecide(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0).UTC()
	cfg := validConfig()
	active := &domain.Position{
		Range:           domain.PositionRange{LowerPrice: 95, UpperPrice: 105, Liquidity: 2000},
		CapitalDeployed: decimal.NewFromInt(1000),
		AccruedFees:     decimal.NewFromFloat(1.5),
	}

	tests := []struct {
		name     string
		state    State
		price    float64
		cooldown bool
		wantKind domain.DecisionKind
		reason   string
	}{
		{name: "idle opens", state: State{Phase: domain.PhaseIdle, Capital: cfg.InitialCapital}, price: 100, wantKind: domain.DecisionOpen, reason: ReasonNoPosition},
		{name: "idle in cooldown holds", state: State{Phase: domain.PhaseIdle, Capital: cfg.InitialCapital}, price: 100, cooldown: true, wantKind: domain.DecisionHold, reason: ReasonCooldown},
		{name: "active in range holds", state: State{Phase: domain.PhaseActive, Position: active}, price: 100, wantKind: domain.DecisionHold, reason: ReasonInRange},
		{name: "upper bound is out of range", state: State{Phase: domain.PhaseActive, Position: active}, price: 105, wantKind: domain.DecisionRebalance, reason: ReasonOutOfRange},
		{name: "active below range rebalances", state: State{Phase: domain.PhaseActive, Position: active}, price: 90, wantKind: domain.DecisionRebalance, reason: ReasonOutOfRange},
		{name: "active out of range in cooldown holds", state: State{Phase: domain.PhaseActive, Position: active}, price: 130, cooldown: true, wantKind: domain.DecisionHold, reason: ReasonCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := domain.PriceSample{Timestamp: ts, Price: tt.price}
			d, err := Decide("pool", tt.state, sample, domain.WickVerdict{}, tt.cooldown, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.cooldown, d.CooldownActive)
			assert.Equal(t, ts, d.Timestamp)

			switch d.Kind {
			case domain.DecisionOpen:
				require.NotNil(t, d.NewRange)
				assert.Nil(t, d.OldRange)
				assert.True(t, d.Capital.Equal(cfg.InitialCapital))
			case domain.DecisionRebalance:
				require.NotNil(t, d.NewRange)
				require.NotNil(t, d.OldRange)
				assert.Equal(t, active.Range, *d.OldRange)
				assert.InDelta(t, tt.price*0.95, d.NewRange.LowerPrice, 1e-9)
				assert.InDelta(t, tt.price*1.05, d.NewRange.UpperPrice, 1e-9)
				assert.Equal(t, domain.CloseReasonRebalance, d.CloseReason)
				assert.True(t, d.Capital.Equal(ExitCapital(active, tt.price, cfg.SlippagePct)))
			default:
				assert.Nil(t, d.NewRange)
			}
		})
	}
}

func TestDecideDoesNotMutateState(t *testing.T) {
	cfg := validConfig()
	pos := &domain.Position{
		Range:       domain.PositionRange{LowerPrice: 95, UpperPrice: 105, Liquidity: 2000},
		AccruedFees: decimal.NewFromInt(2),
	}
	st := State{Phase: domain.PhaseActive, Position: pos}
	before := *pos

	sample := domain.PriceSample{Timestamp: time.Unix(10, 0), Price: 120}
	first, err := Decide("pool", st, sample, domain.WickVerdict{}, false, cfg)
	require.NoError(t, err)
	second, err := Decide("pool", st, sample, domain.WickVerdict{}, false, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, *pos)
	assert.Equal(t, domain.PhaseActive, st.Phase)
}

func TestDecideInvalidRange(t *testing.T) {
	cfg := validConfig()
	st := State{Phase: domain.PhaseIdle, Capital: decimal.Zero}

	_, err := Decide("pool", st, domain.PriceSample{Timestamp: time.Unix(0, 0), Price: 100}, domain.WickVerdict{}, false, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRange)
	assert.True(t, ports.IsFatal(err))
}

func TestExitCapitalIncludesFees(t *testing.T) {
	pos := &domain.Position{
		Range:       domain.PositionRange{LowerPrice: 95, UpperPrice: 105, Liquidity: 2000},
		AccruedFees: decimal.NewFromInt(3),
	}

	noSlip := ExitValue(pos, 100, 0)
	withSlip := ExitValue(pos, 100, 1)
	assert.True(t, withSlip.LessThan(noSlip))
	assert.InDelta(t, noSlip.InexactFloat64()*0.99, withSlip.InexactFloat64(), 1e-6)
	assert.True(t, ExitCapital(pos, 100, 1).Equal(withSlip.Add(decimal.NewFromInt(3))))
}
