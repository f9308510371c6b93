package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
	"lpRebalancer/internal/strategy/fees"
)

// PoolSpec is everything needed to run one engine.
type PoolSpec struct {
	Name             string
	Symbol           string
	Interval         string
	PoolAddress      string
	InvertPrice      bool
	SimPoolLiquidity float64
	Engine           strategy.Config
}

// poolsFile mirrors the TOML layout:
//
//	[[pool]]
//	name = "ETHUSDC-30"
//	symbol = "ETHUSDT"
//	buffer_pct = 4.0
//	initial_capital = "2500"
//
// Unset keys inherit the environment defaults.
type poolsFile struct {
	Pool []poolEntry `toml:"pool"`
}

type poolEntry struct {
	Name             string           `toml:"name"`
	Symbol           *string          `toml:"symbol"`
	Interval         *string          `toml:"interval"`
	PoolAddress      *string          `toml:"pool_address"`
	InvertPrice      *bool            `toml:"invert_price"`
	SimPoolLiquidity *float64         `toml:"sim_pool_liquidity"`
	BufferPct        *float64         `toml:"buffer_pct"`
	WickThresholdPct *float64         `toml:"wick_threshold_pct"`
	WickWindow       *int             `toml:"wick_window_seconds"`
	Cooldown         *int             `toml:"cooldown_seconds"`
	InitialCapital   *decimal.Decimal `toml:"initial_capital"`
	FeeTierBps       *int             `toml:"fee_tier_bps"`
	SlippagePct      *float64         `toml:"slippage_pct"`
	SharePolicy      *string          `toml:"fee_share_policy"`
}

// LoadPools reads a multi-pool TOML file. Every pool starts from defaults and
// overrides the keys it sets. Unknown keys, duplicate names and invalid
// engine parameters are rejected.
func LoadPools(path string, defaults PoolSpec) ([]PoolSpec, error) {
	var file poolsFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading pools file %s: %w", ports.ErrConfigurationError, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ports.ErrConfigurationError, path, strings.Join(keys, ", "))
	}
	if len(file.Pool) == 0 {
		return nil, fmt.Errorf("%w: %s defines no [[pool]] entries", ports.ErrConfigurationError, path)
	}

	var errs []string
	seen := make(map[string]bool, len(file.Pool))
	specs := make([]PoolSpec, 0, len(file.Pool))
	for i, entry := range file.Pool {
		spec := entry.apply(defaults)
		if spec.Name == "" {
			errs = append(errs, fmt.Sprintf("pool %d: name must be set", i+1))
			continue
		}
		if seen[spec.Name] {
			errs = append(errs, fmt.Sprintf("pool %q defined twice", spec.Name))
			continue
		}
		seen[spec.Name] = true
		if spec.Symbol == "" {
			errs = append(errs, fmt.Sprintf("pool %q: symbol must be set", spec.Name))
		}
		if spec.SimPoolLiquidity < 0 {
			errs = append(errs, fmt.Sprintf("pool %q: sim_pool_liquidity cannot be negative", spec.Name))
		}
		if err := spec.Engine.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("pool %q: %v", spec.Name, err))
		}
		specs = append(specs, spec)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ports.ErrConfigurationError, path, strings.Join(errs, "; "))
	}
	return specs, nil
}

func (e poolEntry) apply(defaults PoolSpec) PoolSpec {
	spec := defaults
	spec.Name = e.Name
	setIf(&spec.Symbol, e.Symbol)
	setIf(&spec.Interval, e.Interval)
	setIf(&spec.PoolAddress, e.PoolAddress)
	setIf(&spec.InvertPrice, e.InvertPrice)
	setIf(&spec.SimPoolLiquidity, e.SimPoolLiquidity)
	setIf(&spec.Engine.BufferPct, e.BufferPct)
	setIf(&spec.Engine.WickThresholdPct, e.WickThresholdPct)
	setIf(&spec.Engine.WickWindowSeconds, e.WickWindow)
	setIf(&spec.Engine.CooldownSeconds, e.Cooldown)
	setIf(&spec.Engine.InitialCapital, e.InitialCapital)
	setIf(&spec.Engine.FeeTierBps, e.FeeTierBps)
	setIf(&spec.Engine.SlippagePct, e.SlippagePct)
	if e.SharePolicy != nil {
		spec.Engine.SharePolicy = fees.SharePolicy(*e.SharePolicy)
	}
	return spec
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
