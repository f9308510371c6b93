package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy/fees"
	"lpRebalancer/internal/strategy/ranges"
)

// Decision reasons.
const (
	ReasonCooldown   = "cooldown"
	ReasonNoPosition = "no_position"
	ReasonInRange    = "in_range"
	ReasonOutOfRange = "out_of_range"
	ReasonShutdown   = "shutdown"
)

// DefaultSlippagePct matches the conversion loss assumed when a position is
// unwound into the quote token.
const DefaultSlippagePct = 0.1

// Config holds the rebalancing parameters of one engine. It is immutable for
// the engine's lifetime.
type Config struct {
	BufferPct         float64         // Half-width of a new range around the price, in percent
	WickThresholdPct  float64         // Move across the wick window that counts as a wick, in percent
	WickWindowSeconds int             // Span of the wick detection window
	CooldownSeconds   int             // Rebalance suppression after a wick
	InitialCapital    decimal.Decimal // Quote capital deployed into the first position
	FeeTierBps        int             // Pool fee tier, e.g. 30 for 0.3%
	SlippagePct       float64         // Loss applied when marking a closing position to market
	SharePolicy       fees.SharePolicy
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []string

	if c.BufferPct <= 0 {
		errs = append(errs, "buffer percent must be positive")
	} else if c.BufferPct >= 100 {
		errs = append(errs, "buffer percent must be below 100")
	}
	if c.WickThresholdPct <= 0 {
		errs = append(errs, "wick threshold percent must be positive")
	}
	if c.WickWindowSeconds <= 0 {
		errs = append(errs, "wick window seconds must be positive")
	}
	if c.CooldownSeconds < 0 {
		errs = append(errs, "cooldown seconds cannot be negative")
	}
	if !c.InitialCapital.IsPositive() {
		errs = append(errs, "initial capital must be positive")
	}
	if c.FeeTierBps < 0 {
		errs = append(errs, "fee tier bps cannot be negative")
	}
	if c.SlippagePct < 0 || c.SlippagePct >= 100 {
		errs = append(errs, "slippage percent must be in [0, 100)")
	}
	if _, err := fees.ParseSharePolicy(string(c.SharePolicy)); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return nil
}

// WickWindow returns the wick window as a duration.
func (c Config) WickWindow() time.Duration {
	return time.Duration(c.WickWindowSeconds) * time.Second
}

// Cooldown returns the cooldown period as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// State is the engine's tagged state: a phase crossed with the cooldown flag.
type State struct {
	Phase        domain.Phase
	Position     *domain.Position // Non-nil exactly when Phase is ACTIVE
	Cooldown     domain.CooldownState
	Capital      decimal.Decimal // Capital available for the next position
	LastSampleAt time.Time
	LastPrice    float64
	Samples      int
}

// Decide derives the decision for sample from state and config. It never
// mutates its inputs, so identical inputs always produce identical decisions.
func Decide(pool string, st State, sample domain.PriceSample, verdict domain.WickVerdict, cooldownActive bool, cfg Config) (domain.Decision, error) {
	d := domain.Decision{
		Kind:           domain.DecisionHold,
		Pool:           pool,
		Timestamp:      sample.Timestamp,
		Price:          sample.Price,
		Wick:           verdict,
		CooldownActive: cooldownActive,
	}

	if cooldownActive {
		d.Reason = ReasonCooldown
		return d, nil
	}

	switch st.Phase {
	case domain.PhaseIdle:
		rng, err := ranges.ComputeRange(sample.Price, st.Capital, cfg.BufferPct)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("computing opening range: %w", err)
		}
		d.Kind = domain.DecisionOpen
		d.NewRange = &rng
		d.Capital = st.Capital
		d.Reason = ReasonNoPosition

	case domain.PhaseActive:
		pos := st.Position
		if pos == nil {
			return domain.Decision{}, fmt.Errorf("%w: active phase without a position", ports.ErrInvalidRequest)
		}
		if pos.Range.Contains(sample.Price) {
			d.Reason = ReasonInRange
			return d, nil
		}
		capital := ExitCapital(pos, sample.Price, cfg.SlippagePct)
		rng, err := ranges.ComputeRange(sample.Price, capital, cfg.BufferPct)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("computing rebalance range: %w", err)
		}
		old := pos.Range
		d.Kind = domain.DecisionRebalance
		d.OldRange = &old
		d.NewRange = &rng
		d.Capital = capital
		d.CloseReason = domain.CloseReasonRebalance
		d.Reason = ReasonOutOfRange

	default:
		return domain.Decision{}, fmt.Errorf("%w: unknown phase %q", ports.ErrInvalidRequest, st.Phase)
	}
	return d, nil
}

// ExitValue marks pos to market at price and applies slippage. Fees are not included.
func ExitValue(pos *domain.Position, price, slippagePct float64) decimal.Decimal {
	value := ranges.PositionValue(pos.Range, price) * (1 - slippagePct/100)
	return decimal.NewFromFloat(value)
}

// ExitCapital is the capital recovered by closing pos at price: its exit
// value plus the fees accrued so far.
func ExitCapital(pos *domain.Position, price, slippagePct float64) decimal.Decimal {
	return ExitValue(pos, price, slippagePct).Add(pos.AccruedFees)
}
