package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy/fees"
	"lpRebalancer/internal/strategy/wick"
)

// Step is the result of processing one price sample.
type Step struct {
	Decision domain.Decision
	FeeDelta decimal.Decimal
	Events   []domain.Event
}

// Outcome is the pool adapter's acknowledgement of a structural decision.
type Outcome struct {
	Handle       domain.PositionHandle // Handle of the newly opened position, if any
	CloseErr     error                 // Failure closing the old position (CLOSE, REBALANCE)
	OpenErr      error                 // Failure opening the new position (OPEN, REBALANCE)
	RealizedFees decimal.Decimal       // Fees reported by a successful close
}

// Transition is the result of applying an outcome.
type Transition struct {
	Entry  *domain.LedgerEntry // Set when a position was closed
	Events []domain.Event
}

// Engine is the rebalance state machine for one pool. It is single-threaded
// by construction: the caller feeds samples in timestamp order and applies
// the outcome of every structural decision before the next sample.
type Engine struct {
	pool    string
	cfg     Config
	logger  ports.Logger
	wick    *wick.Detector
	fees    *fees.Calculator
	state   State
	pending *domain.Decision
}

// NewEngine creates an idle engine. Invalid configuration fails here rather
// than at the first sample.
func NewEngine(pool string, cfg Config, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for rebalance engine")
	}
	if cfg.SharePolicy == "" {
		cfg.SharePolicy = fees.ShareInstant
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	detector, err := wick.NewDetector(wick.Config{
		ThresholdPct: cfg.WickThresholdPct,
		Window:       cfg.WickWindow(),
		Cooldown:     cfg.Cooldown(),
	})
	if err != nil {
		return nil, err
	}
	calc, err := fees.NewCalculator(cfg.FeeTierBps, cfg.SharePolicy)
	if err != nil {
		return nil, err
	}

	return &Engine{
		pool:   pool,
		cfg:    cfg,
		logger: logger,
		wick:   detector,
		fees:   calc,
		state: State{
			Phase:   domain.PhaseIdle,
			Capital: cfg.InitialCapital,
		},
	}, nil
}

// Pool returns the pool this engine manages.
func (e *Engine) Pool() string {
	return e.pool
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// OnPriceSample runs the transition function for sample. Out-of-order samples
// are rejected with ports.ErrOutOfOrderSample without touching state. A
// structural decision stays pending until Apply is called.
func (e *Engine) OnPriceSample(ctx context.Context, sample domain.PriceSample) (Step, error) {
	if e.pending != nil {
		return Step{}, fmt.Errorf("%w: %s decided at %s", ports.ErrDecisionPending, e.pending.Kind, e.pending.Timestamp.Format(time.RFC3339))
	}
	if err := validateSample(sample); err != nil {
		e.logger.Error(ctx, err, "Rejecting malformed price sample", map[string]interface{}{"pool": e.pool, "sampleTime": sample.Timestamp})
		return Step{}, err
	}
	if e.state.Samples > 0 && sample.Timestamp.Before(e.state.LastSampleAt) {
		e.logger.Warn(ctx, "Dropping out-of-order price sample", map[string]interface{}{
			"pool":          e.pool,
			"sampleTime":    sample.Timestamp,
			"lastProcessed": e.state.LastSampleAt,
		})
		return Step{}, fmt.Errorf("%w: sample at %s, last processed %s", ports.ErrOutOfOrderSample,
			sample.Timestamp.Format(time.RFC3339), e.state.LastSampleAt.Format(time.RFC3339))
	}

	verdict := e.wick.Classify(sample)
	e.state.Cooldown = e.wick.Cooldown()
	e.state.LastSampleAt = sample.Timestamp
	e.state.LastPrice = sample.Price
	e.state.Samples++
	cooldownActive := e.wick.CooldownActive(sample.Timestamp)

	step := Step{FeeDelta: decimal.Zero}
	if verdict.CooldownTriggered {
		e.logger.Info(ctx, "Wick detected, cooldown started", map[string]interface{}{
			"pool":         e.pool,
			"price":        sample.Price,
			"magnitudePct": verdict.MagnitudePct,
			"expiresAt":    e.state.Cooldown.ExpiresAt,
		})
		step.Events = append(step.Events, e.event(domain.EventCooldownStarted, sample.Timestamp,
			fmt.Sprintf("wick of %.2f%% from %.6f, cooldown until %s", verdict.MagnitudePct, verdict.ReferencePrice, e.state.Cooldown.ExpiresAt.Format(time.RFC3339)), nil))
	} else if verdict.IsWick {
		e.logger.Debug(ctx, "Wick during active cooldown", map[string]interface{}{"pool": e.pool, "magnitudePct": verdict.MagnitudePct})
	}

	decision, err := Decide(e.pool, e.state, sample, verdict, cooldownActive, e.cfg)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to derive decision", map[string]interface{}{"pool": e.pool, "price": sample.Price})
		return step, err
	}
	step.Decision = decision

	if decision.Kind == domain.DecisionHold && e.state.Phase == domain.PhaseActive {
		delta, err := e.fees.Accrue(e.state.Position, sample)
		switch {
		case errors.Is(err, ports.ErrMissingLiquidityData):
			e.logger.Warn(ctx, "Skipping fee accrual, pool liquidity unavailable", map[string]interface{}{"pool": e.pool, "sampleTime": sample.Timestamp})
			step.Events = append(step.Events, e.event(domain.EventMissingLiquidity, sample.Timestamp, "fee accrual skipped", err))
		case err != nil:
			return step, fmt.Errorf("accruing fees: %w", err)
		default:
			step.FeeDelta = delta
		}
	}

	if decision.IsStructural() {
		pending := decision
		e.pending = &pending
		e.logger.Info(ctx, "Structural decision emitted", map[string]interface{}{
			"pool":     e.pool,
			"kind":     decision.Kind,
			"price":    decision.Price,
			"newRange": formatRange(decision.NewRange),
			"oldRange": formatRange(decision.OldRange),
			"capital":  decision.Capital.StringFixed(2),
		})
	}
	return step, nil
}

// Pending returns the structural decision awaiting acknowledgement, if any.
func (e *Engine) Pending() (domain.Decision, bool) {
	if e.pending == nil {
		return domain.Decision{}, false
	}
	return *e.pending, true
}

// Apply applies the adapter's outcome for the pending structural decision.
//
// OPEN failure leaves the engine idle. A failed close during REBALANCE keeps
// the stale position active and never opens the new one; the next evaluation
// retries. A successful close followed by a failed open leaves it idle.
func (e *Engine) Apply(ctx context.Context, out Outcome) (Transition, error) {
	if e.pending == nil {
		return Transition{}, ports.ErrNoPendingDecision
	}
	d := *e.pending
	e.pending = nil

	var tr Transition
	fields := map[string]interface{}{"pool": e.pool, "kind": d.Kind, "price": d.Price}

	switch d.Kind {
	case domain.DecisionOpen:
		if out.OpenErr != nil {
			e.logger.Error(ctx, out.OpenErr, "Opening position failed, staying idle", fields)
			tr.Events = append(tr.Events, e.event(domain.EventAdapterError, d.Timestamp, "open failed", out.OpenErr))
			return tr, nil
		}
		e.openPosition(d, out.Handle)
		e.logger.Info(ctx, "Position opened", map[string]interface{}{
			"pool": e.pool, "handle": out.Handle.ID, "range": formatRange(d.NewRange), "capital": d.Capital.StringFixed(2),
		})

	case domain.DecisionRebalance, domain.DecisionClose:
		if out.CloseErr != nil {
			e.logger.Error(ctx, out.CloseErr, "Closing position failed, keeping stale range", fields)
			tr.Events = append(tr.Events, e.event(domain.EventAdapterError, d.Timestamp, "close failed", out.CloseErr))
			return tr, nil
		}
		entry := e.closePosition(d, out.RealizedFees)
		tr.Entry = entry
		if drift := entry.FeeDrift(); !drift.IsZero() {
			tr.Events = append(tr.Events, e.event(domain.EventFeeDrift, d.Timestamp,
				fmt.Sprintf("realized %s vs accrued %s (drift %s)", entry.RealizedFees.StringFixed(6), entry.AccruedFees.StringFixed(6), drift.StringFixed(6)), nil))
		}
		e.logger.Info(ctx, "Position closed", map[string]interface{}{
			"pool": e.pool, "handle": entry.HandleID, "reason": entry.CloseReason,
			"accruedFees": entry.AccruedFees.StringFixed(6), "realizedFees": entry.RealizedFees.StringFixed(6),
		})

		if d.Kind == domain.DecisionClose {
			return tr, nil
		}
		if out.OpenErr != nil {
			e.logger.Error(ctx, out.OpenErr, "Re-opening after rebalance failed, now idle", fields)
			tr.Events = append(tr.Events, e.event(domain.EventAdapterError, d.Timestamp, "open after close failed", out.OpenErr))
			return tr, nil
		}
		e.openPosition(d, out.Handle)
		e.logger.Info(ctx, "Position rebalanced", map[string]interface{}{
			"pool": e.pool, "handle": out.Handle.ID, "range": formatRange(d.NewRange), "capital": d.Capital.StringFixed(2),
		})

	default:
		return tr, fmt.Errorf("%w: %s is not structural", ports.ErrInvalidRequest, d.Kind)
	}
	return tr, nil
}

// Shutdown emits a CLOSE decision for the active position, stamped with the
// last processed sample. It returns false when there is nothing to close.
func (e *Engine) Shutdown(ctx context.Context) (domain.Decision, bool, error) {
	if e.pending != nil {
		return domain.Decision{}, false, fmt.Errorf("%w: %s decided at %s", ports.ErrDecisionPending, e.pending.Kind, e.pending.Timestamp.Format(time.RFC3339))
	}
	if e.state.Phase != domain.PhaseActive || e.state.Position == nil {
		return domain.Decision{}, false, nil
	}

	old := e.state.Position.Range
	d := domain.Decision{
		Kind:           domain.DecisionClose,
		Pool:           e.pool,
		Timestamp:      e.state.LastSampleAt,
		Price:          e.state.LastPrice,
		OldRange:       &old,
		Capital:        ExitCapital(e.state.Position, e.state.LastPrice, e.cfg.SlippagePct),
		CloseReason:    domain.CloseReasonShutdown,
		CooldownActive: e.wick.CooldownActive(e.state.LastSampleAt),
		Reason:         ReasonShutdown,
	}
	e.pending = &d
	e.logger.Info(ctx, "Shutdown close emitted", map[string]interface{}{"pool": e.pool, "price": d.Price, "range": formatRange(&old)})
	return d, true, nil
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() State {
	st := e.state
	if st.Position != nil {
		pos := *st.Position
		st.Position = &pos
	}
	return st
}

func (e *Engine) openPosition(d domain.Decision, handle domain.PositionHandle) {
	e.state.Position = &domain.Position{
		Handle:          handle,
		Range:           *d.NewRange,
		OpenedAt:        d.Timestamp,
		OpenPrice:       d.Price,
		CapitalDeployed: d.Capital,
		AccruedFees:     decimal.Zero,
		LastAccrualAt:   d.Timestamp,
	}
	e.state.Phase = domain.PhaseActive
	e.state.Capital = d.Capital
}

func (e *Engine) closePosition(d domain.Decision, realized decimal.Decimal) *domain.LedgerEntry {
	pos := e.state.Position
	exit := ExitValue(pos, d.Price, e.cfg.SlippagePct)

	entry := &domain.LedgerEntry{
		Pool:            e.pool,
		HandleID:        pos.Handle.ID,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        d.Timestamp,
		Range:           pos.Range,
		OpenPrice:       pos.OpenPrice,
		ClosePrice:      d.Price,
		CapitalDeployed: pos.CapitalDeployed,
		ExitValue:       exit,
		AccruedFees:     pos.AccruedFees,
		RealizedFees:    realized,
		CloseReason:     d.CloseReason,
	}

	e.state.Phase = domain.PhaseIdle
	e.state.Position = nil
	e.state.Capital = exit.Add(entry.AccruedFees)
	return entry
}

func (e *Engine) event(kind domain.EventKind, ts time.Time, msg string, err error) domain.Event {
	ev := domain.Event{Pool: e.pool, Kind: kind, Timestamp: ts, Message: msg}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}

func formatRange(r *domain.PositionRange) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("[%.6f, %.6f) L=%.6f", r.LowerPrice, r.UpperPrice, r.Liquidity)
}

// validateSample rejects samples no range or fee computation can use.
func validateSample(s domain.PriceSample) error {
	switch {
	case !finite(s.Price) || s.Price <= 0:
		return fmt.Errorf("%w: sample price must be positive and finite, got %v", ports.ErrInvalidRange, s.Price)
	case !finite(s.Volume) || s.Volume < 0:
		return fmt.Errorf("%w: sample volume must be non-negative and finite, got %v", ports.ErrInvalidRange, s.Volume)
	case !finite(s.PoolLiquidity) || s.PoolLiquidity < 0:
		return fmt.Errorf("%w: sample pool liquidity must be non-negative and finite, got %v", ports.ErrInvalidRange, s.PoolLiquidity)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
