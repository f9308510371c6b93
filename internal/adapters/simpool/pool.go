package simpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy/fees"
)

// Config holds configuration for the simulated pool.
type Config struct {
	Pool        string
	FeeTierBps  int
	SharePolicy fees.SharePolicy
	// PoolLiquidity stands in for samples that carry no liquidity reading.
	// Zero means such samples earn nothing in the simulator.
	PoolLiquidity float64
	// FeeOracle, when set, replaces the simulated fees of a closed position
	// with the fees its range earned on-chain over the same period.
	FeeOracle ports.FeeOracle
	Logger    ports.Logger
}

// Pool is a paper-trading ports.PoolAdapter. It earns fees on every observed
// sample independently of the engine so realized and accrued fees can be
// reconciled.
type Pool struct {
	cfg       Config
	calc      *fees.Calculator
	logger    ports.Logger
	mu        sync.Mutex
	positions map[string]*domain.Position
	lastPrice float64
	lastAt    time.Time

	failOpen  error
	failClose error

	opened int
	closed int
}

// New creates a simulated pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for simulated pool")
	}
	if cfg.PoolLiquidity < 0 {
		return nil, fmt.Errorf("%w: simulated pool liquidity cannot be negative", ports.ErrConfigurationError)
	}
	calc, err := fees.NewCalculator(cfg.FeeTierBps, cfg.SharePolicy)
	if err != nil {
		return nil, err
	}
	return &Pool{
		cfg:       cfg,
		calc:      calc,
		logger:    cfg.Logger,
		positions: make(map[string]*domain.Position),
	}, nil
}

// Open mints a simulated position.
func (p *Pool) Open(ctx context.Context, rng domain.PositionRange) (domain.PositionHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.PositionHandle{}, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOpen != nil {
		err := p.failOpen
		p.failOpen = nil
		return domain.PositionHandle{}, fmt.Errorf("%w: %w", ports.ErrAdapter, err)
	}
	if !rng.Valid() || rng.Liquidity <= 0 {
		return domain.PositionHandle{}, fmt.Errorf("%w: cannot mint range [%f, %f) with liquidity %f", ports.ErrAdapter, rng.LowerPrice, rng.UpperPrice, rng.Liquidity)
	}

	handle := domain.PositionHandle{ID: uuid.NewString(), Pool: p.cfg.Pool}
	p.positions[handle.ID] = &domain.Position{
		Handle:      handle,
		Range:       rng,
		OpenedAt:    p.lastAt,
		OpenPrice:   p.lastPrice,
		AccruedFees: decimal.Zero,
	}
	p.opened++
	p.logger.Debug(ctx, "Simulated position minted", map[string]interface{}{"pool": p.cfg.Pool, "handle": handle.ID})
	return handle, nil
}

// Close burns a simulated position and returns the fees it earned.
func (p *Pool) Close(ctx context.Context, handle domain.PositionHandle) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	p.mu.Lock()
	if p.failClose != nil {
		err := p.failClose
		p.failClose = nil
		p.mu.Unlock()
		return decimal.Zero, fmt.Errorf("%w: %w", ports.ErrAdapter, err)
	}
	pos, ok := p.positions[handle.ID]
	if !ok {
		p.mu.Unlock()
		return decimal.Zero, fmt.Errorf("%w: %w: handle %q", ports.ErrAdapter, ports.ErrPositionNotFound, handle.ID)
	}
	delete(p.positions, handle.ID)
	p.closed++
	closedAt := p.lastAt
	p.mu.Unlock()

	p.logger.Debug(ctx, "Simulated position burned", map[string]interface{}{
		"pool": p.cfg.Pool, "handle": handle.ID, "fees": pos.AccruedFees.StringFixed(6),
	})
	return p.realizedFees(ctx, pos, closedAt), nil
}

// realizedFees prefers the on-chain figure for the position's lifetime and
// falls back to the simulated accrual.
func (p *Pool) realizedFees(ctx context.Context, pos *domain.Position, closedAt time.Time) decimal.Decimal {
	if p.cfg.FeeOracle == nil || pos.OpenedAt.IsZero() || !closedAt.After(pos.OpenedAt) {
		return pos.AccruedFees
	}
	chainFees, err := p.cfg.FeeOracle.RangeFees(ctx, pos.Range, pos.OpenedAt, closedAt)
	if err != nil {
		p.logger.Warn(ctx, "On-chain fee lookup failed, using simulated fees", map[string]interface{}{
			"pool": p.cfg.Pool, "handle": pos.Handle.ID, "error": err.Error(),
		})
		return pos.AccruedFees
	}
	p.logger.Info(ctx, "Realized fees taken from chain", map[string]interface{}{
		"pool": p.cfg.Pool, "handle": pos.Handle.ID,
		"chainFees": chainFees.StringFixed(6), "simulatedFees": pos.AccruedFees.StringFixed(6),
	})
	return chainFees
}

// ObserveSample earns fees for every open position.
func (p *Pool) ObserveSample(sample domain.PriceSample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice = sample.Price
	p.lastAt = sample.Timestamp
	if sample.PoolLiquidity <= 0 {
		sample.PoolLiquidity = p.cfg.PoolLiquidity
	}
	for _, pos := range p.positions {
		if _, err := p.calc.Accrue(pos, sample); err != nil && !errors.Is(err, ports.ErrMissingLiquidityData) {
			p.logger.Warn(context.Background(), "Simulated fee accrual failed", map[string]interface{}{"pool": p.cfg.Pool, "error": err.Error()})
		}
	}
}

// FailNextOpen makes the next Open return err.
func (p *Pool) FailNextOpen(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOpen = err
}

// FailNextClose makes the next Close return err.
func (p *Pool) FailNextClose(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failClose = err
}

// OpenPositions returns the number of positions currently minted.
func (p *Pool) OpenPositions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

// Stats returns how many positions were opened and closed.
func (p *Pool) Stats() (opened, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened, p.closed
}
