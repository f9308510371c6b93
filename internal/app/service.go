package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
)

const defaultAdapterTimeout = 30 * time.Second

// ServiceConfig tunes a RebalanceService.
type ServiceConfig struct {
	AdapterTimeout time.Duration // Per-call deadline for pool adapter operations
	// CloseOnExit closes any active position when the feed ends or the
	// service is cancelled.
	CloseOnExit bool
}

// Stats counts what a service has processed.
type Stats struct {
	Samples   int
	Dropped   int
	Decisions map[domain.DecisionKind]int
}

// RebalanceService drives one pool: it pulls samples from the feed, runs the
// engine, executes structural decisions through the pool adapter and records
// closed positions and events in the ledger. Everything happens on the
// goroutine calling Run.
type RebalanceService struct {
	engine         *strategy.Engine
	feed           ports.PriceFeed
	adapter        ports.PoolAdapter
	ledger         ports.LedgerRepository
	logger         ports.Logger
	adapterTimeout time.Duration
	closeOnExit    bool
	onDecision     func(domain.Decision)

	mu    sync.Mutex // Protects stats for concurrent readers
	stats Stats
}

// NewRebalanceService creates a service for a single pool.
func NewRebalanceService(
	engine *strategy.Engine,
	feed ports.PriceFeed,
	adapter ports.PoolAdapter,
	ledger ports.LedgerRepository,
	logger ports.Logger,
	cfg ServiceConfig,
) (*RebalanceService, error) {
	if engine == nil || feed == nil || adapter == nil || ledger == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for RebalanceService")
	}
	timeout := cfg.AdapterTimeout
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	return &RebalanceService{
		engine:         engine,
		feed:           feed,
		adapter:        adapter,
		ledger:         ledger,
		logger:         logger,
		adapterTimeout: timeout,
		closeOnExit:    cfg.CloseOnExit,
		stats:          Stats{Decisions: make(map[domain.DecisionKind]int)},
	}, nil
}

// Pool returns the pool served.
func (s *RebalanceService) Pool() string {
	return s.engine.Pool()
}

// Engine exposes the underlying engine for reporting.
func (s *RebalanceService) Engine() *strategy.Engine {
	return s.engine
}

// OnDecision registers a hook called with every decision, HOLD included.
func (s *RebalanceService) OnDecision(fn func(domain.Decision)) {
	s.onDecision = fn
}

// Stats returns a copy of the processing counters.
func (s *RebalanceService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Samples: s.stats.Samples, Dropped: s.stats.Dropped, Decisions: make(map[domain.DecisionKind]int, len(s.stats.Decisions))}
	for k, v := range s.stats.Decisions {
		out.Decisions[k] = v
	}
	return out
}

// Run processes samples until the feed ends or ctx is cancelled. Cancellation
// is a clean stop; only fatal engine errors, feed failures and ledger
// failures are returned.
func (s *RebalanceService) Run(ctx context.Context) error {
	pool := s.Pool()
	s.logger.Info(ctx, "Starting rebalance service", map[string]interface{}{"pool": pool})

	var runErr error
loop:
	for {
		sample, err := s.feed.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrFeedExhausted), errors.Is(err, ports.ErrFeedClosed):
			s.logger.Info(ctx, "Price feed ended", map[string]interface{}{"pool": pool})
			break loop
		case ctx.Err() != nil:
			s.logger.Info(ctx, "Context cancelled, stopping rebalance service", map[string]interface{}{"pool": pool})
			break loop
		default:
			runErr = fmt.Errorf("reading price feed for %s: %w", pool, err)
			s.logger.Error(ctx, err, "Price feed failed", map[string]interface{}{"pool": pool})
			break loop
		}

		if err := s.ProcessSample(ctx, sample); err != nil {
			if ports.IsFatal(err) {
				s.logger.Error(ctx, err, "Fatal engine error, stopping pool", map[string]interface{}{"pool": pool})
				return err
			}
			runErr = err
			break loop
		}
	}

	if s.closeOnExit {
		// Cancellation of ctx must not abort the final close.
		shutdownCtx := context.WithoutCancel(ctx)
		if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}

	s.logger.Info(ctx, "Rebalance service stopped", map[string]interface{}{"pool": pool})
	return runErr
}

// ProcessSample runs one sample through the engine and executes the
// resulting decision. Out-of-order samples are recorded and skipped.
func (s *RebalanceService) ProcessSample(ctx context.Context, sample domain.PriceSample) error {
	step, err := s.engine.OnPriceSample(ctx, sample)
	if errors.Is(err, ports.ErrOutOfOrderSample) {
		s.count(func(st *Stats) { st.Dropped++ })
		s.recordEvents(ctx, []domain.Event{{
			Pool:      s.Pool(),
			Kind:      domain.EventOutOfOrderSample,
			Timestamp: sample.Timestamp,
			Message:   "sample dropped",
			Err:       err.Error(),
		}})
		return nil
	}
	if err != nil {
		return err
	}
	// The adapter sees only samples the engine accepted, and sees them
	// before any position change the sample causes.
	if obs, ok := s.adapter.(ports.SampleObserver); ok {
		obs.ObserveSample(sample)
	}

	s.count(func(st *Stats) {
		st.Samples++
		st.Decisions[step.Decision.Kind]++
	})
	s.recordEvents(ctx, step.Events)
	if s.onDecision != nil {
		s.onDecision(step.Decision)
	}

	if !step.Decision.IsStructural() {
		return nil
	}
	return s.execute(ctx, step.Decision)
}

// Shutdown closes the active position, if any, and records it.
func (s *RebalanceService) Shutdown(ctx context.Context) error {
	d, ok, err := s.engine.Shutdown(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.count(func(st *Stats) { st.Decisions[d.Kind]++ })
	if s.onDecision != nil {
		s.onDecision(d)
	}
	if err := s.execute(ctx, d); err != nil {
		return err
	}
	if s.engine.Snapshot().Phase == domain.PhaseActive {
		return fmt.Errorf("%w: position in %s still open after shutdown", ports.ErrAdapter, s.Pool())
	}
	return nil
}

// execute runs a structural decision through the adapter and applies the outcome.
func (s *RebalanceService) execute(ctx context.Context, d domain.Decision) error {
	out := strategy.Outcome{RealizedFees: decimal.Zero}

	switch d.Kind {
	case domain.DecisionOpen:
		out.Handle, out.OpenErr = s.open(ctx, *d.NewRange)
	case domain.DecisionRebalance, domain.DecisionClose:
		pos := s.engine.Snapshot().Position
		if pos == nil {
			return fmt.Errorf("%w: %s without an active position", ports.ErrInvalidRequest, d.Kind)
		}
		out.RealizedFees, out.CloseErr = s.close(ctx, pos.Handle)
		if out.CloseErr == nil && d.Kind == domain.DecisionRebalance {
			out.Handle, out.OpenErr = s.open(ctx, *d.NewRange)
		}
	}

	tr, err := s.engine.Apply(ctx, out)
	if err != nil {
		return err
	}
	if tr.Entry != nil {
		if _, err := s.ledger.Append(ctx, tr.Entry); err != nil {
			s.logger.Error(ctx, err, "Failed to append ledger entry", map[string]interface{}{"pool": s.Pool(), "handle": tr.Entry.HandleID})
			return fmt.Errorf("appending ledger entry for %s: %w", s.Pool(), err)
		}
	}
	s.recordEvents(ctx, tr.Events)
	return nil
}

func (s *RebalanceService) open(ctx context.Context, rng domain.PositionRange) (domain.PositionHandle, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()
	h, err := s.adapter.Open(callCtx, rng)
	return h, adapterError("open", err)
}

func (s *RebalanceService) close(ctx context.Context, h domain.PositionHandle) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()
	fees, err := s.adapter.Close(callCtx, h)
	if err != nil {
		return decimal.Zero, adapterError("close", err)
	}
	return fees, nil
}

// adapterError makes sure every adapter failure classifies as ports.ErrAdapter.
func adapterError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w: %w", ports.ErrAdapter, op, ports.ErrTimeout, err)
	case errors.Is(err, ports.ErrAdapter):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ports.ErrAdapter, op, err)
	}
}

// recordEvents appends events to the ledger. Failures are logged only, since
// events are diagnostics.
func (s *RebalanceService) recordEvents(ctx context.Context, events []domain.Event) {
	for i := range events {
		ev := events[i]
		if _, err := s.ledger.AppendEvent(ctx, &ev); err != nil {
			s.logger.Warn(ctx, "Failed to record engine event", map[string]interface{}{"pool": ev.Pool, "kind": ev.Kind, "error": err.Error()})
		}
	}
}

func (s *RebalanceService) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}
