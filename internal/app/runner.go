package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"lpRebalancer/internal/ports"
)

// Runner runs one RebalanceService per pool in parallel. Pools share nothing
// but the ledger.
type Runner struct {
	services []*RebalanceService
	logger   ports.Logger
}

// NewRunner creates a runner over services.
func NewRunner(logger ports.Logger, services ...*RebalanceService) (*Runner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for runner")
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("at least one rebalance service is required")
	}
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if seen[svc.Pool()] {
			return nil, fmt.Errorf("duplicate pool %q: one engine per pool", svc.Pool())
		}
		seen[svc.Pool()] = true
	}
	return &Runner{services: services, logger: logger}, nil
}

// Run starts every service and waits for all of them. SIGINT/SIGTERM cancel
// the run. A fatal error in one pool cancels the others.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info(ctx, "Starting pool runner", map[string]interface{}{"pools": len(r.services)})

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range r.services {
		svc := svc
		g.Go(func() error {
			if err := svc.Run(gctx); err != nil {
				return fmt.Errorf("pool %s: %w", svc.Pool(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		r.logger.Error(ctx, err, "Pool runner stopped with error")
		return err
	}
	r.logger.Info(ctx, "Pool runner stopped")
	return nil
}
