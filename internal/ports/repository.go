package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
)

// LedgerRepository is the append-only record of position lifecycles and the
// structured events raised while managing them.
type LedgerRepository interface {
	// Append stores a closed position and returns its assigned ID.
	Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error)
	// AppendEvent stores a non-fatal engine event and returns its assigned ID.
	AppendEvent(ctx context.Context, event *domain.Event) (int64, error)
	// FindByPool retrieves the most recent entries for a pool, newest first, up to limit.
	FindByPool(ctx context.Context, pool string, limit int) ([]*domain.LedgerEntry, error)
	// FindAll retrieves all entries ordered by close time ascending.
	FindAll(ctx context.Context) ([]*domain.LedgerEntry, error)
	// FindEvents retrieves the most recent events for a pool, newest first, up to limit.
	FindEvents(ctx context.Context, pool string, limit int) ([]*domain.Event, error)
	// TotalRealizedFees sums realized fees over all entries of a pool.
	TotalRealizedFees(ctx context.Context, pool string) (decimal.Decimal, error)
}
