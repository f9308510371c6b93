package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// Ledger is an in-memory ports.LedgerRepository used by backtests and tests.
type Ledger struct {
	mu      sync.RWMutex
	entries []*domain.LedgerEntry
	events  []*domain.Event
	nextID  int64
	nextEvt int64
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append stores a copy of entry and assigns its ID.
func (l *Ledger) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	if entry == nil {
		return 0, fmt.Errorf("%w: nil ledger entry", ports.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry.ID = l.nextID
	stored := *entry
	l.entries = append(l.entries, &stored)
	return entry.ID, nil
}

// AppendEvent stores a copy of event and assigns its ID.
func (l *Ledger) AppendEvent(ctx context.Context, event *domain.Event) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("%w: nil event", ports.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextEvt++
	event.ID = l.nextEvt
	stored := *event
	l.events = append(l.events, &stored)
	return event.ID, nil
}

// FindByPool returns the newest entries of pool first, up to limit.
func (l *Ledger) FindByPool(ctx context.Context, pool string, limit int) ([]*domain.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.LedgerEntry, 0)
	for _, e := range l.entries {
		if e.Pool == pool {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClosedAt.Equal(out[j].ClosedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ClosedAt.After(out[j].ClosedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindAll returns every entry ordered by close time ascending.
func (l *Ledger) FindAll(ctx context.Context) ([]*domain.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		c := *e
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClosedAt.Equal(out[j].ClosedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ClosedAt.Before(out[j].ClosedAt)
	})
	return out, nil
}

// FindEvents returns the newest events of pool first, up to limit.
func (l *Ledger) FindEvents(ctx context.Context, pool string, limit int) ([]*domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Event, 0)
	for _, ev := range l.events {
		if ev.Pool == pool {
			c := *ev
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TotalRealizedFees sums realized fees over all entries of pool.
func (l *Ledger) TotalRealizedFees(ctx context.Context, pool string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, e := range l.entries {
		if e.Pool == pool {
			total = total.Add(e.RealizedFees)
		}
	}
	return total, nil
}

// Events returns all events in insertion order.
func (l *Ledger) Events() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, len(l.events))
	for i, ev := range l.events {
		out[i] = *ev
	}
	return out
}
