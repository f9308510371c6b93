package ports

import (
	"context"
	"time"

	"lpRebalancer/internal/domain"
)

// MarketDataClient defines the interface for reading prices from an exchange.
// The rebalancer only consumes market data; it never trades on the exchange.
type MarketDataClient interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetKlines retrieves the most recent klines for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange retrieves every kline opened in [start, end), paging as needed.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// StreamKlines delivers final klines to handler until ctx is done or the
	// connection cannot be re-established. The returned channel closes when
	// streaming has stopped.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (<-chan struct{}, error)
}
