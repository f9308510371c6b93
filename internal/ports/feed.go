package ports

import (
	"context"

	"lpRebalancer/internal/domain"
)

// PriceFeed is a pull-based, time-ordered sequence of price samples.
// Finite feeds return ErrFeedExhausted after the last sample; live feeds block
// until a sample arrives, the feed is closed, or ctx is done.
type PriceFeed interface {
	Next(ctx context.Context) (domain.PriceSample, error)
}
