package pricefeed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// SliceFeed replays a finite, time-ordered set of samples. It is restartable.
type SliceFeed struct {
	samples []domain.PriceSample
	pos     int
}

// NewSliceFeed creates a feed over samples, sorted by timestamp.
func NewSliceFeed(samples []domain.PriceSample) *SliceFeed {
	sorted := make([]domain.PriceSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &SliceFeed{samples: sorted}
}

// NewKlineFeed creates a feed from exchange candles, one sample per close.
func NewKlineFeed(klines []*domain.Kline) *SliceFeed {
	samples := make([]domain.PriceSample, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		samples = append(samples, domain.SampleFromKline(k))
	}
	return NewSliceFeed(samples)
}

// Next returns the next sample or ports.ErrFeedExhausted.
func (f *SliceFeed) Next(ctx context.Context) (domain.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceSample{}, err
	}
	if f.pos >= len(f.samples) {
		return domain.PriceSample{}, ports.ErrFeedExhausted
	}
	s := f.samples[f.pos]
	f.pos++
	return s, nil
}

// Seek positions the feed at the first sample at or after from.
func (f *SliceFeed) Seek(from time.Time) {
	f.pos = sort.Search(len(f.samples), func(i int) bool {
		return !f.samples[i].Timestamp.Before(from)
	})
}

// Reset rewinds the feed to its first sample.
func (f *SliceFeed) Reset() {
	f.pos = 0
}

// Len returns the total number of samples.
func (f *SliceFeed) Len() int {
	return len(f.samples)
}

// Remaining returns the number of samples not yet returned.
func (f *SliceFeed) Remaining() int {
	return len(f.samples) - f.pos
}

// StreamFeed is a live feed fed by a producer goroutine. It cannot be rewound.
type StreamFeed struct {
	ch        chan domain.PriceSample
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamFeed creates a live feed buffering up to buffer samples.
func NewStreamFeed(buffer int) *StreamFeed {
	if buffer < 0 {
		buffer = 0
	}
	return &StreamFeed{
		ch:   make(chan domain.PriceSample, buffer),
		done: make(chan struct{}),
	}
}

// Push delivers a sample, blocking while the buffer is full.
func (f *StreamFeed) Push(ctx context.Context, s domain.PriceSample) error {
	select {
	case <-f.done:
		return ports.ErrFeedClosed
	default:
	}
	select {
	case f.ch <- s:
		return nil
	case <-f.done:
		return ports.ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the feed. Buffered samples are still delivered by Next.
func (f *StreamFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Next blocks until a sample arrives, the feed is closed and drained, or ctx is done.
func (f *StreamFeed) Next(ctx context.Context) (domain.PriceSample, error) {
	select {
	case s := <-f.ch:
		return s, nil
	default:
	}
	select {
	case s := <-f.ch:
		return s, nil
	case <-f.done:
		select {
		case s := <-f.ch:
			return s, nil
		default:
			return domain.PriceSample{}, ports.ErrFeedClosed
		}
	case <-ctx.Done():
		return domain.PriceSample{}, ctx.Err()
	}
}

// LiquidityFeed fills in pool liquidity on samples that lack it.
type LiquidityFeed struct {
	inner  ports.PriceFeed
	source ports.LiquiditySource
	logger ports.Logger
}

// NewLiquidityFeed decorates inner with readings from source.
func NewLiquidityFeed(inner ports.PriceFeed, source ports.LiquiditySource, logger ports.Logger) (*LiquidityFeed, error) {
	if inner == nil || source == nil {
		return nil, fmt.Errorf("%w: liquidity feed needs an inner feed and a source", ports.ErrInvalidRequest)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for liquidity feed")
	}
	return &LiquidityFeed{inner: inner, source: source, logger: logger}, nil
}

// Next returns the inner feed's next sample with PoolLiquidity populated. A
// failed lookup leaves it at zero so the engine records missing liquidity.
func (f *LiquidityFeed) Next(ctx context.Context) (domain.PriceSample, error) {
	s, err := f.inner.Next(ctx)
	if err != nil {
		return s, err
	}
	if s.PoolLiquidity > 0 {
		return s, nil
	}
	liq, err := f.source.PoolLiquidity(ctx)
	if err != nil {
		f.logger.Warn(ctx, "Pool liquidity lookup failed", map[string]interface{}{"sampleTime": s.Timestamp, "error": err.Error()})
		return s, nil
	}
	s.PoolLiquidity = liq
	return s, nil
}
