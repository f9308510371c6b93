package domain

import "time"

// PriceSample is a single price observation for a pool.
type PriceSample struct {
	Timestamp time.Time
	Price     float64 // Quote per base
	Volume    float64 // Quote volume traded since the previous sample

	// PoolLiquidity is the total in-range pool liquidity observed at the
	// sample, in the same units as PositionRange.Liquidity. Zero when unknown.
	PoolLiquidity float64
}

// SampleFromKline converts a final kline into a price sample stamped at the
// kline close.
func SampleFromKline(k *Kline) PriceSample {
	return PriceSample{
		Timestamp: k.CloseTime,
		Price:     k.Close,
		Volume:    k.QuoteVolume(),
	}
}
