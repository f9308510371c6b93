package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionRange is the [LowerPrice, UpperPrice) interval of a concentrated
// liquidity position together with the liquidity minted into it.
type PositionRange struct {
	LowerPrice float64
	UpperPrice float64
	Liquidity  float64
}

// Valid reports whether 0 < LowerPrice < UpperPrice.
func (r PositionRange) Valid() bool {
	return r.LowerPrice > 0 && r.LowerPrice < r.UpperPrice
}

// Contains reports whether price lies inside [LowerPrice, UpperPrice).
func (r PositionRange) Contains(price float64) bool {
	return price >= r.LowerPrice && price < r.UpperPrice
}

// PositionHandle identifies a position held by a pool adapter.
type PositionHandle struct {
	ID   string
	Pool string
}

// Position is the engine's view of an open liquidity position.
type Position struct {
	Handle          PositionHandle
	Range           PositionRange
	OpenedAt        time.Time
	OpenPrice       float64
	CapitalDeployed decimal.Decimal
	AccruedFees     decimal.Decimal

	LastAccrualAt time.Time
	LastShare     float64 // Liquidity share at the last accrual, used by time-weighted accrual
}

// CooldownState tracks the rebalance suppression window opened by a wick.
type CooldownState struct {
	Active      bool
	TriggeredAt time.Time
	ExpiresAt   time.Time
}

// ActiveAt reports whether the cooldown suppresses decisions at t.
func (c CooldownState) ActiveAt(t time.Time) bool {
	return c.Active && t.Before(c.ExpiresAt)
}
