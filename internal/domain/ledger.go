package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is the final record of a closed position.
type LedgerEntry struct {
	ID              int64
	Pool            string
	HandleID        string
	OpenedAt        time.Time
	ClosedAt        time.Time
	Range           PositionRange
	OpenPrice       float64
	ClosePrice      float64
	CapitalDeployed decimal.Decimal
	ExitValue       decimal.Decimal // Mark-to-market value after slippage, excluding fees
	AccruedFees     decimal.Decimal // Engine estimate
	RealizedFees    decimal.Decimal // Reported by the pool adapter
	CloseReason     CloseReason
}

// Duration returns how long the position was open.
func (e *LedgerEntry) Duration() time.Duration {
	return e.ClosedAt.Sub(e.OpenedAt)
}

// FeeDrift is realized minus accrued fees.
func (e *LedgerEntry) FeeDrift() decimal.Decimal {
	return e.RealizedFees.Sub(e.AccruedFees)
}

// Event is a structured, non-fatal occurrence worth keeping next to the ledger.
type Event struct {
	ID        int64
	Pool      string
	Kind      EventKind
	Timestamp time.Time
	Message   string
	Err       string
}
