package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionKind is the action emitted by the rebalance engine for a sample.
type DecisionKind string

const (
	DecisionHold      DecisionKind = "HOLD"
	DecisionOpen      DecisionKind = "OPEN"
	DecisionClose     DecisionKind = "CLOSE"
	DecisionRebalance DecisionKind = "REBALANCE"
)

// WickVerdict is the wick detector's classification of a sample.
type WickVerdict struct {
	IsWick            bool
	MagnitudePct      float64
	ReferencePrice    float64
	CooldownTriggered bool
}

// Decision is derived from engine state, the latest sample and config.
// It carries everything needed to execute it; it never mutates state.
type Decision struct {
	Kind      DecisionKind
	Pool      string
	Timestamp time.Time
	Price     float64

	OldRange *PositionRange // Set for CLOSE and REBALANCE
	NewRange *PositionRange // Set for OPEN and REBALANCE
	Capital  decimal.Decimal

	CloseReason    CloseReason
	Wick           WickVerdict
	CooldownActive bool
	Reason         string
}

// IsStructural reports whether executing the decision opens or closes a
// position through the pool adapter.
func (d Decision) IsStructural() bool {
	return d.Kind == DecisionOpen || d.Kind == DecisionClose || d.Kind == DecisionRebalance
}
