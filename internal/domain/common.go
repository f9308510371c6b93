package domain

// Phase is the structural state of a rebalance engine.
type Phase string

const (
	PhaseIdle   Phase = "IDLE"   // No open position
	PhaseActive Phase = "ACTIVE" // Position open, range set
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonRebalance CloseReason = "REBALANCE"
	CloseReasonShutdown  CloseReason = "SHUTDOWN"
	CloseReasonUnknown   CloseReason = "UNKNOWN"
)

// EventKind classifies non-fatal engine events surfaced to the ledger.
type EventKind string

const (
	EventOutOfOrderSample EventKind = "out_of_order_sample"
	EventMissingLiquidity EventKind = "missing_liquidity"
	EventAdapterError     EventKind = "adapter_error"
	EventFeeDrift         EventKind = "fee_drift"
	EventCooldownStarted  EventKind = "cooldown_started"
)
