package ports

import "errors"

// Standard application-level errors.
// Adapters and engine components wrap their failures with these so callers
// can classify them with errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Engine Errors
	ErrInvalidRange         = errors.New("degenerate inputs for range computation")
	ErrMissingLiquidityData = errors.New("in-range pool liquidity unavailable")
	ErrOutOfOrderSample     = errors.New("price sample precedes last processed sample")
	ErrDecisionPending      = errors.New("structural decision awaiting adapter acknowledgement")
	ErrNoPendingDecision    = errors.New("no structural decision awaiting acknowledgement")

	// Pool Adapter Errors
	ErrAdapter          = errors.New("pool adapter execution failed")
	ErrPositionNotFound = errors.New("position not found in pool adapter")

	// Price Feed Errors
	ErrFeedExhausted = errors.New("price feed exhausted")
	ErrFeedClosed    = errors.New("price feed closed")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")

	// Chain Errors
	ErrChainCall = errors.New("on-chain call failed")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// IsFatal reports whether err must terminate the engine: configuration
// errors and degenerate range inputs indicate a bug upstream.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfigurationError) || errors.Is(err, ErrInvalidRange)
}
