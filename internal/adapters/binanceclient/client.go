package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
	maxReconnectDelay   = time.Minute
)

// wsKlineServeFunc matches futures.WsKlineServe.
type wsKlineServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error)

// Client implements ports.MarketDataClient on the
// go-binance futures API. Prices from the futures market drive the pool
// engines; no orders are ever placed.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	serve                wsKlineServeFunc
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // Overrides the production/testnet URL when set
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "Binance keys not set, using public market data endpoints only")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		serve:                futures.WsKlineServe,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1007, -1016: // Disconnected, backend timeout, service shutting down
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2014, -2015: // API-key format invalid / permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// GetKlines retrieves the most recent klines for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetKlinesRange pages through all klines for a symbol/interval between start and end.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	if !start.Before(end) {
		return nil, fmt.Errorf("%s: %w: start %s is not before end %s", op, ports.ErrInvalidRequest, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var allKlines []*domain.Kline
	from := start
	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		// Next page starts one millisecond after the last close.
		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if !from.Before(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	c.logger.Debug(ctx, op+" complete", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(allKlines)})
	return allKlines, nil
}

// StreamKlines runs a kline WebSocket with reconnection until ctx is done or
// reconnect attempts are exhausted. Only final klines reach handler. The
// returned channel closes when streaming has stopped.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (<-chan struct{}, error) {
	op := "StreamKlines"
	if handler == nil {
		return nil, fmt.Errorf("%s: %w: kline handler is required", op, ports.ErrInvalidRequest)
	}
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}

	wsHandler := func(event *futures.WsKlineEvent) {
		k, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, op+": Failed to translate WebSocket kline event", fields)
			return
		}
		if k.IsFinal {
			handler(k)
		}
	}
	wsErrHandler := func(err error) {
		translated := c.handleError(ctx, err, op+" WebSocket")
		if errHandler != nil {
			errHandler(translated)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		attempt := 0
		for {
			if ctx.Err() != nil {
				c.logger.Info(ctx, op+": Context cancelled, stopping stream", fields)
				return
			}

			innerDone, innerStop, err := c.serve(symbol, interval, wsHandler, wsErrHandler)
			if err != nil {
				c.handleError(ctx, err, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up", fields)
					if errHandler != nil {
						errHandler(fmt.Errorf("%s: %w: gave up after %d attempts", op, ports.ErrConnectionFailed, attempt))
					}
					return
				}
				delay := c.backoff(attempt)
				c.logger.Info(ctx, op+": Connection failed, retrying", map[string]interface{}{"symbol": symbol, "attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}

			c.logger.Info(ctx, op+": WebSocket connection established", fields)
			attempt = 0

			select {
			case <-innerDone:
				c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly, reconnecting", fields)
			case <-ctx.Done():
				select {
				case innerStop <- struct{}{}:
				default:
				}
				c.logger.Info(ctx, op+": Context cancelled, WebSocket stopped", fields)
				return
			}
		}
	}()

	return done, nil
}

// backoff doubles the reconnect delay per attempt with 10% jitter, capped at a minute.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.reconnectDelay
	for i := 1; i < attempt && delay < maxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay + delay/10
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	prices, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	prices, err := parseFloats(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol, // Not part of futures.Kline
		Interval:  interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   true, // Historical klines are always final
	}, nil
}

// parseFloats parses open, high, low, close and volume strings in order.
func parseFloats(values ...string) ([]float64, error) {
	names := []string{"open price", "high price", "low price", "close price", "volume"}
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", names[i], v, err)
		}
		out[i] = f
	}
	return out, nil
}
