package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"lpRebalancer/internal/adapters/logger" // Import the logger package for LogLevel
	"lpRebalancer/internal/strategy"
	"lpRebalancer/internal/strategy/fees"
)

// Config holds all application configuration.
type Config struct {
	// Binance API. Keys are optional: klines are public market data.
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Pool served when no POOLS_FILE is given
	PoolName         string // Engine key, defaults to Symbol
	Symbol           string // Binance symbol supplying prices
	Interval         string // Kline interval driving samples
	PoolAddress      string // Uniswap v3 pool for liquidity readings; empty disables them
	InvertPrice      bool
	SimPoolLiquidity float64 // Simulator fallback when a sample has no liquidity reading

	// Engine Parameters
	Engine strategy.Config

	// Service
	AdapterTimeout time.Duration
	CloseOnExit    bool
	PoolsFile      string // Optional TOML file describing several pools

	// Chain
	RPCURL    string
	ChainFees bool // Settle simulated closes with on-chain fee growth; needs an archive RPC

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}

	// Pool
	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.PoolName = getEnv("POOL_NAME", cfg.Symbol)
	cfg.Interval = getEnv("INTERVAL", "1m")
	cfg.PoolAddress = getEnv("POOL_ADDRESS", "")
	cfg.InvertPrice = getEnvAsBool("INVERT_PRICE", false)
	cfg.RPCURL = getEnv("RPC_URL", "")
	cfg.ChainFees = getEnvAsBool("CHAIN_FEES", false)
	if cfg.ChainFees && cfg.RPCURL == "" {
		errs = append(errs, "RPC_URL must be set when CHAIN_FEES is enabled")
	}
	if cfg.PoolAddress != "" && cfg.RPCURL == "" {
		errs = append(errs, "RPC_URL must be set when POOL_ADDRESS is set")
	}

	cfg.SimPoolLiquidity, err = getEnvAsFloatRequired("SIM_POOL_LIQUIDITY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIM_POOL_LIQUIDITY: %v", err))
	} else if cfg.SimPoolLiquidity < 0 {
		errs = append(errs, "SIM_POOL_LIQUIDITY cannot be negative")
	}

	// Engine Parameters
	eng := &cfg.Engine
	if eng.BufferPct, err = getEnvAsFloatRequired("BUFFER_PCT", 5.0); err != nil {
		errs = append(errs, fmt.Sprintf("invalid BUFFER_PCT: %v", err))
	}
	if eng.WickThresholdPct, err = getEnvAsFloatRequired("WICK_THRESHOLD_PCT", 10.0); err != nil {
		errs = append(errs, fmt.Sprintf("invalid WICK_THRESHOLD_PCT: %v", err))
	}
	if eng.WickWindowSeconds, err = getEnvAsIntRequired("WICK_WINDOW_SECONDS", 60); err != nil {
		errs = append(errs, fmt.Sprintf("invalid WICK_WINDOW_SECONDS: %v", err))
	}
	if eng.CooldownSeconds, err = getEnvAsIntRequired("COOLDOWN_SECONDS", 300); err != nil {
		errs = append(errs, fmt.Sprintf("invalid COOLDOWN_SECONDS: %v", err))
	}
	if eng.InitialCapital, err = getEnvAsDecimalRequired("INITIAL_CAPITAL", decimal.NewFromInt(1000)); err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	}
	if eng.FeeTierBps, err = getEnvAsIntRequired("FEE_TIER_BPS", 30); err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_TIER_BPS: %v", err))
	}
	if eng.SlippagePct, err = getEnvAsFloatRequired("SLIPPAGE_PCT", strategy.DefaultSlippagePct); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_PCT: %v", err))
	}
	eng.SharePolicy = fees.SharePolicy(getEnv("FEE_SHARE_POLICY", string(fees.ShareInstant)))

	// Only report engine ranges once every value parsed
	if len(errs) == 0 {
		if err := eng.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Service
	timeoutSeconds := getEnvAsInt("ADAPTER_TIMEOUT_SECONDS", 30)
	if timeoutSeconds <= 0 {
		errs = append(errs, "ADAPTER_TIMEOUT_SECONDS must be positive")
	}
	cfg.AdapterTimeout = time.Duration(timeoutSeconds) * time.Second
	cfg.CloseOnExit = getEnvAsBool("CLOSE_ON_EXIT", true)
	cfg.PoolsFile = getEnv("POOLS_FILE", "")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/ledger.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// DefaultPool describes the single pool configured through the environment.
func (c *Config) DefaultPool() PoolSpec {
	return PoolSpec{
		Name:             c.PoolName,
		Symbol:           c.Symbol,
		Interval:         c.Interval,
		PoolAddress:      c.PoolAddress,
		InvertPrice:      c.InvertPrice,
		SimPoolLiquidity: c.SimPoolLiquidity,
		Engine:           c.Engine,
	}
}

// Pools returns the pools to run: those in PoolsFile when set, otherwise
// the single environment-configured pool.
func (c *Config) Pools() ([]PoolSpec, error) {
	if c.PoolsFile == "" {
		return []PoolSpec{c.DefaultPool()}, nil
	}
	return LoadPools(c.PoolsFile, c.DefaultPool())
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
