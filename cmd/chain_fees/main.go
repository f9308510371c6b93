package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/config"
	"lpRebalancer/internal/adapters/logger"
	"lpRebalancer/internal/adapters/uniswapv3"
	"lpRebalancer/internal/strategy/ranges"
)

func main() {
	days := flag.Int("days", 7, "Length of the fee window ending now")
	capitalStr := flag.String("capital", "", "Quote capital to size the range, defaults to INITIAL_CAPITAL")
	buffer := flag.Float64("buffer", 0, "Range half-width in percent, defaults to BUFFER_PCT")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if cfg.PoolAddress == "" {
		log.Fatalf("FATAL: POOL_ADDRESS must be set")
	}
	capital := cfg.Engine.InitialCapital
	if *capitalStr != "" {
		if capital, err = decimal.NewFromString(*capitalStr); err != nil {
			log.Fatalf("FATAL: Invalid -capital %q: %v", *capitalStr, err)
		}
	}
	if *buffer <= 0 {
		*buffer = cfg.Engine.BufferPct
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx := context.Background()
	reader, err := uniswapv3.Dial(ctx, uniswapv3.Config{
		RPCURL:      cfg.RPCURL,
		PoolAddress: cfg.PoolAddress,
		InvertPrice: cfg.InvertPrice,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to connect pool reader")
		log.Fatalf("FATAL: Failed to connect pool reader: %v", err)
	}
	defer reader.Close()

	price, err := reader.Price(ctx)
	if err != nil {
		log.Fatalf("Error reading pool price: %v", err)
	}
	rng, err := ranges.ComputeRange(price, capital, *buffer)
	if err != nil {
		log.Fatalf("Error computing range: %v", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	appLogger.Info(ctx, "Measuring on-chain fees", map[string]interface{}{
		"pool": cfg.PoolAddress, "price": price, "lower": rng.LowerPrice, "upper": rng.UpperPrice, "start": start, "end": end,
	})
	est, err := reader.EstimateRangeFees(ctx, rng, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error estimating fees")
		log.Fatalf("Error estimating fees: %v", err)
	}

	fmt.Printf("Blocks:        %d -> %d (%s)\n", est.FromBlock, est.ToBlock, est.Period.Round(time.Second))
	fmt.Printf("Range:         [%.6f, %.6f) liquidity %.6f\n", rng.LowerPrice, rng.UpperPrice, rng.Liquidity)
	fmt.Printf("Token0 fees:   %.8f\n", est.Token0)
	fmt.Printf("Token1 fees:   %.8f\n", est.Token1)
	fmt.Printf("Total fees:    %s\n", est.QuoteFees.StringFixed(6))
	fmt.Printf("APR:           %.2f%%\n", est.APRPct(capital))
}
