package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"lpRebalancer/config"
	"lpRebalancer/internal/adapters/binanceclient"
	"lpRebalancer/internal/adapters/logger"
	"lpRebalancer/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "", "Binance symbol, defaults to SYMBOL")
	interval := flag.String("interval", "", "Kline interval, defaults to INTERVAL")
	days := flag.Int("days", 90, "How many days of history to fetch")
	outDir := flag.String("out", "data", "Directory for the CSV file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *symbol == "" {
		*symbol = cfg.Symbol
	}
	if *interval == "" {
		*interval = cfg.Interval
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(context.Background(), "Fetching klines", map[string]interface{}{
		"symbol": *symbol, "interval": *interval, "start": start, "end": end,
	})
	klines, err := binanceClient.GetKlinesRange(context.Background(), *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(context.Background(), "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", *symbol, *interval, start.Format("20060102"), end.Format("20060102")))
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(context.Background(), err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved to", map[string]interface{}{"filename": filename})
}
