package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"lpRebalancer/config"
	"lpRebalancer/internal/adapters/binanceclient"
	"lpRebalancer/internal/adapters/logger"
	"lpRebalancer/internal/adapters/pricefeed"
	"lpRebalancer/internal/adapters/simpool"
	"lpRebalancer/internal/adapters/sqlite"
	"lpRebalancer/internal/adapters/uniswapv3"
	"lpRebalancer/internal/app"
	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
	"lpRebalancer/internal/strategy"
)

const streamBuffer = 256

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	pools, err := cfg.Pools()
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to load pool definitions")
		log.Fatalf("FATAL: Failed to load pool definitions: %v", err)
	}

	// 3. Initialize Ledger (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize ledger repository")
		log.Fatalf("FATAL: Failed to initialize ledger repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing ledger repository")
		}
	}()
	appLogger.Info(context.Background(), "Ledger repository initialized")

	// 4. Initialize Market Data Client (Binance Adapter)
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
	if err := binanceClient.Ping(context.Background()); err != nil {
		appLogger.Warn(context.Background(), "Binance ping failed, streams will keep retrying", map[string]interface{}{"error": err.Error()})
	}

	// Streams outlive individual services; they stop when main returns.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. One engine, simulator and feed per pool
	services := make([]*app.RebalanceService, 0, len(pools))
	for _, spec := range pools {
		svc, cleanup, err := buildService(ctx, cfg, spec, binanceClient, repo, appLogger.With(map[string]interface{}{"pool": spec.Name}))
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize pool", map[string]interface{}{"pool": spec.Name})
			log.Fatalf("FATAL: Failed to initialize pool %s: %v", spec.Name, err)
		}
		defer cleanup()
		services = append(services, svc)
	}

	// 6. Run every pool until interrupted
	runner, err := app.NewRunner(appLogger, services...)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize runner")
		log.Fatalf("FATAL: Failed to initialize runner: %v", err)
	}
	if err := runner.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Runner exited with error")
		cancel()
		log.Fatalf("FATAL: Runner exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// buildService wires a live kline stream, optional on-chain liquidity and a
// paper-trading pool into a RebalanceService.
func buildService(ctx context.Context, cfg *config.Config, spec config.PoolSpec, client ports.MarketDataClient, ledger ports.LedgerRepository, poolLogger *logger.ZapLogger) (*app.RebalanceService, func(), error) {
	stream := pricefeed.NewStreamFeed(streamBuffer)
	var feed ports.PriceFeed = stream
	var feeOracle ports.FeeOracle
	cleanup := func() {}

	if spec.PoolAddress != "" {
		reader, err := uniswapv3.Dial(ctx, uniswapv3.Config{
			RPCURL:      cfg.RPCURL,
			PoolAddress: spec.PoolAddress,
			InvertPrice: spec.InvertPrice,
			Logger:      poolLogger,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup = reader.Close
		if feeTier, err := reader.FeeTierBps(ctx); err == nil && feeTier != spec.Engine.FeeTierBps {
			poolLogger.Warn(ctx, "Configured fee tier differs from the pool contract", map[string]interface{}{
				"configured": spec.Engine.FeeTierBps, "onChain": feeTier,
			})
		}
		lf, err := pricefeed.NewLiquidityFeed(stream, reader, poolLogger)
		if err != nil {
			reader.Close()
			return nil, nil, err
		}
		feed = lf
		if cfg.ChainFees {
			feeOracle = reader
		}
	} else if cfg.ChainFees {
		poolLogger.Warn(ctx, "CHAIN_FEES ignored, pool has no address", map[string]interface{}{"pool": spec.Name})
	}

	engine, err := strategy.NewEngine(spec.Name, spec.Engine, poolLogger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sim, err := simpool.New(simpool.Config{
		Pool:          spec.Name,
		FeeTierBps:    spec.Engine.FeeTierBps,
		SharePolicy:   spec.Engine.SharePolicy,
		PoolLiquidity: spec.SimPoolLiquidity,
		FeeOracle:     feeOracle,
		Logger:        poolLogger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	svc, err := app.NewRebalanceService(engine, feed, sim, ledger, poolLogger, app.ServiceConfig{
		AdapterTimeout: cfg.AdapterTimeout,
		CloseOnExit:    cfg.CloseOnExit,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	done, err := client.StreamKlines(ctx, spec.Symbol, spec.Interval,
		func(k *domain.Kline) {
			if err := stream.Push(ctx, domain.SampleFromKline(k)); err != nil && !errors.Is(err, context.Canceled) {
				poolLogger.Warn(ctx, "Dropping kline, feed closed", map[string]interface{}{"closeTime": k.CloseTime})
			}
		},
		func(err error) {
			poolLogger.Warn(ctx, "Kline stream error", map[string]interface{}{"error": err.Error()})
		},
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	go func() {
		<-done
		stream.Close()
	}()

	return svc, cleanup, nil
}
