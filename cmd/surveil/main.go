// Polywatch — a market-surveillance engine for Polymarket binary prediction
// markets. It mirrors order books from the realtime feed, profiles wallets,
// detects whale trades and coordinated entry patterns, and persists every
// detection.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires collaborators, waits for SIGINT/SIGTERM
//	stream/processor.go  — orchestrator: routes feed frames to books, wallets, whales and processors
//	feed/client.go       — WebSocket subscription client with auto-reconnect and resubscribe
//	clob/client.go       — rate-limited REST client for the CLOB API (books, trades, prices)
//	book/                — local order book mirrors plus depth/impact analysis
//	markets/fetcher.go   — polls the Gamma API for active markets worth watching
//	wallet/              — per-address profiles, risk scores and funding-link analysis
//	whale/               — whale-trade detection and decaying probability adjustment
//	signal/              — detection processors and the dispatch registry
//	store/store.go       — bounded in-memory state with JSON persistence for detections
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polywatch/internal/api"
	"polywatch/internal/book"
	"polywatch/internal/clob"
	"polywatch/internal/config"
	"polywatch/internal/feed"
	"polywatch/internal/liquidity"
	"polywatch/internal/markets"
	sig "polywatch/internal/signal"
	"polywatch/internal/store"
	"polywatch/internal/stream"
	"polywatch/internal/wallet"
	"polywatch/internal/whale"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SURVEIL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	books := book.NewManager(logger)
	liqTracker := liquidity.NewTracker(st, logger)
	wallets := wallet.NewTracker(st, cfg.WalletTrackerConfig(), logger)
	funding := wallet.NewFundingAnalyzer(st, logger)
	whales := whale.NewDetector(books, st, cfg.WhaleDetectorConfig(), logger)
	adjuster := whale.NewAdjuster(cfg.WhaleAdjusterConfig(), logger)
	fetcher := markets.NewFetcher(cfg.MarketsFetcherConfig(), st, logger)
	clobClient := clob.NewClient(cfg.Polymarket.ClobURL, cfg.RateLimits(), logger)

	liqProc := sig.NewLiquidityImpact(cfg.Signals.LiquidityImpact)
	registry := sig.NewRegistry(st, logger)
	registry.Register(sig.NewFreshWallet(wallets, cfg.Signals.FreshWallet))
	registry.Register(liqProc)
	registry.Register(sig.NewWalletAccuracy(wallets, cfg.Signals.WalletAccuracy))
	registry.Register(sig.NewTimingPattern(st, cfg.Signals.TimingPattern))
	registry.Register(sig.NewSniperCluster(st, funding, cfg.Signals.SniperCluster))
	registry.Register(sig.NewVolumeSpike(cfg.Signals.VolumeSpike.Weight, cfg.Signals.VolumeSpike.Threshold))
	registry.Register(sig.NewProbabilityExtreme(cfg.Signals.ProbabilityExtreme.Weight, cfg.Signals.ProbabilityExtreme.Threshold))
	registry.Register(sig.NewHighLiquidity(cfg.Signals.HighLiquidity.Weight, cfg.Signals.HighLiquidity.Threshold))

	feedClient := feed.NewClient(cfg.Polymarket.WSURL, cfg.FeedOptions(), logger)

	processor := stream.New(stream.Deps{
		Feed:      feedClient,
		Books:     books,
		Liquidity: liqTracker,
		LiqProc:   liqProc,
		Wallets:   wallets,
		Whales:    whales,
		Adjuster:  adjuster,
		Registry:  registry,
		Store:     st,
		Fetcher:   fetcher,
		Clob:      clobClient,
	}, stream.Options{
		Enabled:                cfg.Realtime.Enabled,
		Workers:                cfg.Realtime.Workers,
		ProfileRefreshInterval: cfg.ProfileRefreshInterval(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{Enabled: true, Port: cfg.API.Port}, st, books, adjuster, processor, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("failed to start stream processor", "error", err)
		os.Exit(1)
	}

	logger.Info("polywatch started",
		"realtime", cfg.Realtime.Enabled,
		"workers", cfg.Realtime.Workers,
		"data_dir", cfg.Store.DataDir,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	received := <-sigCh
	logger.Info("received shutdown signal", "signal", received.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
	processor.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
