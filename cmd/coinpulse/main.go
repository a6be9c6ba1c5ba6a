package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/coinpulse/internal/advisor"
	"github.com/rewired-gh/coinpulse/internal/aggregator"
	"github.com/rewired-gh/coinpulse/internal/cache"
	"github.com/rewired-gh/coinpulse/internal/config"
	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/scheduler"
	"github.com/rewired-gh/coinpulse/internal/server"
	"github.com/rewired-gh/coinpulse/internal/social"
	"github.com/rewired-gh/coinpulse/internal/storage"
	"github.com/rewired-gh/coinpulse/internal/telegram"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize upstream adapters
	client := upstream.NewClient(upstream.ClientConfig{
		Timeout:             cfg.Upstream.Timeout,
		MaxRetries:          cfg.Upstream.MaxRetries,
		RetryDelayBase:      cfg.Upstream.RetryDelayBase,
		RequestsPerMinute:   cfg.Upstream.RequestsPerMinute,
		Burst:               cfg.Upstream.Burst,
		UserAgent:           cfg.Upstream.UserAgent,
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
	})
	gecko := upstream.NewCoinGecko(client, cfg.Upstream.CoinGecko.BaseURL, cfg.Upstream.CoinGecko.APIKey, cfg.Upstream.CoinGecko.CoinIDs)
	sources := aggregator.Sources{Price: gecko, Trending: gecko, Volume: gecko, Dominance: gecko}
	switch {
	case cfg.Upstream.CryptoCompare.Enabled:
		sources.News = upstream.NewCryptoCompareNews(client, cfg.Upstream.CryptoCompare.BaseURL, cfg.Upstream.CryptoCompare.APIKey)
		logger.Debug("News source: CryptoCompare")
	case len(cfg.Upstream.Feeds) > 0:
		sources.News = upstream.NewFeedNews(client, cfg.Upstream.Feeds)
		logger.Debug("News source: %d RSS/Atom feeds", len(cfg.Upstream.Feeds))
	default:
		logger.Warn("No news source configured; news views are disabled")
	}

	// Initialize cache and aggregator
	viewCache := cache.New(cfg.Cache.IdleWindow)
	agg := aggregator.New(viewCache, sources, aggregator.Config{
		PriceTTL:      cfg.Cache.PriceTTL,
		TrendingTTL:   cfg.Cache.TrendingTTL,
		VolumeTTL:     cfg.Cache.VolumeTTL,
		DominanceTTL:  cfg.Cache.DominanceTTL,
		NewsTTL:       cfg.Cache.NewsTTL,
		TrendingLimit: cfg.Aggregator.TrendingLimit,
		DominanceTop:  cfg.Aggregator.DominanceTop,
	})

	// Initialize Telegram client
	var telegramClient *telegram.Client
	var notifier scheduler.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Initialize advisor
	socialSvc := social.New(store)
	deps := server.Deps{Market: agg, Social: socialSvc, Store: store}
	if cfg.Advisor.Enabled {
		adv, err := advisor.NewOpenAI(ctx, advisor.Config{
			BaseURL:           cfg.Advisor.BaseURL,
			APIKey:            cfg.Advisor.APIKey,
			Model:             cfg.Advisor.Model,
			Timeout:           cfg.Advisor.Timeout,
			RequestsPerMinute: cfg.Advisor.RequestsPerMinute,
			MaxHeadlines:      cfg.Advisor.MaxHeadlines,
			MaxTokens:         cfg.Advisor.MaxTokens,
			Temperature:       cfg.Advisor.Temperature,
		})
		if err != nil {
			logger.Fatal("Failed to initialize advisor: %v", err)
		}
		deps.Advisor = adv
		logger.Info("Advisor enabled (model: %s)", cfg.Advisor.Model)
	}

	// Register display surfaces
	registry := scheduler.NewRegistry()
	for _, sc := range cfg.Surfaces {
		runner, err := buildSurface(cfg, sc, agg, socialSvc, notifier)
		if err != nil {
			logger.Fatal("Failed to build surface %s: %v", sc.Name, err)
		}
		if err := registry.Add(runner); err != nil {
			logger.Fatal("Failed to register surface %s: %v", sc.Name, err)
		}
	}
	deps.Surfaces = registry

	// Start background work
	go viewCache.Run(ctx, cfg.Cache.SweepInterval)
	if cfg.Storage.VerifyInterval > 0 {
		go runCounterChecks(ctx, store, telegramClient, cfg.Storage.VerifyInterval, cfg.Storage.RepairDrift)
	}
	registry.StartAll(ctx)
	logger.Info("Started %d display surfaces", len(cfg.Surfaces))

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		Mode:         cfg.Server.Mode,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, deps)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed: %v", err)
		}
		cancel()
	}

	registry.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	logger.Info("Service stopped")
}

// runCounterChecks periodically compares denormalized counters with their
// relations, repairing and reporting any drift.
func runCounterChecks(ctx context.Context, store *storage.Storage, telegramClient *telegram.Client, interval time.Duration, repair bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCounters(ctx, store, telegramClient, repair)
		}
	}
}

func checkCounters(ctx context.Context, store *storage.Storage, telegramClient *telegram.Client, repair bool) {
	start := time.Now()
	mismatches, err := store.VerifyCounters(ctx)
	if err != nil {
		logger.Warn("Failed to verify counters: %v", err)
		return
	}
	if len(mismatches) == 0 {
		logger.Debug("Counters consistent (checked in %v)", time.Since(start))
		return
	}

	for _, m := range mismatches {
		logger.Warn("Counter drift: %s %s stored=%d actual=%d", m.Entity, m.ID, m.Stored, m.Actual)
	}

	var repaired int64
	if repair {
		repaired, err = store.RecountCounters(ctx)
		if err != nil {
			logger.Error("Failed to repair counters: %v", err)
		} else {
			logger.Info("Repaired %d counters", repaired)
		}
	}

	if telegramClient != nil {
		if err := telegramClient.SendCounterDrift(mismatches, repaired, time.Since(start)); err != nil {
			logger.Warn("Failed to send counter drift notification to Telegram: %v", err)
		}
	}
}
