// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/api"
	"github.com/avncodex/indexer/internal/clock/system"
	"github.com/avncodex/indexer/internal/config"
	"github.com/avncodex/indexer/internal/crawl"
	"github.com/avncodex/indexer/internal/freshness"
	"github.com/avncodex/indexer/internal/indexer"
	"github.com/avncodex/indexer/internal/logging"
	"github.com/avncodex/indexer/internal/metrics"
	"github.com/avncodex/indexer/internal/progress"
	"github.com/avncodex/indexer/internal/progress/sinks"
	"github.com/avncodex/indexer/internal/scheduler"
	"github.com/avncodex/indexer/internal/source/checker"
	"github.com/avncodex/indexer/internal/source/feed"
	"github.com/avncodex/indexer/internal/source/forum"
	"github.com/avncodex/indexer/internal/storage/memory"
	"github.com/avncodex/indexer/internal/storage/postgres"
)

// App holds the shared, long-lived services for the indexer. It is built
// once at startup and fails fast when a critical service cannot start.
type App struct {
	Cfg          config.Config
	Logger       *zap.Logger
	Records      indexer.RecordStore
	Orchestrator *crawl.Orchestrator
	Refresher    *freshness.Refresher
	Server       *api.Server
	Scheduler    *scheduler.Scheduler
	Progress     *progress.Hub
	ProgressFeed *sinks.RingSink

	closeStore func()
}

// New wires every service from configuration. ctx bounds startup work and
// the background crawls launched via the API or scheduler.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}

	if cfg.DB.DSN != "" {
		logger.Info("connecting to postgres")
		store, err := postgres.NewGameStore(ctx, postgres.GameStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := store.Bootstrap(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
		a.Records = store
		a.closeStore = store.Close
	} else {
		logger.Info("db.dsn empty, using in-memory store")
		a.Records = memory.NewGameStore()
	}

	listing, err := forum.NewClient(forum.Config{
		BaseURL:   cfg.Forum.BaseURL,
		Username:  cfg.Forum.Username,
		Password:  cfg.Forum.Password,
		UserAgent: cfg.Forum.UserAgent,
		Timeout:   time.Duration(cfg.Forum.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init forum client: %w", err)
	}

	clk := system.New()

	check, err := checker.NewClient(checker.Config{
		BaseURL:    cfg.Checker.BaseURL,
		UserAgent:  cfg.Checker.UserAgent,
		Timeout:    time.Duration(cfg.Checker.TimeoutSeconds) * time.Second,
		DailyLimit: cfg.Checker.DailyLimit,
	}, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("init checker client: %w", err)
	}

	var feedSource indexer.FeedSource
	if cfg.Feed.BaseURL != "" {
		feedSource, err = feed.NewClient(feed.Config{
			BaseURL:   cfg.Feed.BaseURL,
			UserAgent: cfg.Feed.UserAgent,
			Timeout:   time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init feed client: %w", err)
		}
	}

	states, err := crawl.NewFileStateStore(cfg.Crawl.StatePath)
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}

	a.ProgressFeed = sinks.NewRingSink(256)
	a.Progress = progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
		a.ProgressFeed,
	)

	pageDelay, pageRetry, detailDelay, batchDelay, batchOverhead := cfg.CrawlSettings()
	a.Orchestrator, err = crawl.NewOrchestrator(crawl.Config{
		PageSize:         cfg.Crawl.PageSize,
		PageDelay:        pageDelay,
		PageRetryBackoff: pageRetry,
		BatchSize:        cfg.Crawl.BatchSize,
		DetailDelay:      detailDelay,
		BatchDelay:       batchDelay,
		BatchOverhead:    batchOverhead,
	}, a.Records, listing, check, check, states, clk, system.NewSleeper(), a.Progress, logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	a.Refresher = freshness.NewRefresher(
		freshness.NewPolicy(cfg.FreshnessWindow()),
		a.Records, check, check, clk, cfg.Crawl.PageSize, logger,
	)

	a.Server = api.NewServer(a.Records, a.Refresher, a.Orchestrator, feedSource, a.ProgressFeed, cfg, logger, ctx)

	if cfg.Scheduler.Enabled {
		interval, err := time.ParseDuration(cfg.Scheduler.Interval)
		if err != nil {
			return nil, fmt.Errorf("parse scheduler interval: %w", err)
		}
		a.Scheduler, err = scheduler.New(ctx, a.Orchestrator, interval, logger)
		if err != nil {
			return nil, fmt.Errorf("init scheduler: %w", err)
		}
	}

	logger.Info("application services initialized")
	return a, nil
}

// Close releases held resources. Safe to call once after shutdown.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Progress != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Progress.Close(flushCtx); err != nil {
			a.Logger.Warn("progress hub close", zap.Error(err))
		}
		cancel()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	_ = a.Logger.Sync() //nolint:errcheck // best-effort flush
}
