package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelrally/reelrally-backend/internal/assets"
	"github.com/reelrally/reelrally-backend/internal/ingestion"
	"github.com/reelrally/reelrally-backend/internal/ownership"
	"github.com/reelrally/reelrally-backend/internal/scrapejobs"
	"github.com/reelrally/reelrally-backend/internal/verification"
	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/metrics"
	"github.com/reelrally/reelrally-backend/pkg/migrate"
	"github.com/reelrally/reelrally-backend/pkg/pubsub"
	"github.com/reelrally/reelrally-backend/pkg/queue"
	"github.com/reelrally/reelrally-backend/pkg/redis"
	"github.com/reelrally/reelrally-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing object storage", err)
		}
	}()

	assetStore, err := assets.NewStore(gcsClient, cfg.Assets, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build asset store", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	mets := metrics.NewPipelineMetrics(registry)

	jobsRepo := scrapejobs.NewRepository(dbClient.DB())
	scraper, err := scrapejobs.NewClient(cfg.Provider, jobsRepo, mets, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build scrape client", err)
		os.Exit(1)
	}

	owners, err := ownership.NewService(dbClient, ownership.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build ownership service", err)
		os.Exit(1)
	}

	reconciler, err := ingestion.NewReconciler(
		dbClient,
		ingestion.NewRepository(dbClient.DB()),
		jobsRepo,
		assetStore,
		nil,
		redisClient,
		cfg.Ingestion,
		cfg.FeatureFlags,
		mets,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build reconciler", err)
		os.Exit(1)
	}

	poller, err := verification.NewPoller(
		verification.NewRepository(dbClient.DB()),
		scraper,
		jobsRepo,
		owners,
		cfg.Verification,
		mets,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build verification poller", err)
		os.Exit(1)
	}

	consumer, err := ingestion.NewConsumer(
		queue.NewRepository(dbClient.DB()),
		reconciler,
		scraper,
		poller,
		cfg.Ingestion,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})

	errCh := make(chan error, 2)

	if cfg.PubSub.Configured() {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub client", err)
			}
		}()

		dispatcher, err := ingestion.NewDispatcher(
			queue.NewRepository(dbClient.DB()),
			ingestion.TopicPublisher{Topic: psClient.IngestPublisher()},
			nil,
			cfg.Ingestion,
			logg,
		)
		if err != nil {
			logg.Error(ctx, "failed to build dispatcher", err)
			os.Exit(1)
		}

		logg.Info(ctx, "starting worker in pubsub mode")
		go func() { errCh <- dispatcher.Run(ctx) }()
		go func() { errCh <- consumer.Run(ctx, psClient.IngestSubscription()) }()
	} else {
		dispatcher, err := ingestion.NewDispatcher(
			queue.NewRepository(dbClient.DB()),
			nil,
			consumer,
			cfg.Ingestion,
			logg,
		)
		if err != nil {
			logg.Error(ctx, "failed to build dispatcher", err)
			os.Exit(1)
		}

		logg.Info(ctx, "starting worker in direct mode, pubsub not configured")
		go func() { errCh <- dispatcher.Run(ctx) }()
	}

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
