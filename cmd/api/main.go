package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelrally/reelrally-backend/api/controllers"
	"github.com/reelrally/reelrally-backend/api/routes"
	"github.com/reelrally/reelrally-backend/internal/assets"
	"github.com/reelrally/reelrally-backend/internal/ownership"
	"github.com/reelrally/reelrally-backend/internal/scrapejobs"
	"github.com/reelrally/reelrally-backend/internal/submissions"
	"github.com/reelrally/reelrally-backend/internal/verification"
	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/metrics"
	"github.com/reelrally/reelrally-backend/pkg/migrate"
	"github.com/reelrally/reelrally-backend/pkg/queue"
	"github.com/reelrally/reelrally-backend/pkg/redis"
	"github.com/reelrally/reelrally-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}

	assetStore, err := assets.NewStore(gcsClient, cfg.Assets, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create asset store", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	mets := metrics.NewPipelineMetrics(registry)

	jobsRepo := scrapejobs.NewRepository(dbClient.DB())
	scraper, err := scrapejobs.NewClient(cfg.Provider, jobsRepo, mets, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create scrape client", err)
		os.Exit(1)
	}
	resolver, err := scrapejobs.NewResolver(jobsRepo, cfg.FeatureFlags.RecentMatchFallback, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create job resolver", err)
		os.Exit(1)
	}

	events := queue.NewService(queue.NewRepository(dbClient.DB()), logg)

	owners, err := ownership.NewService(dbClient, ownership.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ownership ledger", err)
		os.Exit(1)
	}

	submissionsSvc, err := submissions.NewService(
		dbClient,
		submissions.NewRepository(dbClient.DB()),
		owners,
		scraper,
		events,
		assetStore,
		cfg.Assets,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create submission service", err)
		os.Exit(1)
	}

	registrar, err := verification.NewRegistrar(dbClient, verification.NewRepository(dbClient.DB()), events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create verification registrar", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:          dbClient,
			Redis:       redisClient,
			Submissions: submissionsSvc,
			Registrar:   registrar,
			Resolver:    resolver,
			Jobs:        jobsRepo,
			Events:      events,
			Gatherer:    registry,
			Readiness: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
				"gcs":      gcsClient,
			},
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
