// Command apiserver runs the cohort screening HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinforge/cohortd/internal/application/comparisons"
	"github.com/clinforge/cohortd/internal/application/datasets"
	"github.com/clinforge/cohortd/internal/application/filters"
	"github.com/clinforge/cohortd/internal/application/screening"
	"github.com/clinforge/cohortd/internal/config"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres/repositories"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/prometheus"
	"github.com/clinforge/cohortd/internal/infrastructure/storage/minio"
	httpserver "github.com/clinforge/cohortd/internal/interfaces/http"
	"github.com/clinforge/cohortd/internal/interfaces/http/handlers"
	"github.com/clinforge/cohortd/internal/interfaces/http/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, portOverride int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger.Info("Starting cohortd API server", logging.Int("port", cfg.Server.Port))

	// ── Infrastructure ──────────────────────────────────────────────────

	pg, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	cache := redis.NewRedisCache(redisClient, logger,
		redis.WithDefaultTTL(cfg.Redis.DefaultTTL))

	objects, err := minio.NewClient(cfg.MinIO, logger)
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	store := minio.NewObjectStore(objects, logger)

	var audit kafka.Publisher = kafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		audit = kafka.NewPublisher(cfg.Kafka, logger)
	}
	defer audit.Close()

	metrics := prometheus.NewCollector()

	// ── Repositories and services ───────────────────────────────────────

	filterRepo := repositories.NewPostgresFilterRepo(pg, logger)
	mdRepo := repositories.NewPostgresMasterDataRepo(pg, logger)
	cohortRepo := repositories.NewPostgresCohortRepo(pg, logger)
	comparisonRepo := repositories.NewPostgresComparisonRepo(pg, logger)

	datasetSvc := datasets.NewService(mdRepo, cohortRepo, store, audit, logger)
	filterSvc := filters.NewService(filterRepo, mdRepo, cache, cfg.Redis.DefaultTTL, audit, logger)
	screeningSvc := screening.NewService(cohortRepo, filterRepo, mdRepo, datasetSvc,
		cache, audit, metrics, logger)
	comparisonSvc := comparisons.NewService(cohortRepo, comparisonRepo, cache,
		cfg.Comparison.CacheTTL, audit, metrics, logger)

	// ── HTTP surface ────────────────────────────────────────────────────

	limiter := middleware.NewTokenBucketLimiter(
		float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitRPS*2,
		middleware.DefaultRateLimitConfig().CleanupInterval)
	defer limiter.Stop()

	router := httpserver.NewRouter(httpserver.RouterConfig{
		FilterHandler:     handlers.NewFilterHandler(filterSvc),
		DatasetHandler:    handlers.NewDatasetHandler(datasetSvc, cfg.Server.MaxBodySize),
		CohortHandler:     handlers.NewCohortHandler(screeningSvc),
		ComparisonHandler: handlers.NewComparisonHandler(comparisonSvc),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.DependencyCheck{
			"postgres": pg.HealthCheck,
			"redis":    cache.Ping,
			"minio":    objects.HealthCheck,
		}),

		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Tokens:  cfg.Auth.Tokens,
		}, logger),
		TenantMiddleware: middleware.NewTenantMiddleware(middleware.TenantConfig{
			HeaderName:      cfg.Multitenancy.TenantHeader,
			DefaultTenantID: cfg.Multitenancy.DefaultTenant,
			Required:        cfg.Multitenancy.DefaultTenant == "",
		}, logger),
		CORS:           middleware.CORS(middleware.DefaultCORSConfig()),
		RequestLogging: middleware.RequestLogging(logger, middleware.DefaultLoggingConfig()),
		RateLimit:      middleware.RateLimit(limiter, middleware.DefaultRateLimitConfig()),

		Logger:  logger,
		Metrics: metrics,
	})

	srv := httpserver.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Received shutdown signal", logging.String("signal", sig.String()))
	}

	return srv.Stop(context.Background())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
