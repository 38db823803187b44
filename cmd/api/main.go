// Package main is the entrypoint for the HANBAT-BOX API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/galaxy4276/HANBAT-BOX/internal/analytics"
	"github.com/galaxy4276/HANBAT-BOX/internal/cache"
	"github.com/galaxy4276/HANBAT-BOX/internal/config"
	"github.com/galaxy4276/HANBAT-BOX/internal/handler"
	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
	"github.com/galaxy4276/HANBAT-BOX/internal/middleware"
	"github.com/galaxy4276/HANBAT-BOX/internal/repository"
	"github.com/galaxy4276/HANBAT-BOX/internal/server"
	"github.com/galaxy4276/HANBAT-BOX/internal/service"
	"github.com/galaxy4276/HANBAT-BOX/internal/storage"
)

// storageProbeKey is looked up by the readiness probe; it never needs to exist.
const storageProbeKey = "healthz/probe"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	blobs, err := newStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize attachment storage",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", sanitizeError(err, cfg.AzureConnectionString)),
		)
		_ = cacheClient.Close()
		repo.Close()
		os.Exit(1)
	}
	logger.Info("attachment storage ready", "backend", cfg.StorageBackend)

	recorder := metrics.NewInMemory()

	boxService := service.NewBoxService(repo, cacheClient, blobs, service.BoxServiceConfig{
		PageSize:          cfg.PageSize,
		ListCacheTTL:      cfg.ListCacheTTL,
		UploadConcurrency: cfg.UploadConcurrency,
	}, logger, recorder)

	var (
		publisher handler.DownloadPublisher
		worker    *analytics.Worker
	)
	if cfg.AnalyticsEnabled {
		publisher = analytics.NewPublisher(cacheClient.Client(), logger, recorder)
		worker = analytics.NewWorker(
			cacheClient.Client(),
			repository.NewDownloadEventRepository(repo),
			logger,
			analytics.NewConsumerID(),
			analytics.WorkerConfig{
				BatchSize: cfg.AnalyticsBatchSize,
				ClaimIdle: cfg.AnalyticsClaimIdle,
			},
			recorder,
		)
	}

	h := handler.New()
	healthHandler := handler.NewHealthHandler(repo, cacheClient, handler.HealthCheckFunc(func(ctx context.Context) error {
		_, err := blobs.Exists(ctx, storageProbeKey)
		return err
	}))
	metricsHandler := handler.NewMetricsHandler(recorder)
	boxHandler := handler.NewBoxHandler(boxService, publisher, cfg.UploadMemoryBytes(), logger)

	r := setupRouter(h, healthHandler, metricsHandler, boxHandler, cacheClient, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, stopped last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	if worker != nil {
		workerCtx, cancelWorker := context.WithCancel(ctx)
		defer cancelWorker()

		go func() {
			if err := worker.Run(workerCtx); err != nil {
				logger.Error("download worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("download-worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"storage", cfg.StorageBackend,
		"analytics", cfg.AnalyticsEnabled,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// newStorage builds and initializes the configured attachment backend.
func newStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.System, error) {
	var (
		blobs storage.System
		err   error
	)

	switch cfg.StorageBackend {
	case config.StorageFilesystem:
		blobs, err = storage.NewFilesystem(cfg.StoragePath, logger)
	case config.StorageAzure:
		blobs, err = storage.NewAzure(cfg.AzureConnectionString, cfg.AzureContainer, logger)
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, err
	}

	if err := blobs.Init(ctx); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return blobs, nil
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	metricsHandler *handler.MetricsHandler,
	boxHandler *handler.BoxHandler,
	cacheClient *cache.Cache,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)
	r.Get("/", h.Hello)

	rateLimit := middleware.RateLimitUpload(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cacheClient,
		Enabled: cfg.RateLimitUploadEnabled,
		RPS:     cfg.RateLimitUploadRPS,
		Burst:   cfg.RateLimitUploadBurst,
	})

	uploadLimit := middleware.MaxBodySize(cfg.MaxUploadBytes())
	readLimit := middleware.MaxBodySize(middleware.DefaultSecurityConfig().MaxRequestBodySize)

	handler.Mount(r, boxHandler.Routes(), func(route handler.Route) []func(http.Handler) http.Handler {
		if route.Method == http.MethodPost {
			return []func(http.Handler) http.Handler{rateLimit, uploadLimit}
		}
		return []func(http.Handler) http.Handler{readLimit}
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)(password|accountkey)=[^\s;]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" || redacted == secret {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllStringFunc(msg, func(m string) string {
		key, _, _ := strings.Cut(m, "=")
		return key + "=redacted"
	})
}
