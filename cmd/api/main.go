package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/vendorportal/core/internal/audit"
	"github.com/vendorportal/core/internal/auth"
	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/config"
	"github.com/vendorportal/core/internal/database"
	"github.com/vendorportal/core/internal/grpcserver"
	"github.com/vendorportal/core/internal/health"
	mw "github.com/vendorportal/core/internal/middleware"
	inats "github.com/vendorportal/core/internal/nats"
	"github.com/vendorportal/core/internal/pricing"
	"github.com/vendorportal/core/internal/ratelimit"
	iredis "github.com/vendorportal/core/internal/redis"
	"github.com/vendorportal/core/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis is required when either shared store uses it.
	var redisClient *redis.Client
	if cfg.RateLimit.Store == "redis" || cfg.Breaker.Store == "redis" {
		redisClient, err = iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// NATS (optional)
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
	} else {
		slog.Warn("NATS_URL is empty, circuit events and audit trail are log-only")
	}

	// Rate limiter
	var counters ratelimit.CounterStore
	if cfg.RateLimit.Store == "redis" {
		counters = ratelimit.NewRedisStore(redisClient)
	} else {
		counters = ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{})
	}
	limiter := ratelimit.NewLimiter(
		counters,
		ratelimit.NewTierTable(cfg.RateLimit.Window, cfg.RateLimit.TierLimits),
		ratelimit.ParseFailurePolicy(cfg.RateLimit.FailurePolicy),
	)

	// Circuit breakers
	var states breaker.StateStore
	if cfg.Breaker.Store == "redis" {
		states = breaker.NewRedisStore(redisClient)
	} else {
		states = breaker.NewMemoryStore()
	}

	registryOpts := []breaker.Option{
		breaker.WithUnavailablePolicy(breaker.ParseUnavailablePolicy(cfg.Breaker.UnavailablePolicy)),
		breaker.WithListener(breaker.MetricsListener()),
	}
	auditRepo := audit.NewRepository(pool)
	if natsClient != nil {
		publisher := inats.NewPublisher(natsClient.JetStream())
		registryOpts = append(registryOpts,
			breaker.WithListener(publisher),
			breaker.WithAuditSink(publisher),
		)

		auditConsumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := auditConsumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	registry := breaker.NewRegistry(states, breaker.DefaultCatalog(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration,
	}), registryOpts...)

	created, err := registry.InitializeAllServices(ctx)
	if err != nil {
		slog.Warn("initializing circuits", "error", err)
	} else {
		slog.Info("circuits initialized", "created", created)
	}

	// Health
	aggOpts := []health.Option{
		health.WithRateLimiter(limiter),
		health.WithProbe(breaker.ServiceDatabase, func(ctx context.Context) error {
			return database.HealthCheck(ctx, pool)
		}),
	}
	if redisClient != nil {
		aggOpts = append(aggOpts, health.WithProbe(breaker.ServiceCache, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if natsClient != nil {
		aggOpts = append(aggOpts, health.WithProbe(breaker.ServiceMessageBus, natsClient.Ping))
	}
	aggregator := health.NewAggregator(registry, aggOpts...)

	// Pricing
	calc := pricing.DefaultCalculator()
	usage := pricing.NewUsageService(pricing.NewPostgresUsageRepository(pool), calc, registry, breaker.ServiceDatabase)

	// Router
	trusted, err := mw.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		slog.Error("parsing trusted proxies", "error", err)
		os.Exit(1)
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	router := server.NewRouter(
		server.RouterConfig{
			CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
			TrustedProxies:     trusted,
			Limiter:            limiter,
		},
		server.HandlerSet{
			Health:         health.NewHandler(aggregator),
			Pricing:        pricing.NewHandler(calc, usage),
			Circuit:        breaker.NewHandler(registry),
			Audit:          audit.NewHandler(auditRepo),
			AuthMiddleware: auth.Middleware(jwtManager),
		},
	)

	// Start servers
	srv := server.New(cfg.Server, router,
		server.WithBackground(grpcserver.New(cfg.GRPC, aggregator)),
	)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
