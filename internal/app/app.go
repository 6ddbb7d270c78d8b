// Package app wires configuration, storage, domain services and the HTTP
// server of the storefront API.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000),
		health.FailureThreshold(3),
	)

	// Optional Redis for checkout idempotency.
	var idem handler.Idempotency
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, redisCheck(rdb))
		idem = redis.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
		lg.Info("Idempotency keys enabled", zap.Duration("ttl", cfg.IdempotencyTTL))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h, err := NewRouter(ctx, cfg, Deps{
		Pool:           pool,
		Health:         healthSvc,
		Idempotency:    idem,
		Logger:         zctx.From(ctx),
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Deps are the infrastructure the router is built on.
type Deps struct {
	Pool           *pgxpool.Pool
	Health         *health.Health
	Idempotency    handler.Idempotency // optional
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewRouter wires repositories, domain services and handlers into the
// middleware-wrapped HTTP handler of the API.
func NewRouter(ctx context.Context, cfg *Config, d Deps) (http.Handler, error) {
	// Repositories.
	customerRepo := postgres.NewCustomerRepository(d.Pool)
	offerRepo := postgres.NewOfferRepository(d.Pool)
	catalogRepo := postgres.NewCatalogRepository(d.Pool)
	orderRepo := postgres.NewOrderRepository(d.Pool)
	apikeyRepo := postgres.NewAPIKeyRepository(d.Pool)

	// Domain services.
	orderService, err := order.NewService(
		customerRepo,
		offerRepo,
		catalogRepo,
		postgres.NewTransactor(d.Pool),
		order.WithTracerProvider(d.TracerProvider),
		order.WithMeterProvider(d.MeterProvider),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	queryService := order.NewQueryService(orderRepo, customerRepo)

	tokens, err := auth.NewTokenVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, errors.Wrap(err, "create token verifier")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{Idempotency: d.Idempotency},
		orderService,
		queryService,
		tokens,
		handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", d.Health.LiveEndpoint)
	mux.HandleFunc("/readyz", d.Health.ReadyEndpoint)
	h.Register(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{
				"Content-Type", "Authorization", handler.APIKeyHeader,
				handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader,
			},
			ExposeHeaders:    []string{"Location", httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(d.Logger),
		httpmiddleware.Instrument(serviceName, d.TracerProvider, d.MeterProvider),
		httpmiddleware.LogRequests(),
	), nil
}

func redisCheck(rdb *goredis.Client) health.CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
