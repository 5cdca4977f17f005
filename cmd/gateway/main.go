package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/coach-gateway/config"
	"github.com/vnmchuo/coach-gateway/internal/auth"
	"github.com/vnmchuo/coach-gateway/internal/billing"
	"github.com/vnmchuo/coach-gateway/internal/coach"
	"github.com/vnmchuo/coach-gateway/internal/ledger"
	"github.com/vnmchuo/coach-gateway/internal/logger"
	"github.com/vnmchuo/coach-gateway/internal/provider"
	"github.com/vnmchuo/coach-gateway/internal/provider/claude"
	"github.com/vnmchuo/coach-gateway/internal/provider/openai"
	"github.com/vnmchuo/coach-gateway/internal/telemetry"
	"github.com/vnmchuo/coach-gateway/pkg/ratelimit"
)

const serviceName = "coach-gateway"

func main() {
	if err := run(); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Setup(os.Stderr, cfg.LogLevel); err != nil {
		return err
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()
	metrics := telemetry.NewMetrics()

	// 3. Open the usage store
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 4. Load the ledger
	usage, err := ledger.Open(ctx, store, ledger.Limits{
		Budget:    cfg.Budget,
		UserTotal: cfg.UserTotalLimit,
		UserDaily: cfg.UserDailyLimit,
	},
		ledger.WithLocation(cfg.Location),
		ledger.WithBreakdownKeys([]string{provider.OpenAI, provider.Claude}, coach.RequestTypes()),
	)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	stats := usage.SystemStats()
	logger.Info("ledger loaded",
		"backend", cfg.LedgerBackend,
		"records", stats.TotalRequests,
		"spent", stats.TotalCost.String(),
		"remaining", usage.RemainingBudget().String(),
	)

	// 5. Optional Redis throttle
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitRPM)
		logger.Info("redis connected, per-user throttle enabled", "rpm", cfg.RateLimitRPM)
	}

	// 6. Init providers
	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	// 7. Init router and handler
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	router := coach.NewRouter(providers, usage,
		coach.WithTimeout(cfg.ProviderTimeout),
		coach.WithMaxTokens(cfg.MaxTokens),
		coach.WithTracer(tracer),
		coach.WithMetrics(metrics),
		coach.WithLogger(logger.Logger),
	)
	handler := coach.NewHandler(router, limiter, metrics)

	// 8. Init Chi router
	r := chi.NewRouter()
	r.Use(auth.NewMiddleware())
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"coach-gateway"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Coaching API, identity from the upstream auth layer
	r.Route("/v1", func(r chi.Router) {
		r.Post("/coach", handler.HandleCoach)
		r.Get("/usage", handler.HandleUsage)
		r.Get("/budget", handler.HandleBudget)
	})

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("coach gateway starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (billing.Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		logger.Warn("memory ledger selected, usage will not survive a restart")
		return billing.NewMemoryStore(), nil
	case config.BackendSQLite:
		store, err := billing.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		store := billing.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create ledger schema: %w", err)
		}
		logger.Info("postgres connected")
		return &pooledStore{PostgresStore: store, pool: pool}, nil
	default:
		store, err := billing.NewFileStore(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file ledger: %w", err)
		}
		logger.Info("file ledger opened", "path", store.Path())
		return store, nil
	}
}

// pooledStore closes the pool together with the store.
type pooledStore struct {
	*billing.PostgresStore
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	s.pool.Close()
	return nil
}

func buildProviders(cfg *config.Config) ([]provider.Provider, error) {
	var providers []provider.Provider
	if cfg.OpenAIAPIKey != "" {
		p, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("openai: %w (supported: %v)", err, openai.SupportedModels())
		}
		providers = append(providers, p)
	} else {
		logger.Warn("OPENAI_API_KEY not set, technical and general requests will fail")
	}
	if cfg.AnthropicAPIKey != "" {
		p, err := claude.New(cfg.AnthropicAPIKey, cfg.ClaudeModel)
		if err != nil {
			return nil, fmt.Errorf("claude: %w (supported: %v)", err, claude.SupportedModels())
		}
		providers = append(providers, p)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, psychology and education requests will fail")
	}
	return providers, nil
}
