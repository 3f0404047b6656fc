package main

import (
	"context"
	"log"
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

	"github.com/sarthi-ai/gateway/config"
	"github.com/sarthi-ai/gateway/internal/api"
	"github.com/sarthi-ai/gateway/internal/identity"
	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/orchestrator"
	"github.com/sarthi-ai/gateway/internal/recorder"
	"github.com/sarthi-ai/gateway/internal/router"
	"github.com/sarthi-ai/gateway/internal/seeder"
	"github.com/sarthi-ai/gateway/internal/telemetry"
	"github.com/sarthi-ai/gateway/internal/usage"
	"github.com/sarthi-ai/gateway/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("sarthi-gateway", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init usage store
	store := usage.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	loc, err := time.LoadLocation(cfg.UsageTimezone)
	if err != nil {
		log.Fatalf("failed to load usage timezone: %v", err)
	}
	rec := recorder.New(store, recorder.NewClock(loc))

	// 6. Init model registry
	registry := buildRegistry(cfg)

	// 7. Init router
	var estimator router.Estimator
	if cfg.ClassifierMode == "remote" {
		estimator = router.NewRemoteEstimator(cfg.ClassifierURL)
	} else {
		estimator = router.NewHeuristicEstimator(registry)
	}
	rt := router.New(registry, estimator)

	// 8. Init orchestrator
	orch := orchestrator.New(store, rec, rt, registry, cfg.ModelTimeout)

	// 9. Init rate limiter + identity middleware
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitQPM)
	identityMiddleware := identity.NewMiddleware(store, rdb)

	// 10. Init handler
	tracer := otel.GetTracerProvider().Tracer("sarthi-gateway")
	handler := api.NewHandler(orch, limiter, tracer)

	// 11. Seed demo user if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDemoUser(ctx, store)
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"sarthi-gateway"}`))
	})

	// Identity-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Post("/v1/query", handler.HandleQuery)
		r.Post("/v1/query/check", handler.HandleCheck)
		r.Post("/v1/route", handler.HandleRoute)
		r.Post("/v1/usage/record", handler.HandleRecord)
		r.Get("/v1/usage", handler.HandleUsage)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Sarthi Gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// buildRegistry wires the model catalog. With MODEL_ENDPOINT set, both tiers
// run against the upstream completion API; otherwise the basic tier falls
// back to a static local backend so the gateway works without credentials.
func buildRegistry(cfg *config.Config) *model.Registry {
	registry := model.NewRegistry()

	basicInfo := model.Info{ID: model.Basic, BaseCostUSD: 0.002}
	advancedInfo := model.Info{ID: model.Advanced, Advanced: true, BaseCostUSD: 0.03}

	if cfg.ModelEndpoint != "" {
		registry.Register(basicInfo, model.NewHTTPBackend(
			model.Basic, "gpt-4o-mini", cfg.ModelEndpoint, cfg.ModelAPIKey,
			0.00000015, 0.0000006, cfg.ModelTimeout))
		registry.Register(advancedInfo, model.NewHTTPBackend(
			model.Advanced, "gpt-4o", cfg.ModelEndpoint, cfg.ModelAPIKey,
			0.0000025, 0.00001, cfg.ModelTimeout))
		return registry
	}

	registry.Register(basicInfo, model.NewStaticBackend(
		model.Basic, "Sarthi is running in local mode; connect a model endpoint for real answers.", 0.0))
	registry.Register(advancedInfo, model.NewStaticBackend(
		model.Advanced, "Sarthi is running in local mode; connect a model endpoint for real answers.", 0.0))
	return registry
}
