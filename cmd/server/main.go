// Helping Hand - chat widget server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/helping-hand/internal/api"
	"github.com/ashureev/helping-hand/internal/config"
	"github.com/ashureev/helping-hand/internal/health"
	"github.com/ashureev/helping-hand/internal/identity"
	"github.com/ashureev/helping-hand/internal/live"
	"github.com/ashureev/helping-hand/internal/metrics"
	"github.com/ashureev/helping-hand/internal/middleware"
	"github.com/ashureev/helping-hand/internal/provider"
	"github.com/ashureev/helping-hand/internal/session"
	"github.com/ashureev/helping-hand/internal/store"
	"github.com/ashureev/helping-hand/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Provider.Kind)

	// Transcript archive (optional).
	var repo store.Repository
	if cfg.Archive.Enabled {
		sqliteStore, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := sqliteStore.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		repo = sqliteStore
		slog.Info("Transcript archive connected", "db_path", cfg.DBPath)
	} else {
		slog.Info("Transcript archive disabled")
	}

	// Metrics.
	var m *metrics.Metrics
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)
	}

	prov, err := provider.FromConfig(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize response provider", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(session.Options{
		Greeting:         cfg.Content.Greeting,
		Suggestions:      cfg.Content.Suggestions,
		Provider:         prov,
		Repo:             repo,
		ArchiveQueueSize: cfg.Archive.QueueSize,
		ArchiveRetention: cfg.Archive.Retention,
		Metrics:          m,
		Logger:           logger,
	})

	// One limiter throttles submits from both transports.
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	apiHandler := api.NewHandler(api.Options{
		Sessions:  sessions,
		Content:   cfg.Content,
		Repo:      repo,
		Metrics:   m,
		RateLimit: cfg.RateLimit,
		Limiter:   limiter,
		SSE:       cfg.SSE,
		Logger:    logger,
	})
	defer apiHandler.Close()

	sockets := live.NewRegistry()
	wsHandler := live.NewHandler(live.Options{
		Sessions:      sessions,
		Registry:      sockets,
		Limiter:       limiter,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		ReadLimit:     cfg.SSE.MaxRequestBodySize,
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Get("/healthz", apiHandler.HandleHealth)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Visitor-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/sessions/{id}", wsHandler.ServeHTTP)
	})

	// Serve embedded widget page (catch-all).
	r.Handle("/*", web.Handler())

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

	// Optional gRPC health service.
	var healthSrv *health.Server
	if cfg.GRPCHealthAddr != "" {
		var check health.Checker
		if repo != nil {
			check = repo.Ping
		}
		healthSrv = health.New(check, logger)
		healthSrv.StartChecks(ctx, 0)
		go func() {
			if err := healthSrv.ListenAndServe(cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health service failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	if healthSrv != nil {
		healthSrv.Stop()
	}

	// Ending sessions first closes event streams and sockets, which would
	// otherwise hold Shutdown open.
	sessions.Close()
	sockets.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
