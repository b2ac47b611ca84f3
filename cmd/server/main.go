package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-hr-workflows/internal/clearance"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/handler"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/metrics"
	"github.com/pesio-ai/be-hr-workflows/internal/middleware"
	"github.com/pesio-ai/be-hr-workflows/internal/orgchart"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/repository/memstore"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// backend is everything the server needs from a store.
type backend interface {
	repository.Store
	repository.HierarchyStore
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Service.StoreDriver).
		Msg("Starting HR Workflows Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	var (
		store backend
		ping  = func(context.Context) error { return nil }
	)
	switch cfg.Service.StoreDriver {
	case "memory":
		store = memstore.New()
		log.Warn().Msg("Using in-memory store; data is lost on restart and notifications are not relayed")
	default:
		db, err := database.New(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}
		store = repository.NewPostgresStore(db)
		ping = db.Ping
	}

	// Initialize services
	policy := cfg.Policy
	resolver := orgchart.NewResolver(store, cfg.Resolver, log)
	org := orgchart.NewService(store, resolver, log)

	access, err := clearance.NewLaneAccess(policy.Clearance.LaneAccess, policy.Clearance.OverrideRoles)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid clearance policy")
	}
	engine := clearance.NewEngine(store, resolver, access, policy.Clearance.Template, log)
	executor := service.NewTransitionExecutor(store, resolver.Uncached(), engine, policy, log)
	queries := service.NewRequestQueries(store)

	org.OnChange(func(ctx context.Context) error {
		_, err := executor.RefreshApprovers(ctx)
		return err
	})
	if cfg.Resolver.RefreshInterval > 0 {
		go refreshApprovers(ctx, executor, cfg.Resolver.RefreshInterval, log)
	}

	if admin := cfg.Service.BootstrapAdmin; admin != "" {
		if err := bootstrapAdmin(ctx, org, resolver, policy, admin); err != nil {
			log.Fatal().Err(err).Str("user_id", admin).Msg("Failed to grant bootstrap admin")
		}
	}

	// Setup HTTP routes
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	httpHandler := handler.NewHTTPHandler(executor, queries, engine, org, resolver, policy, log).
		WithTrustedProxies(cfg.Server.TrustedProxies)
	httpHandler.Register(router, middleware.NewRateLimiter(cfg.Server.CommandRate, cfg.Server.CommandBurst))
	router.Use(middleware.Metrics)

	// Apply middleware
	var h http.Handler = router
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.CORS(cfg.Service.CORSOrigins)(h)
	h = middleware.Recovery(log)(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(log)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer, healthServer := handler.NewGRPCServer(log)
	handler.RegisterWorkflowsServer(grpcServer, handler.NewGRPCHandler(executor, queries, log))
	go handler.WatchHealth(ctx, healthServer, ping, 10*time.Second, log)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// refreshApprovers reroutes pending requests on a timer so seat terms that
// end without a hierarchy write still move the approval inbox.
func refreshApprovers(ctx context.Context, executor *service.TransitionExecutor, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := executor.RefreshApprovers(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Approver refresh failed")
				continue
			}
			if n > 0 {
				log.Info().Int("rerouted", n).Msg("Approvers refreshed")
			}
		}
	}
}

// bootstrapAdmin grants the first override role to userID unless they
// already hold one.
func bootstrapAdmin(ctx context.Context, org *orgchart.Service, resolver *orgchart.Resolver, policy *config.Policy, userID string) error {
	if len(policy.OverrideRoles) == 0 {
		return fmt.Errorf("policy has no override roles")
	}
	roles, err := resolver.ActorRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, have := range roles {
		for _, want := range policy.OverrideRoles {
			if have == want {
				return nil
			}
		}
	}
	_, err = org.GrantRole(ctx, userID, policy.OverrideRoles[0])
	return err
}
