// Command fleetd wires every component (C1-C13) into a single running
// process: it loads configuration, builds the store/cache/ratelimit/
// resilience/health/failover/events/workflow/progress layers, registers the
// stub agents, and serves health, metrics and progress-gateway routes.
// CRUD endpoint wiring for the workflow control API is explicitly out of
// scope (it is the request layer's job, not the core's); only the routes
// the core itself needs to expose are mounted here.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/infraforge/fleet/agents"
	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/failover"
	"github.com/infraforge/fleet/health"
	"github.com/infraforge/fleet/metrics"
	"github.com/infraforge/fleet/progress"
	"github.com/infraforge/fleet/ratelimit"
	"github.com/infraforge/fleet/resilience"
	"github.com/infraforge/fleet/store"
	"github.com/infraforge/fleet/workflow"
)

// appConfig is the top-level environment-driven bootstrap configuration;
// per-subsystem config (EngineConfig, ServiceResilienceConfig) is decoded
// separately and composed here.
type appConfig struct {
	Port          int    `env:"FLEET_PORT" envDefault:"8080"`
	PostgresDSN   string `env:"FLEET_POSTGRES_DSN"`
	RedisURL      string `env:"FLEET_REDIS_URL"`
	MetricsPrefix string `env:"FLEET_METRICS_NAMESPACE" envDefault:"fleet"`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("fleetd: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	var cfg appConfig
	if err := core.ParseEnv(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	engineCfg := core.DefaultEngineConfig()
	if err := core.ParseEnv(&engineCfg); err != nil {
		return fmt.Errorf("parse engine env: %w", err)
	}
	if err := engineCfg.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	logger := core.NoOpLogger{} // replace with a structured logger binding in a real deployment
	clock := core.SystemClock{}
	idGen := core.UUIDGenerator{}

	reg := metrics.NewRegistry(cfg.MetricsPrefix)

	c, err := buildCache(cfg, clock, logger)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer c.Close()

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer st.Close()

	bus := events.NewBus(c, clock, idGen, logger)
	bus.Start(ctx, allEventTypes())
	defer bus.Stop()

	healthMgr := health.NewManager(clock, logger, true)
	registerHealthChecks(healthMgr, c, st)

	failoverOrch := failover.NewOrchestrator(clock, idGen, logger, func(ev core.FailoverEvent) {
		_ = bus.Emit(context.Background(), core.EventNotification, map[string]interface{}{
			"kind": "failover", "service": ev.Service, "from": ev.FromEndpoint, "to": ev.ToEndpoint, "reason": ev.Reason,
		})
	})
	_ = failoverOrch

	coordinators, err := buildCoordinators(c, clock, logger)
	if err != nil {
		return fmt.Errorf("build resilience coordinators: %w", err)
	}

	checkpoints := workflow.NewCheckpointStore(st, c)
	engine := workflow.NewEngine(engineCfg, checkpoints, st, bus, clock, idGen, logger)
	agents.Register(engine, coordinators, idGen, clock)
	if err := engine.ResumeAll(ctx); err != nil {
		logger.Warn("failed to resume in-flight workflows", map[string]interface{}{"error": err.Error()})
	}
	go runCleanupLoop(ctx, engine, logger)

	gateway := progress.NewGateway(bus, st, clock, logger, engineCfg)

	router := buildRouter(reg, healthMgr, gateway)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("fleetd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildCache(cfg appConfig, clock core.Clock, logger core.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		return cache.NewInMemoryCache(clock), nil
	}
	return cache.NewRedisCache(cache.RedisCacheOptions{RedisURL: cfg.RedisURL, Namespace: "fleet", Logger: logger})
}

func buildStore(ctx context.Context, cfg appConfig, logger core.Logger) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		return store.NewInMemoryStore(core.SystemClock{}), nil
	}
	return store.NewPostgresStore(ctx, cfg.PostgresDSN, logger)
}

// buildCoordinators constructs one resilience.Coordinator per agent role,
// using the §6-documented defaults; a production deployment would instead
// decode per-service overrides from YAML via core.LoadYAMLStrict.
func buildCoordinators(c cache.Cache, clock core.Clock, logger core.Logger) (map[string]*resilience.Coordinator, error) {
	roles := []string{agents.RoleStrategic, agents.RoleTechnical, agents.RoleResearch}
	out := make(map[string]*resilience.Coordinator, len(roles))
	for _, role := range roles {
		svcCfg := core.DefaultServiceResilienceConfig(role)
		coord, err := resilience.NewCoordinator(resilience.ServiceResilienceConfig{
			Name: role,
			CB:   resilience.DefaultCircuitBreakerConfig(role),
			Retry: resilience.RetryConfig{
				MaxAttempts:   svcCfg.MaxRetries,
				InitialDelay:  svcCfg.BaseDelay,
				MaxDelay:      svcCfg.MaxDelay,
				BackoffFactor: svcCfg.ExponentialBase,
				JitterEnabled: svcCfg.Jitter,
			},
			RateLimit: ratelimit.Config{
				Algorithm:         ratelimit.AlgorithmSlidingWindow,
				RequestsPerMinute: svcCfg.RequestsPerMinute,
				RequestsPerHour:   svcCfg.RequestsPerMinute * 60,
				BurstCapacity:     svcCfg.BurstCapacity,
				RefillRate:        svcCfg.RefillRate,
				WindowSize:        svcCfg.WindowSize,
				AdaptiveThreshold: svcCfg.AdaptiveThreshold,
				BackoffFactor:     svcCfg.BackoffFactor,
				RecoveryFactor:    svcCfg.RecoveryFactor,
			},
		}, c, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("coordinator for %s: %w", role, err)
		}
		out[role] = coord
	}
	return out, nil
}

func registerHealthChecks(mgr *health.Manager, c cache.Cache, st store.Store) {
	mgr.Register("cache", health.KindCache, true, 5*time.Second, func(ctx context.Context) (core.HealthStatus, map[string]interface{}, error) {
		if err := c.HealthCheck(ctx); err != nil {
			return core.HealthUnhealthy, nil, err
		}
		return core.HealthHealthy, nil, nil
	}, nil)
	mgr.Register("store", health.KindDatabase, true, 5*time.Second, func(ctx context.Context) (core.HealthStatus, map[string]interface{}, error) {
		if err := st.HealthCheck(ctx); err != nil {
			return core.HealthUnhealthy, nil, err
		}
		return core.HealthHealthy, nil, nil
	}, nil)
}

func runCleanupLoop(ctx context.Context, engine *workflow.Engine, logger core.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.Cleanup(ctx)
			if err != nil {
				logger.Warn("workflow cleanup failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				logger.Info("cleaned up terminal workflow records", map[string]interface{}{"count": n})
			}
		}
	}
}

func allEventTypes() []core.EventType {
	return []core.EventType{
		core.EventAgentStarted, core.EventAgentCompleted, core.EventAgentFailed,
		core.EventWorkflowStarted, core.EventWorkflowCompleted, core.EventWorkflowFailed,
		core.EventDataUpdated, core.EventUserInputReceived, core.EventRecommendationGenerated,
		core.EventReportGenerated, core.EventNotification, core.EventAlert,
		core.EventUserJoined, core.EventUserLeft, core.EventCursorUpdate, core.EventFormUpdate,
		core.EventHeartbeat, core.EventError, core.EventMetricsUpdate,
		core.EventWorkflowProgress, core.EventAgentStatus, core.EventStepCompleted,
	}
}

func buildRouter(reg *metrics.Registry, healthMgr *health.Manager, gateway *progress.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := healthMgr.SystemStatus()
		w.Header().Set("Content-Type", "application/json")
		if status == core.HealthUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"status":%q}`, status)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", reg.Handler())
	r.Get("/progress", gateway.Handler().ServeHTTP)

	return r
}
