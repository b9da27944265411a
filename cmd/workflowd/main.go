// Command workflowd is the process entrypoint: load configuration, wire the
// registry/engine/router collaborators to either an in-memory or Postgres
// backing store, and serve the HTTP surface until signaled to stop.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"go.uber.org/zap"

	"github.com/go-logr/zapr"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workflowdev/workflowd/internal/config"
	"github.com/workflowdev/workflowd/internal/logging"
	"github.com/workflowdev/workflowd/internal/server"
	"github.com/workflowdev/workflowd/pkg/ai/insights"
	"github.com/workflowdev/workflowd/pkg/ai/providers/anthropic"
	"github.com/workflowdev/workflowd/pkg/ai/providers/bedrock"
	"github.com/workflowdev/workflowd/pkg/ai/providers/openai"
	"github.com/workflowdev/workflowd/pkg/ai/router"
	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/events"
	"github.com/workflowdev/workflowd/pkg/repository"
	"github.com/workflowdev/workflowd/pkg/repository/memory"
	"github.com/workflowdev/workflowd/pkg/repository/postgres"
	transporthttp "github.com/workflowdev/workflowd/transport/http"
	"github.com/workflowdev/workflowd/pkg/workflow/actions"
	"github.com/workflowdev/workflowd/pkg/workflow/engine"
	"github.com/workflowdev/workflowd/pkg/workflow/guards"
	"github.com/workflowdev/workflowd/pkg/workflow/idempotency"
	"github.com/workflowdev/workflowd/pkg/workflow/registry"
	"github.com/workflowdev/workflowd/pkg/workflow/statemachine"
	"github.com/workflowdev/workflowd/pkg/workflow/templates"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "workflowd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("WORKFLOWD_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLog, err := logging.NewZap(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}
	defer zapLog.Sync()
	logrLog := zapr.NewLogger(zapLog)

	domainLog, err := logging.NewLogrus(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build domain logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zapLog.Info("starting workflowd", zap.String("events_driver", cfg.Events.Driver))

	store, db, closeStore, err := buildStore(ctx, cfg, domainLog)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, domainLog)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	defer closePublisher()

	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		defer redisClient.Close()
	}

	guardRegistry := guards.NewDefaultRegistry()
	machine := statemachine.New(guardRegistry)
	actionRegistry := actions.NewRegistry(publisher, domainLog)

	idempTTL := 24 * time.Hour
	idempStore := idempotency.New(redisClient, idempTTL)

	aiManager := router.New(router.NewLimiter(redisClient), domainLog)
	if cfg.AI.Enabled {
		if err := registerAIProviders(ctx, aiManager, cfg, domainLog); err != nil {
			zapLog.Warn("one or more AI providers failed to register", zap.Error(err))
		}
		if err := aiManager.StartHealthProbe(5 * time.Minute); err != nil {
			zapLog.Warn("failed to start AI provider health probe", zap.Error(err))
		}
		defer aiManager.StopHealthProbe()
	}

	// eng is assigned below, once defRegistry exists; run_ai_insight's
	// OnAutoAdvance closure only calls it after the transition that triggers an
	// insight has itself been processed, by which point eng is set.
	var eng *engine.Engine
	insightGenerator := insights.New(aiManager, store, publisher, domainLog)
	actionRegistry.Register(&insights.Action{
		Generator: insightGenerator,
		OnAutoAdvance: func(ctx context.Context, instanceID, trigger string, actor authctx.Context) error {
			_, err := eng.Advance(ctx, engine.AdvanceRequest{InstanceID: instanceID, Trigger: trigger}, actor)
			return err
		},
	})

	// actionRegistry must carry every built-in action, including run_ai_insight,
	// before defRegistry validates and seeds the built-in templates that
	// reference it.
	defRegistry := registry.New(store, guardRegistry, actionRegistry)
	if err := seedTemplates(ctx, defRegistry); err != nil {
		zapLog.Warn("failed to seed built-in workflow templates", zap.Error(err))
	}

	eng = engine.New(store, defRegistry, machine, actionRegistry, publisher, idempStore, domainLog)

	slaCron := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Workflow.SLASweepInterval)
	if _, err := slaCron.AddFunc(sweepSpec, func() {
		if n, err := eng.SlaSweep(ctx); err != nil {
			zapLog.Warn("sla sweep failed", zap.Error(err))
		} else if n > 0 {
			zapLog.Info("sla sweep notified overdue instances", zap.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule sla sweep: %w", err)
	}
	slaCron.Start()
	defer slaCron.Stop()

	deps := transporthttp.Dependencies{Engine: eng, Registry: defRegistry, Router: aiManager, Logger: logrLog}
	checkers := buildHealthCheckers(db, redisClient)
	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, deps, server.NewHeaderResolver(), checkers, logrLog)

	if configPath := os.Getenv("WORKFLOWD_CONFIG_FILE"); configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config, err error) {
			if err != nil {
				zapLog.Warn("config reload failed, keeping previous configuration", zap.Error(err))
				return
			}
			applyHotReload(aiManager, newCfg, zapLog)
		})
		if err != nil {
			zapLog.Warn("config hot-reload disabled", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		zapLog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	zapLog.Info("workflowd stopped")
	return nil
}

// buildStore returns the WorkflowRepository plus, when backed by Postgres,
// the raw *sql.DB for health-check pings (nil for the in-memory store).
func buildStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.WorkflowRepository, *sql.DB, func(), error) {
	if cfg.Database.DSN == "" {
		return memory.New(), nil, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	store := postgres.New(db, logger)
	if err := store.Migrate(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, db, func() { db.Close() }, nil
}

func buildPublisher(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (events.Publisher, func(), error) {
	if cfg.Events.Driver != "postgres" || cfg.Events.DSN == "" {
		return events.NewInMemory(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Events.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect event pool: %w", err)
	}
	return events.NewPostgres(pool, logger), func() { pool.Close() }, nil
}

func seedTemplates(ctx context.Context, reg *registry.Registry) error {
	factory := templates.NewFactory()
	for _, desc := range factory.Catalog() {
		def, ok := factory.Build(desc.Key)
		if !ok {
			continue
		}
		if _, err := reg.Register(ctx, &def); err != nil {
			return fmt.Errorf("seed template %s: %w", desc.Key, err)
		}
	}
	return nil
}

func registerAIProviders(ctx context.Context, mgr *router.Manager, cfg *config.Config, logger *logrus.Logger) error {
	var firstErr error
	record := func(name string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("register %s: %w", name, err)
		}
	}

	if p, ok := cfg.AI.Providers["anthropic"]; ok && p.Enabled {
		provider := anthropic.New(anthropic.Config{APIKey: p.APIKey}, logger)
		record("anthropic", mgr.Register(ctx, router.Registration{
			Provider: provider, Priority: p.Priority, Enabled: true,
			RPM: p.RateLimitRPM, TPM: p.RateLimitTPM, DailyBudget: p.DailyBudget,
		}))
	}

	if p, ok := cfg.AI.Providers["bedrock"]; ok && p.Enabled {
		provider, err := bedrock.New(ctx, bedrock.Config{Region: p.Region}, logger)
		if err != nil {
			record("bedrock", err)
		} else {
			record("bedrock", mgr.Register(ctx, router.Registration{
				Provider: provider, Priority: p.Priority, Enabled: true,
				RPM: p.RateLimitRPM, TPM: p.RateLimitTPM, DailyBudget: p.DailyBudget,
			}))
		}
	}

	if p, ok := cfg.AI.Providers["openai"]; ok && p.Enabled {
		provider, err := openai.New(openai.Config{APIKey: p.APIKey, BaseURL: p.BaseURL}, logger)
		if err != nil {
			record("openai", err)
		} else {
			record("openai", mgr.Register(ctx, router.Registration{
				Provider: provider, Priority: p.Priority, Enabled: true,
				RPM: p.RateLimitRPM, TPM: p.RateLimitTPM, DailyBudget: p.DailyBudget,
			}))
		}
	}

	return firstErr
}

// applyHotReload updates only the non-structural settings a config reload is
// allowed to change: per-provider enablement. Everything else (addr, DSNs)
// was wired once at startup and requires a restart.
func applyHotReload(mgr *router.Manager, cfg *config.Config, zapLog *zap.Logger) {
	for name, p := range cfg.AI.Providers {
		mgr.SetEnabled(name, p.Enabled)
	}
	zapLog.Info("applied configuration reload")
}

type databaseHealthChecker struct{ db *sql.DB }

func (c databaseHealthChecker) Name() string { return "database" }
func (c databaseHealthChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.PingContext(ctx)
}

type redisHealthChecker struct{ client *redis.Client }

func (c redisHealthChecker) Name() string { return "redis" }
func (c redisHealthChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func buildHealthCheckers(db *sql.DB, redisClient *redis.Client) []server.HealthChecker {
	var checkers []server.HealthChecker
	if db != nil {
		checkers = append(checkers, databaseHealthChecker{db: db})
	}
	if redisClient != nil {
		checkers = append(checkers, redisHealthChecker{client: redisClient})
	}
	return checkers
}
