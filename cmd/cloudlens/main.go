package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nmoreno/cloudlens/internal/adapter/cron"
	"github.com/nmoreno/cloudlens/internal/adapter/postgres"
	"github.com/nmoreno/cloudlens/internal/adapter/rediscache"
	"github.com/nmoreno/cloudlens/internal/analyzer"
	"github.com/nmoreno/cloudlens/internal/audit"
	"github.com/nmoreno/cloudlens/internal/cache"
	"github.com/nmoreno/cloudlens/internal/config"
	"github.com/nmoreno/cloudlens/internal/core/port"
	"github.com/nmoreno/cloudlens/internal/core/service"
	"github.com/nmoreno/cloudlens/internal/events"
	"github.com/nmoreno/cloudlens/internal/telemetry"
	"github.com/nmoreno/cloudlens/internal/views"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting cloudlens",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.Bool("cache_enabled", cfg.CacheEnabled),
		slog.Bool("redis_enabled", cfg.RedisEnabled),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry: noop instruments unless an OTel pipeline is configured.
	var inst port.Instrumentation = telemetry.NoopInstruments()
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "cloudlens", version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
		inst = telemetry.NewInstruments()
	}

	// Audit log (optional).
	var auditor port.QueryAuditor = audit.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer fa.Close()
		auditor = fa
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}

	bus := events.NewBus()
	wireSlowQueryAlerts(bus, logger)

	// Connection pools.
	manager, err := postgres.NewManager(ctx, postgres.Config{
		DatabaseURL:            cfg.DatabaseURL,
		ReadMaxConns:           cfg.ReadPoolMaxConns,
		ReadMinConns:           cfg.ReadPoolMinConns,
		WriteMaxConns:          cfg.WritePoolMaxConns,
		WriteMinConns:          cfg.WritePoolMinConns,
		MaxConnLifetime:        cfg.PoolMaxConnLifetime,
		ReadMaxIdle:            cfg.ReadPoolMaxIdle,
		WriteMaxIdle:           cfg.WritePoolMaxIdle,
		QueryTimeout:           cfg.QueryTimeout,
		RefreshTimeout:         cfg.RefreshTimeout,
		MaxRows:                cfg.MaxRows,
		SlowQueryThreshold:     cfg.SlowQueryThreshold,
		HealthCheckTimeout:     cfg.HealthCheckTimeout,
		HealthFailureThreshold: cfg.HealthFailureThreshold,
		HealthSuccessThreshold: cfg.HealthSuccessThreshold,
	}, bus, inst, auditor, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer manager.Close()
	logger.Info("database pools connected", slog.String("db.system", "postgresql"))

	// Result cache with optional Redis second tier.
	var resultCache *cache.Cache
	if cfg.CacheEnabled {
		var external port.ExternalStore
		if cfg.RedisEnabled {
			store, err := rediscache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				// The cache must degrade, not block startup, when Redis is down.
				logger.Warn("redis unavailable, running memory-only cache", slog.Any("error", err))
			} else {
				defer store.Close()
				external = store
				logger.Info("redis cache tier connected", slog.String("addr", cfg.RedisAddr))
			}
		}

		resultCache, err = cache.New(cache.Options{
			DefaultTTL:           cfg.CacheDefaultTTL,
			MaxMemoryBytes:       cfg.CacheMaxMemoryBytes,
			MaxEntries:           cfg.CacheMaxEntries,
			CompressionThreshold: cfg.CacheCompressionThreshold,
			KeyPrefix:            cfg.CacheKeyPrefix,
			MaxKeyLength:         cfg.CacheMaxKeyLength,
		}, external, bus, inst, logger)
		if err != nil {
			return fmt.Errorf("creating result cache: %w", err)
		}

		if cfg.RulesFile != "" {
			rules, err := cache.LoadRulesFile(cfg.RulesFile)
			if err != nil {
				return fmt.Errorf("loading invalidation rules: %w", err)
			}
			for _, rule := range rules {
				if err := resultCache.RegisterInvalidationRule(rule); err != nil {
					return fmt.Errorf("registering invalidation rule: %w", err)
				}
			}
			logger.Info("invalidation rules loaded",
				slog.String("file", cfg.RulesFile), slog.Int("rules", len(rules)))
		}

		go resultCache.Run(ctx, cfg.CacheCleanupInterval)
	}

	// View scheduler.
	scheduler := cron.New()
	defer scheduler.Close()

	viewMgr := views.NewManager(manager, scheduler, bus, inst, cfg.RefreshTimeout, logger)
	defer viewMgr.Close()
	if err := viewMgr.EnsureRegistry(ctx); err != nil {
		return err
	}
	if err := viewMgr.LoadPersisted(ctx); err != nil {
		return err
	}

	// A refreshed view means any cached report over it is stale.
	if resultCache != nil {
		bus.OnViewRefreshed(func(e events.ViewRefreshed) {
			if e.Success {
				resultCache.TriggerInvalidation(context.Background(), cache.TriggerDataChange,
					map[string]string{"view": e.View})
			}
		})
	}

	// Services.
	var svcCache port.ResultCache
	if resultCache != nil {
		svcCache = resultCache
	}
	reportSvc := service.NewReportService(manager, svcCache, inst, cfg.CacheDefaultTTL, logger)
	queryAnalyzer := analyzer.New(reportSvc, cfg.SlowQueryThreshold, cfg.CriticalQueryThreshold, logger)

	// Pre-load registered views into the cache before traffic arrives.
	if resultCache != nil && cfg.CacheWarmOnStart {
		warmRegisteredViews(ctx, resultCache, viewMgr, reportSvc, cfg.CacheDefaultTTL, logger)
	}

	// Background loops.
	go manager.RunHealthChecks(ctx, cfg.HealthCheckInterval)
	go manager.RunMetrics(ctx, cfg.MetricsInterval)
	go viewMgr.RunStaleSweeps(ctx, cfg.StaleSweepInterval)
	go runAdvisor(ctx, queryAnalyzer, cfg.AdvisorInterval, logger)

	logger.Info("cloudlens ready")
	<-ctx.Done()

	logger.Info("shutdown complete")
	return nil
}

// warmRegisteredViews primes the result cache with the contents of every
// active materialized view. Per-item failures are logged, not fatal.
func warmRegisteredViews(ctx context.Context, resultCache *cache.Cache, viewMgr *views.Manager, reportSvc *service.ReportService, ttl time.Duration, logger *slog.Logger) {
	var queries []cache.WarmQuery
	for _, def := range viewMgr.ListViews() {
		if !def.Active {
			continue
		}
		sql := viewWarmSQL(def.Name)
		queries = append(queries, cache.WarmQuery{
			Key: "view:" + def.Name,
			TTL: ttl,
			Loader: func(ctx context.Context) (any, error) {
				res, err := reportSvc.ExecuteReportQuery(ctx, sql, nil, port.QueryOptions{})
				if err != nil {
					return nil, err
				}
				return res.Rows, nil
			},
		})
	}
	if len(queries) == 0 {
		return
	}
	results := resultCache.Warm(ctx, queries, 4)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("cache warmed from registered views",
		slog.Int("views", len(results)), slog.Int("failed", failed))
}

// viewWarmSQL builds the statement that loads a view's contents for warming.
func viewWarmSQL(name string) string {
	return "SELECT * FROM " + pgx.Identifier{name}.Sanitize()
}

// wireSlowQueryAlerts surfaces slow-query signals as warn-level log entries so
// operators see threshold breaches without polling the analyzer.
func wireSlowQueryAlerts(bus *events.Bus, logger *slog.Logger) {
	bus.OnSlowQuery(func(e events.SlowQuery) {
		logger.Warn("slow query detected",
			slog.String("query_id", e.QueryID),
			slog.String("sql", e.SQL),
			slog.Duration("duration", e.Duration),
			slog.Duration("threshold", e.Threshold),
		)
	})
}

// runAdvisor periodically logs mined optimization suggestions so operators
// see recurring slow shapes without querying the analyzer directly.
func runAdvisor(ctx context.Context, a *analyzer.Analyzer, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			suggestions := a.GenerateIndexSuggestions(nil)
			suggestions = append(suggestions, a.GenerateMaterializedViewSuggestions()...)
			for _, s := range suggestions {
				logger.Info("optimization suggestion",
					slog.String("type", string(s.Type)),
					slog.String("priority", string(s.Priority)),
					slog.String("description", s.Description),
				)
			}
		}
	}
}
