package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/api"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/config"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/gate"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/geoip"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	observability.StartSamplingStatsReporter(ctx, logger, cfg.SamplingStatsInterval)

	metricsRegistry := observability.NewPrometheusRegistry()
	checks := make(map[string]api.HealthCheck)

	// Shared state for rate limit entries and challenge sessions.
	var store kv.Store
	switch cfg.StateBackend {
	case config.BackendRedis:
		rs, err := db.InitRedis(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rs.Close()
		store = rs
		checks["redis"] = rs.Ping
	default:
		mem := kv.NewMemoryStore()
		store = mem
		go purgeLoop(ctx, logger, mem, cfg.CleanupInterval)
	}

	limits, err := cfg.RateLimitConfigs()
	if err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}
	limiter := ratelimit.NewLimiter(store, limits, logger, metricsRegistry)
	limiter.StartCleanup(ctx, cfg.CleanupInterval)

	engine := challenge.NewEngine(store, challenge.NewGenerator(time.Now().UnixNano()), challenge.Config{
		Secret:     []byte(cfg.TokenSecret),
		SessionTTL: cfg.ChallengeTTL,
		PassTTL:    cfg.PassTokenTTL,
	}, logger, metricsRegistry)
	go sessionCleanupLoop(ctx, logger, engine, cfg.CleanupInterval)

	sc := scanner.New(logger, metricsRegistry)

	var images imageanalysis.Analyzer
	switch cfg.ImageAnalyzer {
	case config.AnalyzerStub:
		images = imageanalysis.NewStubAnalyzer()
		logger.Warn("using stub image analyzer")
	case config.AnalyzerExternal:
		ext := imageanalysis.NewExternalAnalyzer(
			cfg.ImageAnalyzerURL,
			cfg.ImageAnalyzerTimeout,
			cfg.ImageAnalyzerCacheTTL,
			imageanalysis.BreakerSettings{
				MaxFailures: uint32(cfg.BreakerMaxFailures),
				OpenTimeout: cfg.BreakerOpenTimeout,
			},
			logger,
			metricsRegistry,
		)
		ext.StartCacheCleanup(ctx, cfg.CleanupInterval)
		images = ext
		checks["image_analyzer"] = ext.HealthCheck
		logger.Info("image analysis enabled",
			zap.String("analyzer_url", cfg.ImageAnalyzerURL),
			zap.Duration("timeout", cfg.ImageAnalyzerTimeout),
			zap.Duration("cache_ttl", cfg.ImageAnalyzerCacheTTL))
	}

	// Reports go to the queue moderators read and to the log.
	var queue review.Queue
	if cfg.ReviewQueueEnabled {
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		queue = review.PostgresSink{Store: pg}
		checks["postgres"] = pg.DB.PingContext
	} else {
		queue = review.NewMemoryQueue(cfg.ReviewQueueCapacity)
	}
	dispatcher := review.NewDispatcher(review.MultiSink{queue, review.LogSink{Logger: logger}}, logger, metricsRegistry)

	var decisions analytics.AnalyticsService
	if cfg.AnalyticsEnabled {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		decisions = ch
		checks["clickhouse"] = ch.DB.PingContext
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	g := gate.New(gate.Deps{
		Limiter:    limiter,
		Challenges: engine,
		Policy:     policy.New(sc, logger),
		Images:     images,
		Reviews:    dispatcher,
		Analytics:  decisions,
		Logger:     logger,
		Metrics:    metricsRegistry,
	}, gate.Config{
		ChallengeActions:      cfg.ChallengeRequiredActions,
		ResetOnSuccessActions: cfg.ResetOnSuccessActions,
		LogSampleRate:         observability.GetSamplingRate(),
	})

	srvDeps := api.NewServer(logger, metricsRegistry, cfg, sc, limiter, engine, g, images, queue, geoSvc)
	for name, check := range checks {
		srvDeps.Checks[name] = check
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin routes are disabled")
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srvDeps.Router(), cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Gatekeeper running",
		zap.String("addr", addr),
		zap.String("state_backend", cfg.StateBackend),
		zap.String("image_analyzer", cfg.ImageAnalyzer),
		zap.Strings("challenge_actions", cfg.ChallengeRequiredActions))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// purgeLoop evicts expired keys from the in-memory store.
func purgeLoop(ctx context.Context, logger *zap.Logger, mem *kv.MemoryStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.PurgeExpired(); n > 0 {
				logger.Debug("purged expired state", zap.Int("keys", n))
			}
		}
	}
}

func sessionCleanupLoop(ctx context.Context, logger *zap.Logger, engine *challenge.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.CleanupExpiredSessions(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("challenge session cleanup failed", zap.Error(err))
			}
		}
	}
}
