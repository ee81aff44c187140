package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/config"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger for MCP server - use stderr to avoid stdio conflicts
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	// Same keys as the observability package
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.NameKey = "logger"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("gatekeeper-mcp").With(zap.String("service", "gatekeeper-mcp"))

	cfg := config.Load()
	logger.Info("Starting Gatekeeper MCP Server", zap.String("state_backend", cfg.StateBackend))

	// The MCP server only sees the gatekeeper's rate limit state when both
	// share Redis.
	if cfg.StateBackend != config.BackendRedis {
		logger.Fatal("STATE_BACKEND=redis is required to inspect live rate limits")
	}
	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	limits, err := cfg.RateLimitConfigs()
	if err != nil {
		logger.Fatal("Invalid rate limit config", zap.Error(err))
	}

	var reviews review.Queue
	if cfg.ReviewQueueEnabled {
		pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pg.Close()
		reviews = review.PostgresSink{Store: pg}
		logger.Info("Connected to PostgreSQL")
	} else {
		logger.Warn("REVIEW_QUEUE_ENABLED is off, list_review_queue will be empty")
		reviews = review.NewMemoryQueue(cfg.ReviewQueueCapacity)
	}

	tools := &ModerationTools{
		policy:  policy.New(scanner.New(logger, nil), logger),
		limiter: ratelimit.NewLimiter(store, limits, logger, nil),
		reviews: reviews,
		logger:  logger,
	}

	if cfg.AnalyticsEnabled {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
		if err != nil {
			logger.Warn("ClickHouse unavailable, recent_decisions disabled", zap.Error(err))
		} else {
			defer ch.Close()
			tools.decisions = ch
			logger.Info("ClickHouse connected")
		}
	}

	server := newMCPServer(tools)

	stdioTransport := &mcp.StdioTransport{}

	// Keep the wire log so a failing session can be diagnosed
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
