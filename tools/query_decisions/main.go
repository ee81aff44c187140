package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/config"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"go.uber.org/zap"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var action, outcome, dsn string
	var limit int
	flag.StringVar(&action, "action", "", "filter by protected action")
	flag.StringVar(&outcome, "outcome", "", "filter by outcome (accepted, flagged, rejected, rate_limited, ...)")
	flag.IntVar(&limit, "limit", 50, "maximum decisions to print")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.Parse()

	if limit <= 0 {
		fmt.Fprintln(os.Stderr, "limit must be positive")
		os.Exit(1)
	}
	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	a, err := analytics.InitClickHouse(dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := a.RecentDecisions(ctx, action, outcome, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query decisions: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("decisions loaded", zap.Int("count", len(events)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode decisions: %v\n", err)
		os.Exit(1)
	}
}
