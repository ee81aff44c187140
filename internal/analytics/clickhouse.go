package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// AnalyticsService defines the interface for analytics operations.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type AnalyticsService interface {
	// RecordDecision records the outcome of one gated submission.
	RecordDecision(ctx context.Context, ev DecisionEvent) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Decision outcomes.
const (
	OutcomeAccepted          = "accepted"
	OutcomeFlagged           = "flagged"
	OutcomeRejected          = "rejected"
	OutcomeRateLimited       = "rate_limited"
	OutcomeChallengeRequired = "challenge_required"
	OutcomeChallengeFailed   = "challenge_failed"
	OutcomeError             = "error"
)

// DecisionEvent mirrors a row in the gate_decisions table.
type DecisionEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Action       string    `json:"action"`
	ClientID     string    `json:"client_id"`
	ContentID    string    `json:"content_id"`
	Outcome      string    `json:"outcome"`
	RiskLevel    string    `json:"risk_level"`
	AutoAction   string    `json:"auto_action"`
	Categories   []string  `json:"categories"`
	RetryAfterMs int64     `json:"retry_after_ms"`
	DeviceType   string    `json:"device_type"`
	Country      string    `json:"country"`
	IsBot        bool      `json:"is_bot"`
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

const createDecisionsTable = `CREATE TABLE IF NOT EXISTS gate_decisions (
       timestamp      DateTime64(3),
       request_id     String,
       action         LowCardinality(String),
       client_id      String,
       content_id     String,
       outcome        LowCardinality(String),
       risk_level     LowCardinality(String),
       auto_action    LowCardinality(String),
       categories     Array(String),
       retry_after_ms Int64,
       device_type    LowCardinality(String),
       country        LowCardinality(String),
       is_bot         UInt8
   ) ENGINE=MergeTree() ORDER BY (action, outcome, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the decisions table exists.
func InitClickHouse(dsn string) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createDecisionsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// RecordDecision inserts a single row into the gate_decisions table.
func (a *Analytics) RecordDecision(ctx context.Context, ev DecisionEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	categories := ev.Categories
	if categories == nil {
		categories = []string{}
	}

	stmt := `INSERT INTO gate_decisions (timestamp, request_id, action, client_id, content_id, outcome, risk_level, auto_action, categories, retry_after_ms, device_type, country, is_bot) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.RequestID, ev.Action, ev.ClientID, ev.ContentID, ev.Outcome, ev.RiskLevel, ev.AutoAction, categories, ev.RetryAfterMs, ev.DeviceType, ev.Country, boolToUInt8(ev.IsBot)); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("action", ev.Action))
		return fmt.Errorf("insert %s decision: %w", ev.Action, err)
	}
	return nil
}

// RecentDecisions returns the newest decisions, optionally restricted to one
// action and outcome. Empty filters match everything.
func (a *Analytics) RecentDecisions(ctx context.Context, action, outcome string, limit int) ([]DecisionEvent, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT timestamp, request_id, action, client_id, content_id, outcome, risk_level, auto_action, categories, retry_after_ms, device_type, country, is_bot
        FROM gate_decisions
        WHERE (? = '' OR action = ?) AND (? = '' OR outcome = ?)
        ORDER BY timestamp DESC
        LIMIT ?`
	rows, err := a.DB.QueryContext(ctx, query, action, action, outcome, outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []DecisionEvent
	for rows.Next() {
		var ev DecisionEvent
		var bot uint8
		if err := rows.Scan(&ev.Timestamp, &ev.RequestID, &ev.Action, &ev.ClientID, &ev.ContentID, &ev.Outcome, &ev.RiskLevel, &ev.AutoAction, &ev.Categories, &ev.RetryAfterMs, &ev.DeviceType, &ev.Country, &bot); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		ev.IsBot = bot == 1
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
