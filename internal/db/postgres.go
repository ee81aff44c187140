package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrReportNotFound is returned when a review status update matches no row.
var ErrReportNotFound = errors.New("threat report not found")

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the review queue table if it doesn't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS threat_reports (
    id UUID PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    submitter_id TEXT,
    content_id TEXT NOT NULL,
    risk_level VARCHAR(20) NOT NULL,
    categories TEXT[] NOT NULL DEFAULT '{}',
    detections JSONB NOT NULL,
    requires_review BOOLEAN NOT NULL,
    auto_action VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_threat_reports_status_created ON threat_reports (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_threat_reports_submitter ON threat_reports (submitter_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertThreatReport stores a report in the review queue with status pending.
// Re-inserting the same report id is a no-op.
func (p *Postgres) InsertThreatReport(ctx context.Context, r models.ThreatReport) error {
	detections, err := json.Marshal(r.Detections)
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}
	categories := make([]string, 0, len(r.Detections))
	for _, c := range (models.ScanResult{Detections: r.Detections}).Categories() {
		categories = append(categories, string(c))
	}
	var submitter sql.NullString
	if r.SubmitterID != "" {
		submitter = sql.NullString{String: r.SubmitterID, Valid: true}
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO threat_reports
        (id, created_at, submitter_id, content_id, risk_level, categories, detections, requires_review, auto_action, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Timestamp, submitter, r.ContentID, string(r.RiskLevel), pq.Array(categories),
		detections, r.RequiresReview, string(r.AutoAction), string(models.ReviewPending))
	if err != nil {
		return fmt.Errorf("insert threat report %s: %w", r.ID, err)
	}
	return nil
}

// ListThreatReports returns the newest reports first. An empty status lists
// every status.
func (p *Postgres) ListThreatReports(ctx context.Context, status models.ReviewStatus, limit int) ([]models.QueuedReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT id, created_at, submitter_id, content_id, risk_level, detections, requires_review, auto_action, status, received_at
        FROM threat_reports
        WHERE ($1 = '' OR status = $1)
        ORDER BY created_at DESC
        LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query threat reports: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.QueuedReport
	for rows.Next() {
		var (
			qr         models.QueuedReport
			submitter  sql.NullString
			detections []byte
			risk       string
			action     string
			st         string
		)
		if err := rows.Scan(&qr.ID, &qr.Timestamp, &submitter, &qr.ContentID, &risk, &detections, &qr.RequiresReview, &action, &st, &qr.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan threat report: %w", err)
		}
		if submitter.Valid {
			qr.SubmitterID = submitter.String
		}
		qr.RiskLevel = models.Severity(risk)
		qr.AutoAction = models.AutoAction(action)
		qr.Status = models.ReviewStatus(st)
		if err := json.Unmarshal(detections, &qr.Detections); err != nil {
			return nil, fmt.Errorf("parse detections: %w", err)
		}
		out = append(out, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// UpdateReviewStatus records a moderator decision on a report.
func (p *Postgres) UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE threat_reports SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update threat report %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}
