// Package review hands threat reports to moderators. Delivery is best effort:
// a sink failure is logged and counted but never changes a gate decision.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a report id is unknown to the queue.
var ErrNotFound = errors.New("report not found")

// Sink receives reports that need a human decision.
type Sink interface {
	Submit(ctx context.Context, r models.ThreatReport) error
}

// Queue is a Sink moderators can read back and act on.
type Queue interface {
	Sink
	List(ctx context.Context, status models.ReviewStatus, limit int) ([]models.QueuedReport, error)
	UpdateStatus(ctx context.Context, id string, status models.ReviewStatus) error
}

// ValidStatus reports whether s is a known review status.
func ValidStatus(s models.ReviewStatus) bool {
	switch s {
	case models.ReviewPending, models.ReviewApproved, models.ReviewRemoved:
		return true
	}
	return false
}

// LogSink writes reports to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

// Submit implements Sink.
func (s LogSink) Submit(_ context.Context, r models.ThreatReport) error {
	cats := (models.ScanResult{Detections: r.Detections}).Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	s.Logger.Info("threat report",
		zap.String("report_id", r.ID),
		zap.String("content_id", r.ContentID),
		zap.String("submitter_id", r.SubmitterID),
		zap.String("risk_level", string(r.RiskLevel)),
		zap.String("auto_action", string(r.AutoAction)),
		zap.Bool("requires_review", r.RequiresReview),
		zap.Strings("categories", names))
	return nil
}

// MemoryQueue keeps the most recent reports in memory, newest first.
type MemoryQueue struct {
	mu       sync.RWMutex
	capacity int
	items    []models.QueuedReport
	now      func() time.Time
}

// NewMemoryQueue creates a queue holding at most capacity reports. Older
// reports are dropped first.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryQueue{capacity: capacity, now: time.Now}
}

// Submit implements Sink. A report id already queued is ignored.
func (q *MemoryQueue) Submit(_ context.Context, r models.ThreatReport) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == r.ID {
			return nil
		}
	}
	qr := models.QueuedReport{ThreatReport: r, Status: models.ReviewPending, ReceivedAt: q.now().UTC()}
	q.items = append([]models.QueuedReport{qr}, q.items...)
	if len(q.items) > q.capacity {
		q.items = q.items[:q.capacity]
	}
	return nil
}

// List implements Queue. An empty status lists everything.
func (q *MemoryQueue) List(_ context.Context, status models.ReviewStatus, limit int) ([]models.QueuedReport, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.QueuedReport, 0)
	for _, it := range q.items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpdateStatus implements Queue.
func (q *MemoryQueue) UpdateStatus(_ context.Context, id string, status models.ReviewStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

// ReportStore is the persistence used by PostgresSink. *db.Postgres satisfies it.
type ReportStore interface {
	InsertThreatReport(ctx context.Context, r models.ThreatReport) error
	ListThreatReports(ctx context.Context, status models.ReviewStatus, limit int) ([]models.QueuedReport, error)
	UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error
}

// PostgresSink persists reports in the review queue table.
type PostgresSink struct {
	Store ReportStore
}

// Submit implements Sink.
func (s PostgresSink) Submit(ctx context.Context, r models.ThreatReport) error {
	return s.Store.InsertThreatReport(ctx, r)
}

// List implements Queue.
func (s PostgresSink) List(ctx context.Context, status models.ReviewStatus, limit int) ([]models.QueuedReport, error) {
	return s.Store.ListThreatReports(ctx, status, limit)
}

// UpdateStatus implements Queue.
func (s PostgresSink) UpdateStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	err := s.Store.UpdateReviewStatus(ctx, id, status)
	if errors.Is(err, db.ErrReportNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// MultiSink fans a report out to every sink and joins their errors.
type MultiSink []Sink

// Submit implements Sink. Every sink is tried even if an earlier one fails.
func (m MultiSink) Submit(ctx context.Context, r models.ThreatReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers reports to a sink with logging and metrics. Nil
// dispatchers and nil sinks are valid and drop reports.
type Dispatcher struct {
	Sink    Sink
	Logger  *zap.Logger
	Metrics observability.MetricsRegistry
}

// NewDispatcher wires a sink with logging and metrics.
func NewDispatcher(sink Sink, logger *zap.Logger, metrics observability.MetricsRegistry) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Dispatcher{Sink: sink, Logger: logger, Metrics: metrics}
}

// Deliver hands r to the sink. Errors are logged and counted, not returned.
func (d *Dispatcher) Deliver(ctx context.Context, r models.ThreatReport) {
	if d == nil || d.Sink == nil {
		return
	}
	d.Metrics.IncrementReviewReports(string(r.AutoAction))
	if err := d.Sink.Submit(ctx, r); err != nil {
		d.Metrics.IncrementReviewSinkErrors()
		d.Logger.Error("review sink failed",
			zap.String("report_id", r.ID),
			zap.Error(fmt.Errorf("deliver report: %w", err)))
	}
}
