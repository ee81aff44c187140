package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HeaderAdminToken authenticates admin requests.
const HeaderAdminToken = "X-Admin-Token"

const defaultReportLimit = 50

// RequireAdmin rejects requests without the configured admin token. With no
// token configured the admin routes are disabled.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.Config.AdminToken
		got := r.Header.Get(HeaderAdminToken)
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			middleware.LoggerFromRequest(r, s.Logger).Warn("admin request rejected", zap.String("path", r.URL.Path))
			s.writeError(w, r, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListRateLimitsHandler returns every tracked rate limit entry.
func (s *Server) ListRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_ratelimits"
	const method = "GET"

	entries, err := s.Limiter.Entries(r.Context())
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list rate limits", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "could not list entries")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if entries == nil {
		entries = []ratelimit.EntryStatus{}
	}
	s.writeJSON(w, r, http.StatusOK, entries)
	s.observe(endpoint, method, http.StatusOK, start)
}

// RateLimitStatusHandler returns one entry without counting an attempt.
func (s *Server) RateLimitStatusHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_ratelimit_status"
	const method = "GET"

	vars := mux.Vars(r)
	st, err := s.Limiter.Status(r.Context(), vars["action"], vars["client"])
	if status, ok := s.limiterError(w, r, err); !ok {
		s.observe(endpoint, method, status, start)
		return
	}
	s.writeJSON(w, r, http.StatusOK, st)
	s.observe(endpoint, method, http.StatusOK, start)
}

// UnblockHandler clears the entry for one client and action.
func (s *Server) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_unblock"
	const method = "POST"

	vars := mux.Vars(r)
	err := s.Limiter.Unblock(r.Context(), vars["action"], vars["client"])
	if status, ok := s.limiterError(w, r, err); !ok {
		s.observe(endpoint, method, status, start)
		return
	}
	middleware.LoggerFromRequest(r, s.Logger).Info("admin unblock",
		zap.String("action", vars["action"]),
		zap.String("client_id", vars["client"]))
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "unblocked"})
	s.observe(endpoint, method, http.StatusOK, start)
}

// limiterError writes the response for a limiter error and reports whether
// the handler may continue.
func (s *Server) limiterError(w http.ResponseWriter, r *http.Request, err error) (int, bool) {
	switch {
	case err == nil:
		return http.StatusOK, true
	case errors.Is(err, ratelimit.ErrUnknownAction):
		s.writeError(w, r, http.StatusNotFound, "unknown action")
		return http.StatusNotFound, false
	default:
		middleware.LoggerFromRequest(r, s.Logger).Error("rate limit admin", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "rate limiter unavailable")
		return http.StatusInternalServerError, false
	}
}

// ListReportsHandler lists queued threat reports, newest first. Query
// parameters: status (pending, approved, removed) and limit.
func (s *Server) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_reports"
	const method = "GET"

	if s.Reviews == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "review queue disabled")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}

	status := models.ReviewStatus(r.URL.Query().Get("status"))
	if status != "" && !review.ValidStatus(status) {
		s.writeError(w, r, http.StatusBadRequest, "invalid status")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	limit := defaultReportLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, r, http.StatusBadRequest, "invalid limit")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		limit = n
	}

	reports, err := s.Reviews.List(r.Context(), status, limit)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list reports", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "could not list reports")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if reports == nil {
		reports = []models.QueuedReport{}
	}
	s.writeJSON(w, r, http.StatusOK, reports)
	s.observe(endpoint, method, http.StatusOK, start)
}

// UpdateReportRequest is the payload of PATCH /admin/reports/{id}.
type UpdateReportRequest struct {
	Status models.ReviewStatus `json:"status"`
}

// UpdateReportHandler records a moderator decision on a report.
func (s *Server) UpdateReportHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "admin_report_update"
	const method = "PATCH"

	if s.Reviews == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "review queue disabled")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}

	var req UpdateReportRequest
	if err := decodeJSON(w, r, &req); err != nil || !review.ValidStatus(req.Status) {
		s.writeError(w, r, http.StatusBadRequest, "status must be pending, approved or removed")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	id := mux.Vars(r)["id"]
	err := s.Reviews.UpdateStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, review.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "report not found")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	case err != nil:
		middleware.LoggerFromRequest(r, s.Logger).Error("update report", zap.String("report_id", id), zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "could not update report")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
	s.observe(endpoint, method, http.StatusOK, start)
}
