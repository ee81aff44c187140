package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/gate"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// defaultContextLabels picks the scan context when the request omits one.
var defaultContextLabels = map[string]string{
	ratelimit.ActionEventCreation:         scanner.LabelEventDescription,
	ratelimit.ActionOrganizerVerification: scanner.LabelOrganizer,
	ratelimit.ActionCommentPosting:        scanner.LabelUserComment,
	ratelimit.ActionProfileUpdate:         scanner.LabelUserProfile,
}

// SubmissionRequest is the payload of POST /api/submissions/{action}.
// Image data is base64 encoded.
type SubmissionRequest struct {
	ContentID    string                `json:"content_id"`
	Text         string                `json:"text"`
	ContextLabel string                `json:"context_label,omitempty"`
	PassToken    string                `json:"pass_token,omitempty"`
	Images       []imageanalysis.Image `json:"images,omitempty"`
}

// ChallengeRequiredResponse tells the client to solve a challenge first.
type ChallengeRequiredResponse struct {
	Error             string `json:"error"`
	ChallengeRequired bool   `json:"challenge_required"`
}

// RejectedResponse explains why content was refused.
type RejectedResponse struct {
	Error      string               `json:"error"`
	ReportID   string               `json:"report_id,omitempty"`
	RiskLevel  models.Severity      `json:"risk_level,omitempty"`
	AutoAction models.AutoAction    `json:"auto_action,omitempty"`
	Trace      *logic.DecisionTrace `json:"trace,omitempty"`
}

// SubmitHandler runs a submission through the gate. With DEBUG_TRACE on,
// ?debug=1 adds the stage trace to the response.
func (s *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "submission"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	action := mux.Vars(r)["action"]
	if _, err := s.Limiter.Config(action); err != nil {
		s.writeError(w, r, http.StatusNotFound, "unknown action")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	}

	var req SubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	if req.ContentID == "" {
		s.writeError(w, r, http.StatusBadRequest, "content_id required")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	label := req.ContextLabel
	if label == "" {
		label = defaultContextLabels[action]
	}

	dec, err := s.Gate.Submit(r.Context(), gate.Submission{
		Action:       action,
		Client:       s.client(r),
		ContentID:    req.ContentID,
		Text:         req.Text,
		ContextLabel: label,
		Images:       req.Images,
		PassToken:    req.PassToken,
		RequestID:    middleware.RequestIDFromContext(r.Context()),
		Debug:        s.Config.DebugTrace && r.URL.Query().Get("debug") == "1",
	})

	status := s.writeSubmissionResult(w, r, dec, err)
	if status == http.StatusInternalServerError {
		logger.Error("submission failed", zap.String("action", action), zap.Error(err))
	}
	s.observe(endpoint, method, status, start)
}

// writeSubmissionResult maps a gate outcome to an HTTP response and returns
// the status written.
func (s *Server) writeSubmissionResult(w http.ResponseWriter, r *http.Request, dec gate.Decision, err error) int {
	var rl *gate.RateLimitedError
	var rej *gate.ContentRejectedError

	switch {
	case err == nil:
		setRateLimitHeaders(w, dec.RateLimit)
		s.writeJSON(w, r, http.StatusOK, dec)
		return http.StatusOK

	case errors.As(err, &rl):
		s.writeRateLimited(w, r, rl.Result)
		return http.StatusTooManyRequests

	case errors.Is(err, gate.ErrChallengeRequired):
		setRateLimitHeaders(w, dec.RateLimit)
		s.writeJSON(w, r, http.StatusForbidden, ChallengeRequiredResponse{
			Error:             "solve a challenge before submitting",
			ChallengeRequired: true,
		})
		return http.StatusForbidden

	case errors.Is(err, challenge.ErrInvalidPass),
		errors.Is(err, challenge.ErrSessionConsumed),
		errors.Is(err, challenge.ErrClientMismatch),
		errors.Is(err, challenge.ErrNoSession):
		setRateLimitHeaders(w, dec.RateLimit)
		s.writeJSON(w, r, http.StatusForbidden, ChallengeRequiredResponse{
			Error:             "challenge pass invalid or already used",
			ChallengeRequired: true,
		})
		return http.StatusForbidden

	case errors.As(err, &rej):
		setRateLimitHeaders(w, dec.RateLimit)
		if errors.Is(err, policy.ErrScanFailed) {
			s.writeError(w, r, http.StatusServiceUnavailable, rej.Message)
			return http.StatusServiceUnavailable
		}
		body := RejectedResponse{Error: rej.Message, Trace: dec.Trace}
		if rej.Report != nil {
			body.ReportID = rej.Report.ID
			body.RiskLevel = rej.Report.RiskLevel
			body.AutoAction = rej.Report.AutoAction
		}
		s.writeJSON(w, r, http.StatusUnprocessableEntity, body)
		return http.StatusUnprocessableEntity

	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
		return http.StatusInternalServerError
	}
}
