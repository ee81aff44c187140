package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/gate"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"

	"go.uber.org/zap"
)

// RateLimitedResponse is the 429 body. Field names follow the public
// contract of the limiter rather than the snake_case used elsewhere.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
	ResetTime  string `json:"resetTime"`
}

// setRateLimitHeaders adds the X-RateLimit-* headers for res.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// writeRateLimited sends the 429 denial for res.
func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request, res ratelimit.Result) {
	setRateLimitHeaders(w, res)
	secs := gate.RetryAfterSeconds(res.RetryAfter)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))

	msg := "too many requests, try again later"
	if res.Blocked {
		msg = "too many attempts, temporarily blocked"
	}
	body := RateLimitedResponse{Error: msg, RetryAfter: secs}
	if !res.ResetAt.IsZero() {
		body.ResetTime = res.ResetAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, r, http.StatusTooManyRequests, body)
}

// RateLimited wraps next with the limiter for action. Allowed requests get
// the X-RateLimit-* headers; denied ones the 429 response.
func (s *Server) RateLimited(action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		const endpoint = "ratelimit"
		logger := middleware.LoggerFromRequest(r, s.Logger)

		client := s.client(r)
		res, err := s.Limiter.Check(r.Context(), action, client.ClientID)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("action", action), zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, ratelimit.ErrContention) {
				status = http.StatusServiceUnavailable
			}
			s.writeError(w, r, status, "rate limiter unavailable")
			s.observe(endpoint, r.Method, status, start)
			return
		}
		if !res.Allowed {
			logger.Info("request rate limited",
				zap.String("action", action),
				zap.String("client_id", client.ClientID),
				zap.Duration("retry_after", res.RetryAfter),
				zap.Bool("blocked", res.Blocked))
			s.writeRateLimited(w, r, res)
			s.observe(endpoint, r.Method, http.StatusTooManyRequests, start)
			return
		}
		setRateLimitHeaders(w, res)
		next.ServeHTTP(w, r)
	})
}
