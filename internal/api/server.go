package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/config"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/gate"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/geoip"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxJSONBody bounds request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Metrics    observability.MetricsRegistry
	Config     config.Config
	Scanner    *scanner.Scanner
	Policy     *policy.Policy
	Limiter    *ratelimit.Limiter
	Challenges *challenge.Engine
	Gate       *gate.Gatekeeper
	Images     imageanalysis.Analyzer
	Reviews    review.Queue
	GeoIP      *geoip.GeoIP
	Checks     map[string]HealthCheck
}

// NewServer constructs a Server. The same limiter, engine and scanner must
// back g so the direct endpoints and the gate see one state.
func NewServer(logger *zap.Logger, metrics observability.MetricsRegistry, cfg config.Config, sc *scanner.Scanner, limiter *ratelimit.Limiter, engine *challenge.Engine, g *gate.Gatekeeper, images imageanalysis.Analyzer, reviews review.Queue, geo *geoip.GeoIP) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg,
		Scanner:    sc,
		Policy:     policy.New(sc, logger),
		Limiter:    limiter,
		Challenges: engine,
		Gate:       g,
		Images:     images,
		Reviews:    reviews,
		GeoIP:      geo,
		Checks:     make(map[string]HealthCheck),
	}
}

// Router registers every route on a new gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.ScanHandler).Methods("POST")
	api.HandleFunc("/scan/batch", s.BatchScanHandler).Methods("POST")
	api.HandleFunc("/safety", s.SafetyHandler).Methods("POST")
	api.HandleFunc("/challenges", s.NewChallengeHandler).Methods("POST")
	api.HandleFunc("/challenges/{id}/verify", s.VerifyChallengeHandler).Methods("POST")
	api.HandleFunc("/submissions/{action}", s.SubmitHandler).Methods("POST")
	api.Handle("/uploads/analyze", s.RateLimited(ratelimit.ActionFileUpload, http.HandlerFunc(s.AnalyzeUploadHandler))).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.RequireAdmin)
	admin.HandleFunc("/ratelimits", s.ListRateLimitsHandler).Methods("GET")
	admin.HandleFunc("/ratelimits/{action}/{client}", s.RateLimitStatusHandler).Methods("GET")
	admin.HandleFunc("/ratelimits/{action}/{client}/unblock", s.UnblockHandler).Methods("POST")
	admin.HandleFunc("/reports", s.ListReportsHandler).Methods("GET")
	admin.HandleFunc("/reports/{id}", s.UpdateReportHandler).Methods("PATCH")

	return r
}

// client resolves the caller of r.
func (s *Server) client(r *http.Request) logic.ClientInfo {
	return logic.ResolveClient(r, s.GeoIP, s.Config.TrustProxyHeaders)
}

func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// errorResponse is the body of every non-429 error.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
