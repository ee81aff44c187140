package api

import (
	"net/http"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"
)

// maxBatchItems bounds one batch scan request.
const maxBatchItems = 100

// ScanRequest is the payload of POST /api/scan and POST /api/safety.
type ScanRequest struct {
	Text         string `json:"text"`
	ContextLabel string `json:"context_label"`
}

// BatchScanRequest is the payload of POST /api/scan/batch.
type BatchScanRequest struct {
	Items []scanner.Item `json:"items"`
}

// ScanHandler returns the raw scan result for a piece of text.
func (s *Server) ScanHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "scan"
	const method = "POST"

	var req ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	res, err := s.Policy.SafeScan(req.Text, req.ContextLabel)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "scan failed")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}

// BatchScanHandler scans several items at once and returns results keyed by id.
func (s *Server) BatchScanHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "scan_batch"
	const method = "POST"

	var req BatchScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		s.writeError(w, r, http.StatusBadRequest, "items must contain between 1 and 100 entries")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	for _, it := range req.Items {
		if it.ID == "" {
			s.writeError(w, r, http.StatusBadRequest, "every item needs an id")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
	}

	s.writeJSON(w, r, http.StatusOK, s.Scanner.BatchScan(req.Items))
	s.observe(endpoint, method, http.StatusOK, start)
}

// SafetyHandler returns the caller-facing verdict. Scan failures come back
// as an unsafe verdict, never as an error.
func (s *Server) SafetyHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "safety"
	const method = "POST"

	var req ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	s.writeJSON(w, r, http.StatusOK, s.Policy.EvaluateSafety(req.Text, req.ContextLabel))
	s.observe(endpoint, method, http.StatusOK, start)
}
