package api

import (
	"io"
	"net/http"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/gate"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"go.uber.org/zap"
)

const (
	maxUploadBytes  = 10 << 20
	maxUploadImages = 10
	uploadFormField = "images"
)

// UploadAnalysisResponse is returned by POST /api/uploads/analyze.
type UploadAnalysisResponse struct {
	Images     []gate.ImageFinding  `json:"images"`
	Verdict    policy.SafetyVerdict `json:"verdict"`
	AutoAction models.AutoAction    `json:"auto_action"`
}

// AnalyzeUploadHandler classifies uploaded images before they are stored.
// Images arrive as multipart files under the "images" field.
func (s *Server) AnalyzeUploadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "upload_analyze"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Images == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "image analysis disabled")
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	files := r.MultipartForm.File[uploadFormField]
	if len(files) == 0 || len(files) > maxUploadImages {
		s.writeError(w, r, http.StatusBadRequest, "upload between 1 and 10 images")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	var (
		findings   []gate.ImageFinding
		detections []models.ThreatDetection
	)
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "unreadable file")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "unreadable file")
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}

		img := imageanalysis.Image{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
		res, err := s.Images.Analyze(r.Context(), img)
		if err != nil {
			logger.Warn("image analysis failed", zap.String("image", img.Name), zap.Error(err))
			s.writeError(w, r, http.StatusServiceUnavailable, policy.MessageScanError)
			s.observe(endpoint, method, http.StatusServiceUnavailable, start)
			return
		}
		findings = append(findings, gate.ImageFinding{Name: img.Name, Result: res})
		detections = append(detections, imageanalysis.ToDetections(res, img.Name, "file_upload")...)
	}

	scan := scanner.Summarize(detections, 0)
	s.writeJSON(w, r, http.StatusOK, UploadAnalysisResponse{
		Images:     findings,
		Verdict:    policy.VerdictFor(scan),
		AutoAction: policy.AutoActionFor(scan.RiskLevel),
	})
	s.observe(endpoint, method, http.StatusOK, start)
}
