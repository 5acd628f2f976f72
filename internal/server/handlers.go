package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/ingest"
)

// Ingester runs the upload pipeline for a request.
type Ingester interface {
	IngestImage(r *http.Request) (*ingest.ImageResult, error)
	IngestVideo(r *http.Request) (*asset.Record, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	ingester Ingester
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ingester Ingester, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ingester: ingester,
		logger:   logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// UploadImage handles POST /api/image-upload requests.
func (h *Handlers) UploadImage(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingester.IngestImage(r)
	if err != nil {
		writeFailure(w, ingest.FailureFor(asset.KindImage, err))
		return
	}
	writeJSON(w, http.StatusOK, ImageUploadResponse{PublicID: res.PublicID})
}

// UploadVideo handles POST /api/video-upload requests.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ingester.IngestVideo(r)
	if err != nil {
		writeFailure(w, ingest.FailureFor(asset.KindVideo, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeFailure(w http.ResponseWriter, f ingest.Failure) {
	writeError(w, f.Status, f.Message, f.Code)
}
