// Package rest exposes the dispatch protocol over synchronous HTTP. Every
// call is independent; the calling stage is named by the "stage" query
// parameter.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/metrics"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Default body size limits
const (
	DefaultMaxBodySize = 1 << 20  // 1MB
	FileMaxBodySize    = 64 << 20 // 64MB for attachments
)

// Default request timeout
const (
	DefaultRequestTimeout = 30 * time.Second
	HealthRequestTimeout  = 5 * time.Second
)

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeMissingParameter = "MISSING_PARAMETER"
	ErrCodeBadJSON          = "BAD_JSON"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeServerError      = "SERVER_ERROR"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// HeaderFileEncoding carries DocumentFile.Encoding on attachment requests.
const HeaderFileEncoding = "X-File-Encoding"

// PipelineSource exposes the current pipeline definitions.
type PipelineSource interface {
	Pipeline() *model.Pipeline
	DebugPipeline() *model.Pipeline
	Stage(name string) (model.Stage, bool)
}

type noPipelines struct{}

func (noPipelines) Pipeline() *model.Pipeline        { return nil }
func (noPipelines) DebugPipeline() *model.Pipeline   { return nil }
func (noPipelines) Stage(string) (model.Stage, bool) { return model.Stage{}, false }

type Handler struct {
	service   dispatch.Service
	pipelines PipelineSource
	decoder   *schema.Decoder
}

func NewHandler(service dispatch.Service, pipelines PipelineSource) *Handler {
	if service == nil {
		panic("dispatch service cannot be nil")
	}
	if pipelines == nil {
		pipelines = noPipelines{}
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &Handler{
		service:   service,
		pipelines: pipelines,
		decoder:   decoder,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Work protocol
	mux.HandleFunc("POST /v1/documents/claim", h.route("claim", withTimeout(maxBodySize(h.handleClaim, DefaultMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("POST /v1/documents/fetch", h.route("fetch", withTimeout(maxBodySize(h.handleFetch, DefaultMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("POST /v1/documents/write", h.route("write", withTimeout(maxBodySize(h.handleWrite, DefaultMaxBodySize), DefaultRequestTimeout)))
	for _, status := range []model.Status{model.StatusPending, model.StatusProcessed, model.StatusFailed, model.StatusDiscarded} {
		name := markRouteName(status)
		mux.HandleFunc("POST /v1/documents/"+name, h.route(name, withTimeout(maxBodySize(h.markHandler(status), DefaultMaxBodySize), DefaultRequestTimeout)))
	}

	// Attachments
	mux.HandleFunc("GET /v1/documents/{id}/files", h.route("file_names", withTimeout(h.handleFileNames, DefaultRequestTimeout)))
	mux.HandleFunc("GET /v1/documents/{id}/files/{name}", h.route("get_file", withTimeout(h.handleGetFile, DefaultRequestTimeout)))
	mux.HandleFunc("PUT /v1/documents/{id}/files/{name}", h.route("save_file", withTimeout(maxBodySize(h.handleSaveFile, FileMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("DELETE /v1/documents/{id}/files/{name}", h.route("delete_file", withTimeout(h.handleDeleteFile, DefaultRequestTimeout)))

	// Pipeline and diagnostics
	mux.HandleFunc("GET /v1/pipeline", h.route("pipeline", h.handlePipeline))
	mux.HandleFunc("GET /v1/pipeline/debug", h.route("pipeline_debug", h.handleDebugPipeline))
	mux.HandleFunc("GET /v1/stages/{name}", h.route("stage", h.handleStage))
	mux.HandleFunc("GET /v1/stats", h.route("stats", withTimeout(h.handleStats, DefaultRequestTimeout)))

	// Health Check and metrics (minimal timeout)
	mux.HandleFunc("GET /health", withTimeout(h.handleHealth, HealthRequestTimeout))
	mux.Handle("GET /metrics", promhttp.Handler())
}

func markRouteName(status model.Status) string {
	switch status {
	case model.StatusPending:
		return "pending"
	case model.StatusProcessed:
		return "processed"
	case model.StatusFailed:
		return "failed"
	default:
		return "discarded"
	}
}

// writeError writes a structured JSON error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// writeServiceError maps a dispatch error to its protocol response. A request
// abandoned by the client gets 499 and no body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch dispatch.Classify(err) {
	case dispatch.OutcomeBadRequest:
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case dispatch.OutcomeUnavailable:
		if errors.Is(r.Context().Err(), context.Canceled) {
			w.WriteHeader(499) // Client Closed Request
			return
		}
		slog.Warn("Store unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Backing store unavailable")
	default:
		if model.IsCanceled(err) && errors.Is(r.Context().Err(), context.Canceled) {
			w.WriteHeader(499)
			return
		}
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeServerError, "Internal server error")
	}
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// maxBodySize wraps a handler with request body size limiting
func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// withTimeout wraps a handler with a context timeout
// If the handler takes longer than the timeout, the context is cancelled
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// route counts responses per route and status code.
func (h *Handler) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	}
}

type stageParams struct {
	Stage string `schema:"stage"`
}

// stageOrError decodes the required stage parameter.
func (h *Handler) stageOrError(w http.ResponseWriter, r *http.Request) (string, bool) {
	var params stageParams
	if err := h.decoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return "", false
	}
	if params.Stage == "" {
		writeError(w, http.StatusBadRequest, ErrCodeMissingParameter, "Parameter 'stage' is required")
		return "", false
	}
	if !model.CheckStageName(params.Stage) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid stage name")
		return "", false
	}
	return params.Stage, true
}
