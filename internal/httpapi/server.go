// Package httpapi exposes the diarization pipeline over HTTP.
//
// Endpoints:
//
//   - POST /v1/diarize — multipart upload; returns labeled segments.
//   - POST /v1/enroll  — multipart upload + user_id; registers a speaker.
//   - GET  /healthz, /readyz — liveness and readiness probes.
//   - GET  /metrics — Prometheus scrape endpoint.
//
// Errors are JSON envelopes: {"error": {"code": "...", "message": "..."}}.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huddlesync/diarizerd/internal/diarize"
	"github.com/huddlesync/diarizerd/internal/health"
	"github.com/huddlesync/diarizerd/internal/observe"
	"github.com/huddlesync/diarizerd/pkg/audio"
	"github.com/huddlesync/diarizerd/pkg/speaker"
)

// defaultMaxUploadBytes caps the request body via http.MaxBytesReader; a
// larger upload is cut off mid-read and rejected with 413.
const defaultMaxUploadBytes = 100 << 20 // 100 MiB

// maxFormMemory is how much of the parsed form is held in memory before
// spilling to temp files.
const maxFormMemory = 32 << 20

// Error codes returned in the error envelope.
const (
	codeInvalidRequest   = "invalid_request"
	codeUnsupportedMedia = "unsupported_media"
	codeInferenceFailed  = "inference_failed"
	codeStorageFailed    = "storage_failed"
	codeInternal         = "internal"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	orchestrator *diarize.Orchestrator
	normalizer   audio.Normalizer
	health       *health.Handler
	metrics      *observe.Metrics
	logger       *slog.Logger
	maxUpload    int64
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMaxUploadBytes overrides the request body cap. Defaults to 100 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// NewServer creates a Server over the given collaborators.
func NewServer(o *diarize.Orchestrator, n audio.Normalizer, h *health.Handler, opts ...Option) *Server {
	s := &Server{
		orchestrator: o,
		normalizer:   n,
		health:       h,
		logger:       slog.Default(),
		maxUpload:    defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the fully-routed handler with observability middleware
// applied to the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/diarize", s.handleDiarize)
	mux.HandleFunc("POST /v1/enroll", s.handleEnroll)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// diarizeResponse is the body of a successful POST /v1/diarize.
type diarizeResponse struct {
	Segments []diarize.Segment `json:"segments"`
}

// enrollResponse is the body of a successful POST /v1/enroll.
type enrollResponse struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

func (s *Server) handleDiarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.metrics.ActiveRequests.Add(ctx, 1)
	defer s.metrics.ActiveRequests.Add(ctx, -1)

	if !s.parseUpload(w, r) {
		return
	}

	threshold := s.orchestrator.DefaultThreshold()
	if raw := r.FormValue("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "threshold must be a number")
			return
		}
		if t < 0 || t > 1 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "threshold must be in [0, 1]")
			return
		}
		threshold = t
	}

	clip, ok := s.normalizeUpload(w, r)
	if !ok {
		return
	}
	defer clip.Close()

	segments, err := s.orchestrator.Diarize(ctx, clip, threshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "diarization failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeInferenceFailed, "diarization backbone failed")
		return
	}

	if segments == nil {
		segments = []diarize.Segment{}
	}
	writeJSON(w, http.StatusOK, diarizeResponse{Segments: segments})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.metrics.ActiveRequests.Add(ctx, 1)
	defer s.metrics.ActiveRequests.Add(ctx, -1)

	if !s.parseUpload(w, r) {
		return
	}

	userID := r.FormValue("user_id")
	if err := speaker.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "user_id is missing or invalid")
		return
	}

	clip, ok := s.normalizeUpload(w, r)
	if !ok {
		return
	}
	defer clip.Close()

	if err := s.orchestrator.Enroll(ctx, userID, clip); err != nil {
		s.logger.ErrorContext(ctx, "enrollment failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		switch {
		case errors.Is(err, speaker.ErrStorage):
			writeError(w, http.StatusInternalServerError, codeStorageFailed, "failed to persist enrollment")
		case errors.Is(err, speaker.ErrInvalidUserID),
			errors.Is(err, speaker.ErrEmptyEmbedding),
			errors.Is(err, speaker.ErrDimensionMismatch):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		default:
			writeError(w, http.StatusBadGateway, codeInferenceFailed, "embedding extraction failed")
		}
		return
	}

	s.metrics.EnrolledSpeakers.Add(ctx, 1)
	writeJSON(w, http.StatusOK, enrollResponse{Status: "enrolled", UserID: userID})
}

// parseUpload caps the request body and parses the multipart form. It must
// run before any form value is read: r.FormValue would otherwise parse the
// form first, with no body cap at all. On failure it writes the error
// response and returns false.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, codeInvalidRequest,
				"upload exceeds the "+strconv.FormatInt(tooBig.Limit, 10)+" byte limit")
			return false
		}
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "request must be multipart/form-data with an audio part")
		return false
	}
	return true
}

// normalizeUpload extracts the "audio" part from the parsed multipart form
// and runs it through the normalizer. On failure it writes the error
// response and returns ok=false. On success the caller owns the clip and
// must Close it.
func (s *Server) normalizeUpload(w http.ResponseWriter, r *http.Request) (*audio.Clip, bool) {
	ctx := r.Context()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "audio file part is required")
		return nil, false
	}
	defer file.Close()

	clip, err := s.normalizer.Normalize(ctx, file, header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrUnsupportedFormat):
			writeError(w, http.StatusUnsupportedMediaType, codeUnsupportedMedia, "unsupported audio format")
		case errors.Is(err, audio.ErrEmptyAudio):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "audio is empty")
		default:
			s.logger.ErrorContext(ctx, "audio normalization failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to process audio")
		}
		return nil, false
	}
	return clip, true
}

// errorEnvelope is the JSON error response body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":{"code":"internal","message":"encoding failure"}}`, http.StatusInternalServerError)
	}
}
