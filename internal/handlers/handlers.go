// Package handlers provides the HTTP API of the stealthfetch server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/config"
	"github.com/Rorqualx/stealthfetch/internal/metrics"
	"github.com/Rorqualx/stealthfetch/internal/middleware"
	"github.com/Rorqualx/stealthfetch/internal/security"
	"github.com/Rorqualx/stealthfetch/internal/stats"
	"github.com/Rorqualx/stealthfetch/internal/types"
	"github.com/Rorqualx/stealthfetch/pkg/version"
)

const (
	maxBodySize   = 1 << 20 // 1MB
	healthTimeout = 5 * time.Second
)

// Fetcher runs fetches for the API. SessionHolder is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (string, error)
	Ping(ctx context.Context) error
}

// Handler handles all stealthfetch API requests.
type Handler struct {
	fetcher Fetcher
	config  *config.Config
	stats   *stats.Manager
}

// New creates a new Handler.
func New(fetcher Fetcher, cfg *config.Config) *Handler {
	return &Handler{fetcher: fetcher, config: cfg}
}

// WithStats makes the handler record per-host outcomes and serve GET /stats.
func (h *Handler) WithStats(m *stats.Manager) *Handler {
	h.stats = m
	return h
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1", h.HandleFetch)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("/v1", h.HandleMethodNotAllowed)
	mux.HandleFunc("/health", h.HandleMethodNotAllowed)
	if h.stats != nil {
		mux.HandleFunc("GET /stats", h.HandleStats)
		mux.HandleFunc("/stats", h.HandleMethodNotAllowed)
	}
	mux.HandleFunc("/", h.HandleNotFound)
	return mux
}

// HandleHealth reports whether the browser session answers.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.fetcher.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		h.writeErrorWithStatus(w, http.StatusServiceUnavailable, "Browser session is not responding", startTime)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, types.Response{
		Status:    types.StatusOK,
		Message:   "stealthfetch is ready",
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	})
}

// HandleFetch handles POST /v1.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.RequestIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	// Pooled buffer keeps large bodies from churning the GC
	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to read request body")
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErrorWithStatus(w, http.StatusRequestEntityTooLarge, "Request body too large", startTime)
			return
		}
		h.writeErrorWithStatus(w, http.StatusBadRequest, "Failed to read request", startTime)
		return
	}

	var req types.FetchRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to decode request")
		h.writeErrorWithStatus(w, http.StatusBadRequest, "Invalid JSON request", startTime)
		return
	}

	if err := req.Validate(); err != nil {
		h.writeErrorWithStatus(w, http.StatusBadRequest, err.Error(), startTime)
		return
	}
	if err := security.ValidateFetchURL(req.URL, h.config.AllowLocalURLs); err != nil {
		log.Warn().
			Err(err).
			Str("request_id", requestID).
			Str("url", security.RedactURL(req.URL)).
			Msg("Blocked fetch URL")
		h.writeErrorWithStatus(w, http.StatusBadRequest, err.Error(), startTime)
		return
	}
	if err := security.ValidateHeaders(req.Headers); err != nil {
		h.writeErrorWithStatus(w, http.StatusBadRequest, err.Error(), startTime)
		return
	}
	middleware.SetFetchHost(r.Context(), stats.ExtractHost(req.URL))

	log.Info().
		Str("request_id", requestID).
		Str("url", security.RedactURL(req.URL)).
		Int("header_overrides", len(req.Headers)).
		Bool("headers_override", req.Headers != nil).
		Msg("Fetch request received")

	ctx := r.Context()
	if timeout := h.requestTimeout(req.MaxTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fetchStart := time.Now()
	html, err := h.fetcher.Fetch(ctx, req.URL, req.NormalizedHeaders())
	if h.stats != nil {
		h.stats.Record(req.URL, time.Since(fetchStart), err)
	}
	if err != nil {
		h.writeFetchError(w, err, startTime)
		return
	}

	if h.config.LogHTML {
		log.Debug().Str("request_id", requestID).Str("html", html).Msg("Fetched HTML")
	}

	metrics.RecordRequest(types.StatusOK)
	h.writeJSONResponse(w, http.StatusOK, types.Response{
		Status:    types.StatusOK,
		Message:   "Fetch completed",
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Solution:  &types.Solution{URL: req.URL, HTML: html},
	})
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Hosts   []stats.Snapshot `json:"hosts"`
}

// HandleStats lists per-host fetch counters. ?host= narrows it to one host.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Status: types.StatusOK, Version: version.Full()}

	if host := r.URL.Query().Get("host"); host != "" {
		snap, ok := h.stats.Get(host)
		if !ok {
			h.writeErrorWithStatus(w, http.StatusNotFound, "No stats for host", time.Now())
			return
		}
		resp.Hosts = []stats.Snapshot{snap}
	} else {
		resp.Hosts = h.stats.All()
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// requestTimeout converts a request's maxTimeout to a duration capped at
// the server maximum. Zero means the session's own fetch timeout applies.
func (h *Handler) requestTimeout(maxTimeoutMs int) time.Duration {
	if maxTimeoutMs <= 0 {
		return 0
	}
	timeout := time.Duration(maxTimeoutMs) * time.Millisecond
	if h.config.MaxTimeout > 0 && timeout > h.config.MaxTimeout {
		timeout = h.config.MaxTimeout
	}
	return timeout
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusMethodNotAllowed, "Method not allowed", time.Now())
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusNotFound, "Not found", time.Now())
}

// fetchErrorStatus maps a fetch failure kind to an HTTP status.
func fetchErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch types.KindOf(err) {
	case types.KindLaunch:
		return http.StatusServiceUnavailable
	case types.KindNetwork, types.KindNavigation, types.KindFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeFetchError(w http.ResponseWriter, err error, startTime time.Time) {
	resp := types.Response{
		Status:    types.StatusError,
		Message:   err.Error(),
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		ErrorKind: types.KindOf(err),
	}
	var fe *types.FetchError
	if errors.As(err, &fe) {
		resp.Stage = fe.Stage
	}

	metrics.RecordRequest(types.StatusError)
	h.writeJSONResponse(w, fetchErrorStatus(err), resp)
}

// writeErrorWithStatus writes an error response with a specific HTTP status code.
func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	metrics.RecordRequest(types.StatusError)
	h.writeJSONResponse(w, statusCode, types.Response{
		Status:    types.StatusError,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	})
}

// writeJSONResponse encodes into a buffer first so encoding errors are
// caught before the status line is sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp any) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
