// Package server exposes synthesis and cache administration over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/metrics"
	"github.com/porua/porua/internal/synth"
	"github.com/porua/porua/internal/tts"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestBody bounds synthesis request bodies; text itself is capped
// at tts.MaxTextLength.
const maxRequestBody = 64 * 1024

// Server routes HTTP requests to the orchestrator and its cache.
type Server struct {
	orch    *synth.Orchestrator
	metrics *metrics.Metrics
	logger  *log.Logger

	mux       *http.ServeMux
	startTime time.Time
	jwtSecret []byte
}

// New creates a server. metrics may be nil.
func New(orch *synth.Orchestrator, m *metrics.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		orch:      orch,
		metrics:   m,
		logger:    logger,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))

	s.mux.HandleFunc("POST /v1/synthesize", s.withMetrics("/v1/synthesize", s.withAuth(s.handleSynthesize)))

	s.mux.HandleFunc("GET /v1/cache/stats", s.withMetrics("/v1/cache/stats", s.withAuth(s.handleCacheStats)))
	s.mux.HandleFunc("POST /v1/cache/clear", s.withMetrics("/v1/cache/clear", s.withAuth(s.handleCacheClear)))
	s.mux.HandleFunc("POST /v1/cache/configure", s.withMetrics("/v1/cache/configure", s.withAuth(s.handleCacheConfigure)))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return withSentryRecovery(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed responses through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"cache":  s.orch.Cache() != nil,
	})
}

// handleSynthesize streams the staged delivery as newline-delimited JSON.
// Only an undecodable body is rejected with a status code; every synthesis
// failure, validation included, arrives as an ERROR message after a 200.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req tts.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	ctx := r.Context()
	if id := r.Header.Get(RequestIDHeader); id != "" {
		ctx = tts.WithRequestID(ctx, id)
	}
	ctx, id := tts.EnsureRequestID(ctx)

	w.Header().Set(RequestIDHeader, id)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for msg := range s.orch.Synthesize(ctx, req) {
		if err := enc.Encode(msg); err != nil {
			// Client went away; the request context cancels the rest
			s.logger.Debug("Dropping synthesis stream", "request", id, "error", err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	c := s.orch.Cache()
	if c == nil {
		writeError(w, http.StatusNotFound, errCacheDisabled)
		return
	}
	writeJSON(w, http.StatusOK, c.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	c := s.orch.Cache()
	if c == nil {
		writeError(w, http.StatusNotFound, errCacheDisabled)
		return
	}
	if err := c.Clear(); err != nil {
		// The in-memory index is already empty
		s.logger.Warn("Cache clear incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, c.Stats())
}

func (s *Server) handleCacheConfigure(w http.ResponseWriter, r *http.Request) {
	c := s.orch.Cache()
	if c == nil {
		writeError(w, http.StatusNotFound, errCacheDisabled)
		return
	}

	var opts cache.Options
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := c.Configure(opts); err != nil {
		status := http.StatusInternalServerError
		if kind, _ := tts.KindOf(err); kind == tts.KindValidation {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Stats())
}

var errCacheDisabled = errors.New("cache is disabled")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
