package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amidstdebug/atlas-capture/internal/config"
	"github.com/amidstdebug/atlas-capture/internal/metrics"
	"github.com/amidstdebug/atlas-capture/internal/session"
)

// HTTPServer exposes local monitoring endpoints for the capture agent.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	session *session.Session
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the status server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sess *session.Session, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		session:   sess,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures the status API routes.
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())
}

// Start begins serving in a background goroutine.
func (h *HTTPServer) Start() {
	go func() {
		h.logger.Info("Status server listening", slog.String("addr", h.server.Addr))
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Status server failed", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts the server down.
func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// withMetrics wraps a handler with request counting and duration metrics.
func (h *HTTPServer) withMetrics(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(recorder, r)

		if h.metrics != nil {
			h.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(recorder.status)).Inc()
			h.metrics.HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.startTime).String(),
		"recording": h.session.IsRecording(),
	})
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.State())
}

// handleTranscript serves the segment list and accepts in-place edits:
// PUT /transcript?index=N with body {"text": "..."}.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"segments": h.session.Transcript().Segments(),
			"buffer":   h.session.Transcript().Buffer(),
		})

	case http.MethodPut:
		index, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "index query parameter must be an integer")
			return
		}

		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if err := h.session.Transcript().Edit(index, body.Text); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    h.session.State(),
		"detector":   h.session.DetectorStats(),
		"segmenter":  h.session.SegmenterStats(),
		"dispatcher": h.session.DispatcherStats(r.Context()),
	})
}

// handleConfig returns the active configuration with the token redacted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *h.config
	if redacted.API.Token != "" {
		redacted.API.Token = "[redacted]"
	}
	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
