// Package api wires the HTTP surface for the tree orchestration core: the
// streaming generate-tree endpoint (spec §4.5, §6), health/readiness
// probes, and the Prometheus scrape target, following the teacher's
// internal/api/server.go bootstrap shape.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/psychohistory/psychohistory/internal/api/health"
	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/internal/stream"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int
	ServiceName     string
	Version         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdmissionPerMin float64
	AdmissionBurst  int
	KafkaSink       *stream.KafkaSink // optional analytics mirror, nil if disabled
}

// Builder is the subset of scheduler.Builder the endpoint depends on.
type Builder interface {
	Build(ctx context.Context, seed domain.SeedInput, sink stream.EventSink) (domain.EventNode, error)
}

// BuilderFactory constructs a fresh Builder per request — the scheduler is
// single-use per spec §3 Ownership ("one tree per request").
type BuilderFactory func() Builder

// Server wraps the HTTP server with lifecycle management.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// NewServer builds and configures the HTTP server and all its routes.
func NewServer(cfg ServerConfig, newBuilder BuilderFactory, healthHandler *health.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	admission := rate.NewLimiter(rate.Limit(cfg.AdmissionPerMin/60.0), admissionBurst(cfg.AdmissionBurst))

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/generate-tree/stream", streamHandler(newBuilder, admission, cfg.KafkaSink, log))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`, cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		// WriteTimeout is deliberately left at cfg.WriteTimeout (0 by
		// default): the stream endpoint is long-lived and an http.Server
		// write deadline would sever it mid-build.
		ReadTimeout:  readTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 15 * time.Second
	}

	return &Server{httpServer: httpServer, shutdownTimeout: shutdownTimeout, log: log}
}

func admissionBurst(burst int) int {
	if burst <= 0 {
		return 5
	}
	return burst
}

// generateTreeRequest is the wire shape of spec §6's SeedInput request
// body.
type generateTreeRequest struct {
	Event     string `json:"event"`
	Context   string `json:"context,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	MaxDepth  int    `json:"maxDepth,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// streamHandler implements POST /generate-tree/stream (spec §4.5, §6):
// validates the request, admits it through the rate limiter, opens an SSE
// response, and drives the scheduler with a sink that writes directly to
// the client (optionally mirrored to Kafka).
func streamHandler(newBuilder BuilderFactory, admission *rate.Limiter, kafkaSink *stream.KafkaSink, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req generateTreeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if req.Event == "" {
			writeJSONError(w, http.StatusBadRequest, "event is required and must be non-empty")
			return
		}

		if !admission.Allow() {
			metrics.StreamAdmissionRejected.WithLabelValues().Inc()
			writeJSONError(w, http.StatusTooManyRequests, "too many tree build requests, try again shortly")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		stream.Headers(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		metrics.StreamConnectionsActive.WithLabelValues().Inc()
		defer metrics.StreamConnectionsActive.WithLabelValues().Dec()

		sseSink := stream.NewChannelSink(256)
		var sink stream.EventSink = sseSink
		if kafkaSink != nil {
			sink = stream.NewMultiSink(sseSink, kafkaSink)
		}

		seed := domain.SeedInput{
			Event:     req.Event,
			Context:   req.Context,
			Timeframe: req.Timeframe,
			MaxDepth:  req.MaxDepth,
			Domain:    req.Domain,
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Drain(w, sseSink, r.Context().Done())
		}()

		builder := newBuilder()
		if _, err := builder.Build(r.Context(), seed, sink); err != nil {
			log.Warnw("tree build returned an error", "error", err)
		}

		sseSink.Close()
		wg.Wait()
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Start begins listening for HTTP requests. Blocks until the server is
// stopped or encounters an error.
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests (including in-progress streams) to finish within the
// server's configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
