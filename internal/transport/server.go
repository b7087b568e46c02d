// Package transport implements the HTTP/WebSocket external interfaces
// of spec.md §6 as one concrete (but swappable, per spec.md §1)
// binding over the engine. It owns request logging, CORS, rate
// limiting on mutating routes, and the dashboard asset — everything
// the spec calls "transport," never engine state itself.
//
// Grounded on the teacher's two cmd/*/main.go http.Server/http.ServeMux
// wiring (graceful shutdown via context + Shutdown with a bounded
// timeout) and internal/gateway/middleware.go for the CORS/rate-limit
// chain.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetwatch/sentinel/internal/config"
	"github.com/fleetwatch/sentinel/internal/engine"
	"github.com/fleetwatch/sentinel/internal/middleware"
)

// Server binds the engine to net/http.
type Server struct {
	eng       *engine.Engine
	cfg       config.Config
	logger    *slog.Logger
	gatherer  prometheus.Gatherer

	authCfg middleware.AuthConfig
	limiter *middleware.RateLimiter

	httpServer *http.Server
}

// New builds a Server. gatherer is the same registry engine.New
// registered its Sink against, so /metrics reflects exactly this
// process's series rather than the global DefaultRegisterer. Call Run
// to start listening.
func New(eng *engine.Engine, cfg config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		eng:      eng,
		cfg:      cfg,
		logger:   logger,
		gatherer: gatherer,
		authCfg: middleware.AuthConfig{
			APIKey:       cfg.Auth.APIKey,
			HMACSecret:   cfg.Auth.HMACSecret,
			AllowedRoles: cfg.Auth.AllowedRoles,
		},
		limiter: middleware.NewRateLimiter(60, 60),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := middleware.CORS(middleware.CORSConfig{
		AllowAnyOrigin: true,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Api-Key", "Authorization", "X-Request-Id"},
	})(middleware.RequestLogging(logger, s.recordMetrics(mux)))

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// recordMetrics wraps next so every served request is reflected in the
// http_requests_total / http_request_duration_seconds series.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.eng.Metrics.RecordHTTPRequest(r.Method, r.Pattern, fmt.Sprintf("%d", rw.statusCode), time.Since(start))
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection hijack through to the wrapped writer so
// the /ws upgrade works behind this wrapper.
func (w *statusCapturingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /health", s.handleSelfHealth)
	mux.HandleFunc("GET /health/aggregate", s.handleAggregate)
	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("GET /api/services/{id}/health", s.handleServiceHealth)
	mux.Handle("POST /api/services/{id}/restart", s.limiter.Middleware(http.HandlerFunc(s.handleRestart)))
	mux.Handle("POST /api/compose", s.limiter.Middleware(http.HandlerFunc(s.handleCompose)))
	mux.HandleFunc("GET /api/metrics", s.handleMetricsJSON)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Run starts the HTTP (or HTTPS, if TLS material is configured) server
// and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Server.TLSCertPath != "" && s.cfg.Server.TLSKeyPath != "" {
			if _, certErr := tls.LoadX509KeyPair(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath); certErr != nil {
				if s.cfg.Server.StrictTLS {
					errCh <- fmt.Errorf("load TLS keypair: %w", certErr)
					return
				}
				s.logger.Warn("TLS keypair invalid, falling back to HTTP", "error", certErr)
				err = s.httpServer.ListenAndServe()
			} else {
				s.logger.Info("listening (https)", "addr", s.cfg.Server.Addr)
				err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
			}
		} else {
			s.logger.Info("listening (http)", "addr", s.cfg.Server.Addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
