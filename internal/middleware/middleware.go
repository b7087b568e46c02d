// Package middleware provides HTTP middleware shared by the transport
// layer: request logging, rate limiting, CORS, and authorization.
//
// Adapted directly from the teacher's internal/gateway/middleware.go —
// RequestLogging, RateLimiter, and CORS keep the teacher's fixed-window
// per-IP bucket and origin-echo shape unchanged. JWTAuth is replaced by
// the Authorize chain in auth.go, which implements the Control
// Dispatcher's authorization precedence instead of generic JWT bearer
// validation.
package middleware

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RequestLogging wraps a handler with structured request/response logging.
func RequestLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := clientIPAddress(r)
		requestID := r.Header.Get("X-Request-ID")

		logger.Info("incoming request",
			"method", r.Method, "path", r.URL.Path, "client_ip", clientIP, "request_id", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		logger.Info("outgoing response",
			"method", r.Method, "path", r.URL.Path, "status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(), "request_id", requestID)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade route's connection hijack reach the
// underlying ResponseWriter through this wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// RateLimiter implements fixed-window per-client-IP rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a rate limiter with the given per-window limit.
func NewRateLimiter(limit int, windowSeconds int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  time.Duration(windowSeconds) * time.Second,
	}
}

// Middleware returns an http.Handler that enforces rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIPAddress(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if b.count >= rl.limit {
		return false
	}
	b.count++
	return true
}

// CORSConfig controls the CORS middleware.
type CORSConfig struct {
	AllowAnyOrigin bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// CORS returns middleware that handles Cross-Origin Resource Sharing.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := cfg.AllowAnyOrigin || len(cfg.AllowedOrigins) == 0
				if !allowed {
					for _, o := range cfg.AllowedOrigins {
						if strings.EqualFold(o, origin) {
							allowed = true
							break
						}
					}
				}
				if allowed {
					if cfg.AllowAnyOrigin {
						w.Header().Set("Access-Control-Allow-Origin", "*")
					} else {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Vary", "Origin")
					}
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIPAddress extracts the client IP, trusting X-Forwarded-For only
// from loopback (i.e. a local reverse proxy).
func clientIPAddress(r *http.Request) string {
	remoteHost, _, _ := net.SplitHostPort(r.RemoteAddr)
	remoteIP := net.ParseIP(remoteHost)

	if remoteIP != nil && remoteIP.IsLoopback() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.SplitN(xff, ",", 2)
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if remoteHost != "" {
		return remoteHost
	}
	return "unknown"
}
