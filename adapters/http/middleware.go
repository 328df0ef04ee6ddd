package http

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/docstream/adapters/metrics"
	"github.com/artpar/docstream/domain/key"
	"github.com/artpar/docstream/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// internalPath reports paths excluded from request logs, metrics and auth.
func internalPath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics" || path == "/version" ||
		strings.HasPrefix(path, "/swagger") || strings.HasPrefix(path, "/.well-known")
}

// NewLoggingMiddleware logs each request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if internalPath(r.URL.Path) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// NewMetricsMiddleware records request counts and latency by route pattern.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := metrics.StatusLabel(ww.Status())

			m.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// NewAuthMiddleware requires a valid API key on every non-internal request.
// hashes is called per request so reloaded configuration takes effect.
// When it returns no hashes, authentication is disabled.
func NewAuthMiddleware(hashes func() []string, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := hashes()
			if len(allowed) == 0 || internalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := extractAPIKey(r)
			if raw == "" {
				writeError(w, &Error{Status: http.StatusUnauthorized, Code: "missing_api_key", Message: "API key required"})
				return
			}
			if !key.Verify(allowed, raw) {
				logger.Debug().
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("invalid api key")
				writeError(w, &Error{Status: http.StatusUnauthorized, Code: "invalid_api_key", Message: "The provided API key is invalid"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRateLimitMiddleware throttles each client to the limiter's budget.
// Clients are identified by API key when one is sent, otherwise by remote
// address. Denied requests get 429 with Retry-After.
func NewRateLimitMiddleware(limiter ports.RateLimiter, clock ports.Clock, m *metrics.Collector, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			now := clock.Now()
			d := limiter.Allow(clientID(r), now)
			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if !d.Allowed {
				if m != nil {
					m.RateLimited.Inc()
				}
				logger.Debug().
					Str("request_id", middleware.GetReqID(r.Context())).
					Time("reset_at", d.ResetAt).
					Msg("rate limited")

				secs := int(d.RetryAfter(now).Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, &Error{Status: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "Too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID names the budget a request is charged to. API keys are hashed
// so raw keys are never held by the limiter.
func clientID(r *http.Request) string {
	if raw := extractAPIKey(r); raw != "" {
		sum := sha256.Sum256([]byte(raw))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr // RealIP leaves a bare address
	}
	return "addr:" + host
}

// extractAPIKey gets the API key from the request.
// Checks: Authorization header (Bearer), X-API-Key header, api_key query param.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}
