package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit configures the token bucket shared by all API routes. A
// non-positive rate disables limiting.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if ratePerSecond <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newTokenBucketLimiter(ratePerSecond, burst)
	}
}

// WithTestDonationLimiter overrides the limiter guarding manual test donations.
func WithTestDonationLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.testDonationLimiter = limiter
	}
}

type routerConfig struct {
	enableLogging       bool
	logger              *zap.Logger
	rateLimiter         rateLimiter
	testDonationLimiter rateLimiter
}

type route struct {
	pattern string
	handler http.Handler
}

// NewRouter creates an HTTP router with standard middleware. The middleware
// runs outermost first: request ID, rate limit, access log, recovery, CORS.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		enableLogging:       true,
		logger:              logger,
		rateLimiter:         newTokenBucketLimiter(25, 50),
		testDonationLimiter: newTokenBucketLimiter(1, 3),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	routes := []route{
		{"GET /api/health", http.HandlerFunc(handler.handleHealth)},
		{"POST /api/load", http.HandlerFunc(handler.handleLoad)},
		{"GET /api/state", http.HandlerFunc(handler.handleState)},
		{"POST /api/test-donation", rateLimitMiddleware(cfg.testDonationLimiter, http.HandlerFunc(handler.handleTestDonation))},
		{"GET /api/ws", http.HandlerFunc(handler.handleStream)},
	}

	mux := http.NewServeMux()
	for _, rt := range routes {
		mux.Handle(rt.pattern, rt.handler)
	}

	var root http.Handler = mux
	root = corsMiddleware(root)
	root = recoveryMiddleware(cfg.logger, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, root)
	}
	root = rateLimitMiddleware(cfg.rateLimiter, root)
	return requestIDMiddleware(root)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID,Retry-After")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one access entry per request. Server errors log
// at warn, health probes at debug. Stream upgrades are logged when the
// stream ends.
func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", requestIDFromContext(r.Context())),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.Warn("request failed", fields...)
		case rec.status == http.StatusSwitchingProtocols:
			logger.Info("stream closed", fields...)
		case r.URL.Path == "/api/health":
			logger.Debug("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	})
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestIDFromContext(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "Internal error", "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// maxRequestIDLength bounds client supplied request IDs.
const maxRequestIDLength = 64

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if !validRequestID(requestID) {
			requestID = strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey, requestID)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the logging middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
