package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/internal/metrics"
	"github.com/ericyarmo/buds-relay/pkg/ratelimit"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// principalFrom returns the authenticated principal stashed by the auth
// middleware. Panics if called on an unauthenticated route; that is a
// routing bug, not a runtime condition.
func principalFrom(ctx context.Context) *auth.Principal {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	if !ok {
		panic("principal requested on unauthenticated route")
	}
	return p
}

// requestLogger logs request start and completion with the request id
// carried through the context for handler logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ctx := logger.WithContext(r.Context(), &logger.LogContext{
			RequestID: requestID,
			Path:      r.URL.Path,
			Method:    r.Method,
		})
		r = r.WithContext(ctx)

		logger.DebugCtx(ctx, "request started", "remote_addr", r.RemoteAddr)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveRequest(route, ww.Status(), elapsed)

		logger.InfoCtx(ctx, "request completed",
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", elapsed.String(),
		)
	})
}

// authenticate verifies the bearer token and stashes the principal.
// Missing or invalid tokens are AUTH_FAILED.
func authenticate(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeErrorCode(w, r, http.StatusUnauthorized, CodeAuthFailed, "missing bearer token", nil)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeErrorCode(w, r, http.StatusUnauthorized, CodeAuthFailed, "invalid token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimit enforces the per-endpoint budget. The principal is the
// authenticated subject when present, else the client IP (RealIP runs
// earlier in the stack), else "anonymous".
func rateLimit(limiter *ratelimit.Limiter, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := "anonymous"
			if p, ok := r.Context().Value(principalKey).(*auth.Principal); ok && p.Subject != "" {
				principal = p.Subject
			} else if host := clientHost(r.RemoteAddr); host != "" {
				principal = host
			}

			d := limiter.Allow(endpoint, principal)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := int64(d.RetryAfter/time.Second) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				metrics.RateLimited.WithLabelValues(endpoint).Inc()
				writeErrorCode(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientHost strips the port from a RemoteAddr. After RealIP the value
// is usually a bare IP with no port (including IPv6), which
// SplitHostPort rejects; the raw value is returned as-is then.
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
