package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/handlers/render"
)

type limiter interface {
	Admit(ctx context.Context, origin string, endpoint string) error
	Window() time.Duration
}

// Reject request with 429 when client made too many attempts on the endpoint
// Client is identified by its IP, so RealIP has to run before this middleware
func RateLimitMiddleware(l limiter) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(l.Window().Round(time.Second).Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Admit(r.Context(), ClientIP(r), r.URL.Path); errors.Is(err, apperrors.ErrRateLimited) {
				w.Header().Set("Retry-After", retryAfter)
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Client IP without port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP sets bare address
		return r.RemoteAddr
	}
	return host
}
