package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devauth/internal/apperrors"
)

type fakeLimiter struct {
	mu       sync.Mutex
	limit    int
	attempts map[string]int
}

func (l *fakeLimiter) Admit(_ context.Context, origin string, endpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := origin + ":" + endpoint
	if l.attempts[key] >= l.limit {
		return apperrors.ErrRateLimited
	}
	l.attempts[key]++
	return nil
}

func (l *fakeLimiter) Window() time.Duration { return 10 * time.Second }

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	do := func(h http.Handler, remoteAddr string, path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("rejects over the limit", func(t *testing.T) {
		h := RateLimitMiddleware(&fakeLimiter{limit: 2, attempts: map[string]int{}})(ok)

		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.1:5000", "/auth/login").Code)
		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.1:5001", "/auth/login").Code, "port is not the part of the client key")

		w := do(h, "10.0.0.1:5002", "/auth/login")

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "10", w.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"errorsMessages": [{"message": "Too many requests", "field": ""}]}`, w.Body.String())
	})

	t.Run("keys are independent", func(t *testing.T) {
		h := RateLimitMiddleware(&fakeLimiter{limit: 1, attempts: map[string]int{}})(ok)

		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.1:5000", "/auth/login").Code)
		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.2:5000", "/auth/login").Code, "other client")
		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.1:5000", "/auth/registration").Code, "other endpoint")
		require.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:5000", "/auth/login").Code)
	})

	t.Run("limiter store errors admit request", func(t *testing.T) {
		h := RateLimitMiddleware(admitFunc(func(context.Context, string, string) error {
			return errors.New("redis: connection refused")
		}))(ok)

		require.Equal(t, http.StatusNoContent, do(h, "10.0.0.1:5000", "/auth/login").Code)
	})

	t.Run("forwarded headers of untrusted client ignored", func(t *testing.T) {
		l := &fakeLimiter{limit: 5, attempts: map[string]int{}}
		h := RealIP(nil)(RateLimitMiddleware(l)(ok))

		rejected := 0
		for i := range 20 {
			r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			r.RemoteAddr = "6.6.6.6:1234"
			r.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.%d.%d", i/250, i%250+1))
			r.Header.Set("X-Real-IP", fmt.Sprintf("10.2.0.%d", i+1))
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			if w.Code == http.StatusTooManyRequests {
				rejected++
			}
		}

		require.Equal(t, 15, rejected, "all requests come from one socket address")
		require.Equal(t, map[string]int{"6.6.6.6:/auth/login": 5}, l.attempts)
	})

	t.Run("forwarded client of trusted proxy limited", func(t *testing.T) {
		trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
		require.NoError(t, err)
		l := &fakeLimiter{limit: 1, attempts: map[string]int{}}
		h := RealIP(trusted)(RateLimitMiddleware(l)(ok))

		send := func(client string) int {
			r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			r.RemoteAddr = "10.0.0.1:5000"
			r.Header.Set("X-Forwarded-For", client)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w.Code
		}

		require.Equal(t, http.StatusNoContent, send("203.0.113.7"))
		require.Equal(t, http.StatusNoContent, send("203.0.113.8"), "other client behind the same proxy")
		require.Equal(t, http.StatusTooManyRequests, send("203.0.113.7"))
	})
}

// Allow to use a function as limiter
type admitFunc func(ctx context.Context, origin string, endpoint string) error

func (f admitFunc) Admit(ctx context.Context, origin string, endpoint string) error {
	return f(ctx, origin, endpoint)
}

func (f admitFunc) Window() time.Duration { return time.Second }

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		expected   string
	}{
		{"10.0.0.1:5000", "10.0.0.1"},
		{"[::1]:5000", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tc := range tests {
		t.Run(tc.remoteAddr, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remoteAddr

			require.Equal(t, tc.expected, ClientIP(r))
		})
	}
}
