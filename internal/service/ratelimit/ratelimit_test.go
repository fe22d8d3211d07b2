package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/metrics"
	"github.com/nkiryanov/devauth/internal/repository/redis"
	"github.com/nkiryanov/devauth/internal/testutil"
)

// Allow to use a function as attempts repo
type admitFunc func(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)

func (f admitFunc) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	return f(ctx, key, now, window, limit)
}

func Test_Limiter(t *testing.T) {
	t.Parallel()

	withLimiter := func(t *testing.T, fn func(l *Limiter, clock *time.Time)) {
		rs := testutil.StartRedis(t)
		l := New(Config{}, redis.NewAttemptRepo(rs.Client, time.Second), nil, nil)
		clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return clock }

		fn(l, &clock)
	}

	t.Run("defaults", func(t *testing.T) {
		l := New(Config{}, nil, nil, nil)

		require.Equal(t, 10*time.Second, l.window)
		require.Equal(t, 5, l.max)
	})

	t.Run("five admitted sixth rejected", func(t *testing.T) {
		withLimiter(t, func(l *Limiter, clock *time.Time) {
			for i := range 5 {
				require.NoErrorf(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"), "attempt %d must pass", i+1)
				*clock = clock.Add(time.Second)
			}

			require.ErrorIs(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"), apperrors.ErrRateLimited)
		})
	})

	t.Run("admitted again after window", func(t *testing.T) {
		withLimiter(t, func(l *Limiter, clock *time.Time) {
			for range 5 {
				require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"))
			}
			require.ErrorIs(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"), apperrors.ErrRateLimited)

			*clock = clock.Add(11 * time.Second)

			require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"))
		})
	})

	t.Run("origins and endpoints counted separately", func(t *testing.T) {
		withLimiter(t, func(l *Limiter, clock *time.Time) {
			for range 5 {
				require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"))
			}

			require.NoError(t, l.Admit(t.Context(), "5.6.7.8", "/auth/login"))
			require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/registration"))
		})
	})

	t.Run("fail open on store error", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		l := New(Config{}, admitFunc(func(context.Context, string, time.Time, time.Duration, int) (bool, error) {
			return false, errors.New("redis error: connection refused")
		}), nil, m)

		require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"))

		expected := `
# HELP devauth_ratelimit_decisions_total Rate limiter decisions by endpoint.
# TYPE devauth_ratelimit_decisions_total counter
devauth_ratelimit_decisions_total{decision="fail_open",endpoint="/auth/login"} 1
`
		err := promtestutil.GatherAndCompare(reg, strings.NewReader(expected), "devauth_ratelimit_decisions_total")
		require.NoError(t, err)
	})

	t.Run("fail open on redis error reply", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		rs.Server.SetError("LOADING")
		l := New(Config{}, redis.NewAttemptRepo(rs.Client, 50*time.Millisecond), nil, nil)

		require.NoError(t, l.Admit(t.Context(), "1.2.3.4", "/auth/login"))
	})

	t.Run("key passed to store", func(t *testing.T) {
		var gotKey string
		var gotWindow time.Duration
		var gotLimit int
		l := New(Config{Window: time.Minute, MaxAttempts: 3}, admitFunc(func(_ context.Context, key string, _ time.Time, window time.Duration, limit int) (bool, error) {
			gotKey, gotWindow, gotLimit = key, window, limit
			return true, nil
		}), nil, nil)

		_ = l.Admit(t.Context(), "1.2.3.4", "/auth/login")

		require.Equal(t, "1.2.3.4:/auth/login", gotKey)
		require.Equal(t, time.Minute, gotWindow)
		require.Equal(t, 3, gotLimit)
	})
}
