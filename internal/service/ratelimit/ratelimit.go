package ratelimit

import (
	"context"
	"time"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/metrics"
	"github.com/nkiryanov/devauth/internal/repository"
)

const (
	defaultWindow      = 10 * time.Second
	defaultMaxAttempts = 5
)

type Config struct {
	// Sliding window length
	Window time.Duration

	// Attempts admitted within the window
	MaxAttempts int
}

// Sliding window limiter keyed by (origin, endpoint)
type Limiter struct {
	repo    repository.AttemptRepo
	window  time.Duration
	max     int
	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, repo repository.AttemptRepo, l logger.Logger, m *metrics.Metrics) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Limiter{
		repo:    repo,
		window:  cfg.Window,
		max:     cfg.MaxAttempts,
		now:     time.Now,
		logger:  l.With("component", "ratelimit"),
		metrics: m,
	}
}

func (l *Limiter) Window() time.Duration { return l.window }

// Admit records the attempt or returns apperrors.ErrRateLimited when the client is over the limit
// Store failures admit the request: availability wins over throttling
func (l *Limiter) Admit(ctx context.Context, origin string, endpoint string) error {
	ok, err := l.repo.Admit(ctx, origin+":"+endpoint, l.now(), l.window, l.max)
	if err != nil {
		l.logger.Warn("rate limiter store failed, request admitted", "origin", origin, "endpoint", endpoint, "error", err)
		l.metrics.RateLimitDecision(endpoint, metrics.DecisionFailOpen)
		return nil
	}

	if !ok {
		l.logger.Debug("request rejected", "origin", origin, "endpoint", endpoint)
		l.metrics.RateLimitDecision(endpoint, metrics.DecisionReject)
		return apperrors.ErrRateLimited
	}

	l.metrics.RateLimitDecision(endpoint, metrics.DecisionAdmit)
	return nil
}
