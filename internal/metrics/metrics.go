// Package metrics holds prometheus collectors of the service.
// All methods are safe to call on nil *Metrics, so tests may skip them.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nkiryanov/devauth/internal/apperrors"
)

// Rate limiter decisions
const (
	DecisionAdmit    = "admit"
	DecisionReject   = "reject"
	DecisionFailOpen = "fail_open"
)

// Operation results
const (
	ResultOK           = "ok"
	ResultUnauthorized = "unauthorized"
	ResultReplay       = "replay"
	ResultForbidden    = "forbidden"
	ResultNotFound     = "not_found"
	ResultConflict     = "conflict"
	ResultError        = "error"
)

type Metrics struct {
	authOperations     *prometheus.CounterVec
	rateLimitDecisions *prometheus.CounterVec
	sessionsExpired    prometheus.Counter
}

// Register collectors in reg
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration panics
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		authOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "auth_operations_total",
			Help:      "Auth operations by result.",
		}, []string{"operation", "result"}),
		rateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by endpoint.",
		}, []string{"endpoint", "decision"}),
		sessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "sessions_expired_deleted_total",
			Help:      "Expired sessions removed by janitor.",
		}),
	}
}

// Count auth operation outcome
func (m *Metrics) AuthOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.authOperations.WithLabelValues(operation, Result(err)).Inc()
}

func (m *Metrics) RateLimitDecision(endpoint string, decision string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(endpoint, decision).Inc()
}

func (m *Metrics) SessionsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsExpired.Add(float64(n))
}

// Map operation error to metric result label
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, apperrors.ErrReplayDetected):
		return ResultReplay
	case apperrors.IsAuthFailure(err):
		return ResultUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return ResultForbidden
	case errors.Is(err, apperrors.ErrSessionNotFound), errors.Is(err, apperrors.ErrUserNotFound):
		return ResultNotFound
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		return ResultConflict
	default:
		return ResultError
	}
}
