package service

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/accounts/pkg/errors"
)

// AuthMetrics counts session operations by outcome.
type AuthMetrics struct {
	attempts *prometheus.CounterVec
}

func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	return &AuthMetrics{
		attempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Session operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

func (m *AuthMetrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, outcome(err)).Inc()
}

// outcome is "success", the lower-cased code of a client-facing AppError,
// or "error".
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < 500 {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}
