package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/logger"
)

func Test_renderError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		expected string
	}{
		{"expired token", apperrors.ErrTokenExpired, http.StatusUnauthorized, unauthorizedBody},
		{"replay", fmt.Errorf("repo error: %w", apperrors.ErrReplayDetected), http.StatusUnauthorized, unauthorizedBody},
		{"invalid credentials", apperrors.ErrInvalidCredentials, http.StatusUnauthorized, unauthorizedBody},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden, `{"errorsMessages": [{"message": "Forbidden", "field": ""}]}`},
		{"not found", fmt.Errorf("can't get session. Err: %w", apperrors.ErrSessionNotFound), http.StatusNotFound, `{"errorsMessages": [{"message": "Not found", "field": ""}]}`},
		{"unexpected", errors.New("connection refused"), http.StatusInternalServerError, `{"errorsMessages": [{"message": "Internal server error", "field": ""}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/test", nil)

			renderError(w, r, tc.err, logger.NewNoOpLogger())

			require.Equal(t, tc.code, w.Code)
			require.JSONEq(t, tc.expected, w.Body.String())
		})
	}
}
