package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/logger"
)

// Write response for errors every handler may get from services
// All authentication failures look the same for the client
func renderError(w http.ResponseWriter, r *http.Request, err error, l logger.Logger) {
	switch {
	case apperrors.IsAuthFailure(err):
		l.Debug("request not authenticated", "uri", r.RequestURI, "error", err)
		render.Unauthorized(w)
	case errors.Is(err, apperrors.ErrForbidden):
		render.ServiceError(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		render.ServiceError(w, "Not found", http.StatusNotFound)
	default:
		l.Error("request failed", "uri", r.RequestURI, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
