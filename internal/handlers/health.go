package handlers

import (
	"net/http"

	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/logger"
)

func handleHealth(check HealthCheck, l logger.Logger) http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				l.Warn("health check failed", "error", err)
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		render.JSON(w, response{Status: "ok"})
	}
}
