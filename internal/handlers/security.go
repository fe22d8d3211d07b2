package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/logger"
)

func handleListDevices(auth authService, l logger.Logger) http.HandlerFunc {
	type device struct {
		DeviceID       uuid.UUID `json:"deviceId"`
		IP             string    `json:"ip"`
		Title          string    `json:"title"`
		LastActiveDate time.Time `json:"lastActiveDate"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.ReadRefreshToken(r)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		sessions, err := auth.ListDevices(r.Context(), refresh)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		devices := make([]device, 0, len(sessions))
		for _, s := range sessions {
			devices = append(devices, device{
				DeviceID:       s.DeviceID,
				IP:             s.IP,
				Title:          s.Title,
				LastActiveDate: s.LastActiveAt.UTC(),
			})
		}

		render.JSON(w, devices)
	}
}

func handleRevokeDevice(auth authService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.ReadRefreshToken(r)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		// Not an uuid is not an id of any device. Still authenticate the caller first so it gets 404, not 401
		deviceID, err := uuid.Parse(chi.URLParam(r, "deviceId"))
		if err != nil {
			deviceID = uuid.Nil
		}

		if err := auth.RevokeDevice(r.Context(), refresh, deviceID); err != nil {
			renderError(w, r, err, l)
			return
		}

		render.NoContent(w)
	}
}

func handleRevokeOtherDevices(auth authService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.ReadRefreshToken(r)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		if err := auth.RevokeOtherDevices(r.Context(), refresh); err != nil {
			renderError(w, r, err, l)
			return
		}

		render.NoContent(w)
	}
}
