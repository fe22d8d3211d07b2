package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/handlers/middleware"
	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/models"
)

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func deviceFromRequest(r *http.Request) models.DeviceInfo {
	return models.DeviceInfo{
		IP:    middleware.ClientIP(r),
		Title: r.UserAgent(),
	}
}

func handleLogin(auth authService, l logger.Logger) http.HandlerFunc {
	type request struct {
		LoginOrEmail string `json:"loginOrEmail" validate:"notblank"`
		Password     string `json:"password" validate:"notblank"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.LoginOrEmail, data.Password, deviceFromRequest(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		auth.SetRefreshCookie(w, pair.Refresh)
		render.JSON(w, accessTokenResponse{AccessToken: pair.Access.Value})
	}
}

func handleRefreshToken(auth authService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.ReadRefreshToken(r)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		pair, err := auth.Refresh(r.Context(), refresh, deviceFromRequest(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		auth.SetRefreshCookie(w, pair.Refresh)
		render.JSON(w, accessTokenResponse{AccessToken: pair.Access.Value})
	}
}

func handleLogout(auth authService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.ReadRefreshToken(r)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		if err := auth.Logout(r.Context(), refresh); err != nil {
			renderError(w, r, err, l)
			return
		}

		auth.ClearRefreshCookie(w)
		render.NoContent(w)
	}
}

// User is put to context by auth middleware
func handleMe() http.HandlerFunc {
	type response struct {
		UserID uuid.UUID `json:"userId"`
		Login  string    `json:"login"`
		Email  string    `json:"email"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.AuthenticatedUser(r.Context())
		render.JSON(w, response{UserID: user.ID, Login: user.Login, Email: user.Email})
	}
}
