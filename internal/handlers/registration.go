package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/service/user"
)

func fieldError(w http.ResponseWriter, field string, message string) {
	render.Errors(w, http.StatusBadRequest, render.FieldError{Message: message, Field: field})
}

func handleRegistration(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Login    string `json:"login" validate:"required,min=3,max=10"`
		Password string `json:"password" validate:"required,min=6,max=20"`
		Email    string `json:"email" validate:"required,email"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		_, err = users.Register(r.Context(), data.Login, data.Email, data.Password)

		var conflict *user.ConflictError
		switch {
		case err == nil:
			render.NoContent(w)
		case errors.As(err, &conflict):
			fieldError(w, conflict.Field, "User with this "+conflict.Field+" already exists")
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			// Lost the race with concurrent registration
			fieldError(w, "login", "User already exists")
		case errors.Is(err, apperrors.ErrNotificationFailed):
			fieldError(w, "email", "Confirmation letter was not sent, request it again later")
		default:
			renderError(w, r, err, l)
		}
	}
}

func handleRegistrationConfirmation(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Code string `json:"code" validate:"notblank"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = users.ConfirmRegistration(r.Context(), data.Code)
		switch {
		case err == nil:
			render.NoContent(w)
		case errors.Is(err, apperrors.ErrConfirmationCodeInvalid):
			fieldError(w, "code", "Confirmation code is incorrect, expired or already applied")
		default:
			renderError(w, r, err, l)
		}
	}
}

func handleRegistrationEmailResending(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = users.ResendConfirmation(r.Context(), data.Email)
		switch {
		case err == nil:
			render.NoContent(w)
		case errors.Is(err, apperrors.ErrUserNotFound):
			fieldError(w, "email", "User with this email not found")
		case errors.Is(err, apperrors.ErrUserConfirmed):
			fieldError(w, "email", "Email is already confirmed")
		case errors.Is(err, apperrors.ErrNotificationFailed):
			fieldError(w, "email", "Confirmation letter was not sent, request it again later")
		default:
			renderError(w, r, err, l)
		}
	}
}

// Always 204 for valid email: caller must not learn whether the account exists
func handlePasswordRecovery(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := users.RequestPasswordRecovery(r.Context(), data.Email); err != nil {
			renderError(w, r, err, l)
			return
		}

		render.NoContent(w)
	}
}

func handleNewPassword(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		NewPassword  string `json:"newPassword" validate:"required,min=6,max=20"`
		RecoveryCode string `json:"recoveryCode" validate:"notblank"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		_, err = users.SetNewPassword(r.Context(), data.RecoveryCode, data.NewPassword)
		switch {
		case err == nil:
			render.NoContent(w)
		case errors.Is(err, apperrors.ErrRecoveryCodeInvalid):
			fieldError(w, "recoveryCode", "Recovery code is incorrect or expired")
		default:
			renderError(w, r, err, l)
		}
	}
}
