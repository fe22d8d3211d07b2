package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserConfirmed     = errors.New("user is already confirmed")

	ErrConfirmationCodeInvalid = errors.New("confirmation code is invalid or expired")
	ErrRecoveryCodeInvalid     = errors.New("recovery code is invalid or expired")

	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrSessionNotFound      = errors.New("session not found")

	// Authentication failures. Handlers render all of them the same way
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrTokenExpired       = errors.New("token is expired")
	ErrTokenMalformed     = errors.New("token is malformed")
	ErrReplayDetected     = errors.New("refresh token reuse detected")
	ErrUnauthenticated    = errors.New("unauthenticated")

	ErrForbidden   = errors.New("forbidden")
	ErrRateLimited = errors.New("too many requests")

	ErrNotificationFailed = errors.New("notification could not be delivered")
)

// Report whether err is one of authentication failures (401)
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrUnauthenticated)
}
