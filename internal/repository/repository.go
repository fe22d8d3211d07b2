package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with login or email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id, login or email
	// If user not found must return apperrors.ErrUserNotFound
	FindByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	FindByLoginOrEmail(ctx context.Context, loginOrEmail string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByConfirmationCode(ctx context.Context, code string) (models.User, error)
	FindByRecoveryCode(ctx context.Context, code string) (models.User, error)

	// Update confirmation state (code, its expiry and confirmed flag)
	UpdateConfirmation(ctx context.Context, userID uuid.UUID, params ConfirmationParams) error

	// Update password recovery code and its expiry
	UpdatePasswordRecovery(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) error

	// Set new password hash and drop recovery code
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error
}

type CreateUserParams struct {
	Login                 string
	Email                 string
	HashedPassword        string
	ConfirmationCode      string
	ConfirmationExpiresAt time.Time
}

type ConfirmationParams struct {
	IsConfirmed bool
	Code        string
	ExpiresAt   time.Time
}

// Device sessions repository interface
// The stored refresh fingerprint is the source of truth whether a refresh token is still current
type SessionRepo interface {
	// Create session
	// If session for the device exists already has to return apperrors.ErrSessionAlreadyExists
	Create(ctx context.Context, session models.Session) (models.Session, error)

	// Return not expired session by current refresh token fingerprint
	// If not found must return apperrors.ErrSessionNotFound
	FindByRefreshFingerprint(ctx context.Context, fingerprint string) (models.Session, error)

	// Return session by device id, even expired one
	// If not found must return apperrors.ErrSessionNotFound
	FindByDevice(ctx context.Context, deviceID uuid.UUID) (models.Session, error)

	// Return not expired user sessions, most recently active first
	FindAllByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)

	// Replace fingerprint of exactly one session if the stored fingerprint is still the old one
	// If device has no session must return apperrors.ErrSessionNotFound
	// If the stored fingerprint differs must return apperrors.ErrReplayDetected
	UpdateRotation(ctx context.Context, params RotateSessionParams) (models.Session, error)

	// Delete session of the device if it belongs to ownerID and return it
	// If device has no session must return apperrors.ErrSessionNotFound
	// If session belongs to other user must return apperrors.ErrForbidden and keep the session
	DeleteOwnedByDevice(ctx context.Context, deviceID uuid.UUID, ownerID uuid.UUID) (models.Session, error)

	// Delete session owning the fingerprint and return it
	// If nothing deleted must return apperrors.ErrSessionNotFound
	DeleteByFingerprint(ctx context.Context, fingerprint string) (models.Session, error)

	// Delete all user sessions except the one of keepDeviceID (uuid.Nil keeps nothing)
	DeleteAllForUserExcept(ctx context.Context, userID uuid.UUID, keepDeviceID uuid.UUID) (int64, error)

	// Delete sessions expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type RotateSessionParams struct {
	DeviceID       uuid.UUID
	OldFingerprint string
	NewFingerprint string
	ExpiresAt      time.Time
	LastActiveAt   time.Time
	IP             string
}

// Self expiring denylist of credentials fingerprints
type InvalidationRepo interface {
	// Add fingerprint that lives ttl. Must be idempotent
	Add(ctx context.Context, fingerprint string, ttl time.Duration) error

	// Report whether fingerprint is in the list
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

// Self expiring attempts log for rate limiting
type AttemptRepo interface {
	// Atomically count attempts for the key within (now-window, now]
	// If count reached limit return false and record nothing, otherwise record attempt and return true
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
}
