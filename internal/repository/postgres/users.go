package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/models"
	"github.com/nkiryanov/devauth/internal/repository"
)

type UserRepo struct {
	DB      DBTX
	Timeout time.Duration
}

const userColumns = `id, created_at, login, email, password_hash, is_confirmed,
	COALESCE(confirmation_code, ''), confirmation_expires_at,
	COALESCE(recovery_code, ''), recovery_expires_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, login, email, password_hash, confirmation_code, confirmation_expires_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(), params.Login, params.Email, params.HashedPassword,
		params.ConfirmationCode, nullTime(params.ConfirmationExpiresAt),
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const findUserByID = `-- name: FindUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`

func (r *UserRepo) FindByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return r.findOne(ctx, findUserByID, userID)
}

// Login match wins over email match if both exist
const findUserByLoginOrEmail = `-- name: FindUserByLoginOrEmail
SELECT ` + userColumns + `
FROM users
WHERE login = $1 OR email = $1
ORDER BY (login = $1) DESC
LIMIT 1
`

func (r *UserRepo) FindByLoginOrEmail(ctx context.Context, loginOrEmail string) (models.User, error) {
	return r.findOne(ctx, findUserByLoginOrEmail, loginOrEmail)
}

const findUserByEmail = `-- name: FindUserByEmail
SELECT ` + userColumns + `
FROM users
WHERE email = $1
`

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, findUserByEmail, email)
}

const findUserByConfirmationCode = `-- name: FindUserByConfirmationCode
SELECT ` + userColumns + `
FROM users
WHERE confirmation_code = $1
`

func (r *UserRepo) FindByConfirmationCode(ctx context.Context, code string) (models.User, error) {
	return r.findOne(ctx, findUserByConfirmationCode, code)
}

const findUserByRecoveryCode = `-- name: FindUserByRecoveryCode
SELECT ` + userColumns + `
FROM users
WHERE recovery_code = $1
`

func (r *UserRepo) FindByRecoveryCode(ctx context.Context, code string) (models.User, error) {
	return r.findOne(ctx, findUserByRecoveryCode, code)
}

const updateConfirmation = `-- name: UpdateConfirmation
UPDATE users
SET is_confirmed = $2, confirmation_code = NULLIF($3, ''), confirmation_expires_at = $4
WHERE id = $1
`

func (r *UserRepo) UpdateConfirmation(ctx context.Context, userID uuid.UUID, params repository.ConfirmationParams) error {
	return r.updateOne(ctx, updateConfirmation, userID, params.IsConfirmed, params.Code, nullTime(params.ExpiresAt))
}

const updatePasswordRecovery = `-- name: UpdatePasswordRecovery
UPDATE users
SET recovery_code = NULLIF($2, ''), recovery_expires_at = $3
WHERE id = $1
`

func (r *UserRepo) UpdatePasswordRecovery(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) error {
	return r.updateOne(ctx, updatePasswordRecovery, userID, code, nullTime(expiresAt))
}

const updatePassword = `-- name: UpdatePassword
UPDATE users
SET password_hash = $2, recovery_code = NULL, recovery_expires_at = NULL
WHERE id = $1
`

func (r *UserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	return r.updateOne(ctx, updatePassword, userID, hashedPassword)
}

func (r *UserRepo) findOne(ctx context.Context, query string, args ...any) (models.User, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, query, args...)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func (r *UserRepo) updateOne(ctx context.Context, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	tag, err := r.DB.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperrors.ErrUserAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}

	return nil
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	var confirmationExpiresAt, recoveryExpiresAt *time.Time

	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.Login, &u.Email, &u.HashedPassword, &u.IsConfirmed,
		&u.ConfirmationCode, &confirmationExpiresAt,
		&u.RecoveryCode, &recoveryExpiresAt,
	)
	if confirmationExpiresAt != nil {
		u.ConfirmationExpiresAt = *confirmationExpiresAt
	}
	if recoveryExpiresAt != nil {
		u.RecoveryExpiresAt = *recoveryExpiresAt
	}

	return u, err
}

// Store zero time as NULL
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
