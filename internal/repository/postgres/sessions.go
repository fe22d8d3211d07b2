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

type SessionRepo struct {
	DB      DBTX
	Timeout time.Duration
}

const sessionColumns = `device_id, user_id, ip, title, last_active_at, expires_at, refresh_hash`

const createSession = `-- name: CreateSession
INSERT INTO sessions (device_id, user_id, ip, title, last_active_at, expires_at, refresh_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + sessionColumns

func (r *SessionRepo) Create(ctx context.Context, s models.Session) (models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, createSession, s.DeviceID, s.UserID, s.IP, s.Title, s.LastActiveAt, s.ExpiresAt, s.RefreshHash)
	session, err := pgx.CollectOneRow(rows, rowToSession)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionAlreadyExists)
		}
		return session, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

const findSessionByFingerprint = `-- name: FindSessionByFingerprint
SELECT ` + sessionColumns + `
FROM sessions
WHERE refresh_hash = $1 AND expires_at > $2
`

func (r *SessionRepo) FindByRefreshFingerprint(ctx context.Context, fingerprint string) (models.Session, error) {
	return r.findOne(ctx, findSessionByFingerprint, fingerprint, time.Now())
}

const findSessionByDevice = `-- name: FindSessionByDevice
SELECT ` + sessionColumns + `
FROM sessions
WHERE device_id = $1
`

func (r *SessionRepo) FindByDevice(ctx context.Context, deviceID uuid.UUID) (models.Session, error) {
	return r.findOne(ctx, findSessionByDevice, deviceID)
}

const findUserSessions = `-- name: FindUserSessions
SELECT ` + sessionColumns + `
FROM sessions
WHERE user_id = $1 AND expires_at > $2
ORDER BY last_active_at DESC, device_id
`

func (r *SessionRepo) FindAllByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, findUserSessions, userID, time.Now())
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return sessions, nil
}

// Compare-and-swap on the stored fingerprint: the only way to rotate a session
const rotateSession = `-- name: RotateSession
UPDATE sessions
SET refresh_hash = $3, expires_at = $4, last_active_at = $5, ip = COALESCE(NULLIF($6, ''), ip)
WHERE device_id = $1 AND refresh_hash = $2
RETURNING ` + sessionColumns

const sessionExists = `-- name: SessionExists
SELECT EXISTS (SELECT 1 FROM sessions WHERE device_id = $1)
`

func (r *SessionRepo) UpdateRotation(ctx context.Context, p repository.RotateSessionParams) (models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, rotateSession, p.DeviceID, p.OldFingerprint, p.NewFingerprint, p.ExpiresAt, p.LastActiveAt, p.IP)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing rotated. Tell apart deleted session and the lost race
		var exists bool
		if err := r.DB.QueryRow(ctx, sessionExists, p.DeviceID).Scan(&exists); err != nil {
			return session, fmt.Errorf("db error: %w", err)
		}
		if exists {
			return session, fmt.Errorf("repo error: %w", apperrors.ErrReplayDetected)
		}
		return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionNotFound)
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const lockSessionByDevice = `-- name: LockSessionByDevice
SELECT ` + sessionColumns + `
FROM sessions
WHERE device_id = $1
FOR UPDATE
`

const deleteSessionByDevice = `-- name: DeleteSessionByDevice
DELETE FROM sessions
WHERE device_id = $1
`

// Row is locked from the owner check till delete: concurrent rotation either completes before or finds nothing
func (r *SessionRepo) DeleteOwnedByDevice(ctx context.Context, deviceID uuid.UUID, ownerID uuid.UUID) (models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	var deleted models.Session
	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, lockSessionByDevice, deviceID)
		session, err := pgx.CollectOneRow(rows, rowToSession)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("repo error: %w", apperrors.ErrSessionNotFound)
		case err != nil:
			return fmt.Errorf("db error: %w", err)
		case session.UserID != ownerID:
			return fmt.Errorf("repo error: %w", apperrors.ErrForbidden)
		}

		if _, err := tx.Exec(ctx, deleteSessionByDevice, deviceID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		deleted = session
		return nil
	})

	return deleted, err
}

const deleteSessionByFingerprint = `-- name: DeleteSessionByFingerprint
DELETE FROM sessions
WHERE refresh_hash = $1
RETURNING ` + sessionColumns

func (r *SessionRepo) DeleteByFingerprint(ctx context.Context, fingerprint string) (models.Session, error) {
	return r.findOne(ctx, deleteSessionByFingerprint, fingerprint)
}

const deleteUserSessionsExcept = `-- name: DeleteUserSessionsExcept
DELETE FROM sessions
WHERE user_id = $1 AND device_id <> $2
`

func (r *SessionRepo) DeleteAllForUserExcept(ctx context.Context, userID uuid.UUID, keepDeviceID uuid.UUID) (int64, error) {
	return r.exec(ctx, deleteUserSessionsExcept, userID, keepDeviceID)
}

const deleteExpiredSessions = `-- name: DeleteExpiredSessions
DELETE FROM sessions
WHERE expires_at <= $1
`

func (r *SessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, deleteExpiredSessions, before)
}

func (r *SessionRepo) findOne(ctx context.Context, query string, args ...any) (models.Session, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, query, args...)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionNotFound)
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

func (r *SessionRepo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	tag, err := r.DB.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(&s.DeviceID, &s.UserID, &s.IP, &s.Title, &s.LastActiveAt, &s.ExpiresAt, &s.RefreshHash)
	return s, err
}
