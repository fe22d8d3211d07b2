package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/metrics"
	"github.com/nkiryanov/devauth/internal/models"
	"github.com/nkiryanov/devauth/internal/repository"
	"github.com/nkiryanov/devauth/internal/service/auth/tokenmanager"
)

// Credentials owner. Auth service never sees password hashes
type UserDirectory interface {
	// Must return apperrors.ErrInvalidCredentials on any mismatch
	Authenticate(ctx context.Context, loginOrEmail string, password string) (models.User, error)

	// Must return apperrors.ErrUserNotFound if user not exists
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
}

type Config struct {
	// Delete every session of the user when a rotated refresh token is presented again
	RevokeAllOnReplay bool

	// Refresh cookie is sent over plain http too. For local development only
	InsecureCookie bool
}

// Auth service: device sessions and token lifecycle
type AuthService struct {
	tokens      *tokenmanager.TokenManager
	users       UserDirectory
	sessions    repository.SessionRepo
	invalidated repository.InvalidationRepo

	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	revokeAllOnReplay bool

	refreshCookieName string
	accessHeaderName  string
	accessAuthScheme  string
	cookieSecure      bool
}

func NewService(
	cfg Config,
	tokens *tokenmanager.TokenManager,
	users UserDirectory,
	sessions repository.SessionRepo,
	invalidated repository.InvalidationRepo,
	l logger.Logger,
	m *metrics.Metrics,
) (*AuthService, error) {
	if tokens == nil || users == nil || sessions == nil || invalidated == nil {
		return nil, errors.New("token manager, user directory and repos must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		tokens:            tokens,
		users:             users,
		sessions:          sessions,
		invalidated:       invalidated,
		logger:            l.With("component", "auth"),
		metrics:           m,
		now:               time.Now,
		revokeAllOnReplay: cfg.RevokeAllOnReplay,
		refreshCookieName: defaultRefreshCookieName,
		accessHeaderName:  defaultAccessHeaderName,
		accessAuthScheme:  defaultAccessAuthScheme,
		cookieSecure:      !cfg.InsecureCookie,
	}, nil
}

// Login user and open session for new device
func (s *AuthService) Login(ctx context.Context, loginOrEmail string, password string, device models.DeviceInfo) (pair models.TokenPair, err error) {
	defer func() { s.metrics.AuthOperation("login", err) }()

	user, err := s.users.Authenticate(ctx, loginOrEmail, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			return pair, apperrors.ErrInvalidCredentials
		}
		return pair, fmt.Errorf("can't authenticate user. Err: %w", err)
	}

	deviceID := uuid.New()
	pair, err = s.issuePair(user, deviceID)
	if err != nil {
		return pair, err
	}

	_, err = s.sessions.Create(ctx, models.Session{
		DeviceID:     deviceID,
		UserID:       user.ID,
		IP:           device.IP,
		Title:        device.Title,
		LastActiveAt: s.now(),
		ExpiresAt:    pair.Refresh.ExpiresAt,
		RefreshHash:  tokenmanager.Fingerprint(pair.Refresh.Value),
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't create session. Err: %w", err)
	}

	s.logger.Debug("user logged in", "user_id", user.ID, "device_id", deviceID)
	return pair, nil
}

// Exchange refresh token for new pair bound to the same device
// The presented token is single use: the session must still hold its fingerprint
func (s *AuthService) Refresh(ctx context.Context, refresh string, device models.DeviceInfo) (pair models.TokenPair, err error) {
	defer func() { s.metrics.AuthOperation("refresh", err) }()

	claims, session, err := s.authenticateRefresh(ctx, refresh)
	if err != nil {
		return pair, err
	}

	pair, err = s.issuePair(models.User{ID: claims.UserID, Login: claims.Login}, session.DeviceID)
	if err != nil {
		return pair, err
	}

	oldFingerprint := session.RefreshHash
	_, err = s.sessions.UpdateRotation(ctx, repository.RotateSessionParams{
		DeviceID:       session.DeviceID,
		OldFingerprint: oldFingerprint,
		NewFingerprint: tokenmanager.Fingerprint(pair.Refresh.Value),
		ExpiresAt:      pair.Refresh.ExpiresAt,
		LastActiveAt:   s.now(),
		IP:             device.IP,
	})
	switch {
	case errors.Is(err, apperrors.ErrReplayDetected):
		// Somebody rotated the same token first
		return models.TokenPair{}, s.replayDetected(ctx, claims)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return models.TokenPair{}, apperrors.ErrReplayDetected
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("can't rotate session. Err: %w", err)
	}

	// Rotation committed, the old token no longer matches the session
	s.invalidate(ctx, oldFingerprint, s.tokens.Remaining(claims))

	return pair, nil
}

// Close session of the refresh token. Expired token still may be used to logout
func (s *AuthService) Logout(ctx context.Context, refresh string) (err error) {
	defer func() { s.metrics.AuthOperation("logout", err) }()

	claims, err := s.tokens.VerifySignature(refresh, tokenmanager.KindRefresh)
	if err != nil {
		return err
	}

	fingerprint := tokenmanager.Fingerprint(refresh)
	session, err := s.sessions.DeleteByFingerprint(ctx, fingerprint)
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return apperrors.ErrReplayDetected
	case err != nil:
		return fmt.Errorf("can't delete session. Err: %w", err)
	}

	s.invalidate(ctx, fingerprint, s.tokens.Remaining(claims))

	s.logger.Debug("user logged out", "user_id", session.UserID, "device_id", session.DeviceID)
	return nil
}

// Return owner of access token
// Only token itself is checked: access tokens are short lived and survive logout
func (s *AuthService) Me(ctx context.Context, access string) (user models.User, err error) {
	claims, err := s.tokens.Verify(access, tokenmanager.KindAccess)
	if err != nil {
		return user, err
	}

	user, err = s.users.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, apperrors.ErrUnauthenticated
	case err != nil:
		return user, fmt.Errorf("can't get user. Err: %w", err)
	}

	return user, nil
}

// List live sessions of the refresh token owner
func (s *AuthService) ListDevices(ctx context.Context, refresh string) (sessions []models.Session, err error) {
	defer func() { s.metrics.AuthOperation("list_devices", err) }()

	claims, _, err := s.authenticateRefresh(ctx, refresh)
	if err != nil {
		return nil, err
	}

	sessions, err = s.sessions.FindAllByUser(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("can't list sessions. Err: %w", err)
	}

	return sessions, nil
}

// Close session of other device of the same user
func (s *AuthService) RevokeDevice(ctx context.Context, refresh string, deviceID uuid.UUID) (err error) {
	defer func() { s.metrics.AuthOperation("revoke_device", err) }()

	claims, _, err := s.authenticateRefresh(ctx, refresh)
	if err != nil {
		return err
	}

	target, err := s.sessions.DeleteOwnedByDevice(ctx, deviceID, claims.UserID)
	if err != nil {
		return fmt.Errorf("can't delete session. Err: %w", err)
	}
	s.invalidate(ctx, target.RefreshHash, target.ExpiresAt.Sub(s.now()))

	return nil
}

// Close all sessions of the user except the current one
func (s *AuthService) RevokeOtherDevices(ctx context.Context, refresh string) (err error) {
	defer func() { s.metrics.AuthOperation("revoke_other_devices", err) }()

	claims, session, err := s.authenticateRefresh(ctx, refresh)
	if err != nil {
		return err
	}

	deleted, err := s.sessions.DeleteAllForUserExcept(ctx, claims.UserID, session.DeviceID)
	if err != nil {
		return fmt.Errorf("can't delete sessions. Err: %w", err)
	}

	s.logger.Debug("other sessions revoked", "user_id", claims.UserID, "count", deleted)
	return nil
}

// Delete sessions expired by now
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	deleted, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("can't delete expired sessions. Err: %w", err)
	}

	s.metrics.SessionsExpired(deleted)
	return deleted, nil
}

// Refresh tier check: valid token, not invalidated and still current for its session
func (s *AuthService) authenticateRefresh(ctx context.Context, refresh string) (tokenmanager.Claims, models.Session, error) {
	claims, err := s.tokens.Verify(refresh, tokenmanager.KindRefresh)
	if err != nil {
		return claims, models.Session{}, err
	}

	fingerprint := tokenmanager.Fingerprint(refresh)
	invalidated, err := s.invalidated.Contains(ctx, fingerprint)
	if err != nil {
		return claims, models.Session{}, fmt.Errorf("can't check token. Err: %w", err)
	}
	if invalidated {
		return claims, models.Session{}, s.replayDetected(ctx, claims)
	}

	session, err := s.sessions.FindByRefreshFingerprint(ctx, fingerprint)
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return claims, session, apperrors.ErrReplayDetected
	case err != nil:
		return claims, session, fmt.Errorf("can't get session. Err: %w", err)
	}

	// Validly signed token must belong to the session it claims
	if session.DeviceID != claims.DeviceID || session.UserID != claims.UserID {
		return claims, models.Session{}, apperrors.ErrReplayDetected
	}

	return claims, session, nil
}

func (s *AuthService) replayDetected(ctx context.Context, claims tokenmanager.Claims) error {
	s.logger.Warn("refresh token reuse", "user_id", claims.UserID, "device_id", claims.DeviceID)

	if s.revokeAllOnReplay {
		deleted, err := s.sessions.DeleteAllForUserExcept(ctx, claims.UserID, uuid.Nil)
		if err != nil {
			s.logger.Error("can't revoke user sessions after token reuse", "user_id", claims.UserID, "error", err)
		} else {
			s.logger.Warn("all user sessions revoked after token reuse", "user_id", claims.UserID, "count", deleted)
		}
	}

	return apperrors.ErrReplayDetected
}

// Add fingerprint to denylist. Failure is logged only: the session store already rejects the token
func (s *AuthService) invalidate(ctx context.Context, fingerprint string, ttl time.Duration) {
	if err := s.invalidated.Add(ctx, fingerprint, ttl); err != nil {
		s.logger.Warn("can't add token to denylist", "error", err)
	}
}

func (s *AuthService) issuePair(user models.User, deviceID uuid.UUID) (models.TokenPair, error) {
	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user, deviceID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}
