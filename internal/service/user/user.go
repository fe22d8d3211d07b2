package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/models"
	"github.com/nkiryanov/devauth/internal/notify"
	"github.com/nkiryanov/devauth/internal/repository"
)

const defaultCodeTTL = time.Hour

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Returned when login or email is taken. Field tells which one
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user with this %s already exists", e.Field)
}

func (e *ConflictError) Unwrap() error {
	return apperrors.ErrUserAlreadyExists
}

type Config struct {
	// Lifetime of confirmation and recovery codes
	CodeTTL time.Duration

	// bcrypt cost of password hashes, used when no hasher is given. Zero means bcrypt.DefaultCost
	PasswordCost int
}

// User directory: owns credentials, confirmation and recovery
type UserService struct {
	hasher   PasswordHasher
	userRepo repository.UserRepo
	notifier notify.Notifier
	logger   logger.Logger

	codeTTL time.Duration
	now     func() time.Time

	// Hash compared when user not found, so both paths cost one bcrypt compare
	dummyHash func() (string, error)
}

func NewService(cfg Config, hasher PasswordHasher, userRepo repository.UserRepo, notifier notify.Notifier, l logger.Logger) (*UserService, error) {
	if hasher == nil {
		bh, err := NewBcryptHasher(cfg.PasswordCost)
		if err != nil {
			return nil, err
		}
		hasher = bh
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &UserService{
		hasher:   hasher,
		userRepo: userRepo,
		notifier: notifier,
		logger:   l.With("component", "user"),
		codeTTL:  cfg.CodeTTL,
		now:      time.Now,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash(uuid.NewString())
		}),
	}, nil
}

// Check credentials. Any mismatch is apperrors.ErrInvalidCredentials
func (s *UserService) Authenticate(ctx context.Context, loginOrEmail string, password string) (models.User, error) {
	user, err := s.userRepo.FindByLoginOrEmail(ctx, loginOrEmail)

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, err := s.dummyHash(); err == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}

// Create not confirmed user and send confirmation code
// If the letter is not delivered the user stays and may ask to resend the code
func (s *UserService) Register(ctx context.Context, login string, email string, password string) (models.User, error) {
	existing, err := s.userRepo.FindByLoginOrEmail(ctx, login)
	switch {
	case err == nil && existing.Login == login:
		return models.User{}, &ConflictError{Field: "login"}
	case err != nil && !errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, fmt.Errorf("can't check user. Err: %w", err)
	}

	_, err = s.findByEmail(ctx, email)
	switch {
	case err == nil:
		return models.User{}, &ConflictError{Field: "email"}
	case !errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	code, expiresAt := s.newCode()
	user, err := s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Login:                 login,
		Email:                 email,
		HashedPassword:        hash,
		ConfirmationCode:      code,
		ConfirmationExpiresAt: expiresAt,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	if err := s.notifier.SendConfirmation(ctx, email, code); err != nil {
		s.logger.Warn("confirmation letter not sent", "user_id", user.ID, "error", err)
		return user, fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, err)
	}

	return user, nil
}

func (s *UserService) ConfirmRegistration(ctx context.Context, code string) error {
	user, err := s.userRepo.FindByConfirmationCode(ctx, code)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return apperrors.ErrConfirmationCodeInvalid
	case err != nil:
		return fmt.Errorf("can't get user. Err: %w", err)
	}

	if user.IsConfirmed || !s.now().Before(user.ConfirmationExpiresAt) {
		return apperrors.ErrConfirmationCodeInvalid
	}

	return s.userRepo.UpdateConfirmation(ctx, user.ID, repository.ConfirmationParams{IsConfirmed: true})
}

// Issue new confirmation code for not confirmed user and send it again
func (s *UserService) ResendConfirmation(ctx context.Context, email string) error {
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsConfirmed {
		return apperrors.ErrUserConfirmed
	}

	code, expiresAt := s.newCode()
	err = s.userRepo.UpdateConfirmation(ctx, user.ID, repository.ConfirmationParams{Code: code, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("can't update confirmation code. Err: %w", err)
	}

	if err := s.notifier.SendConfirmation(ctx, email, code); err != nil {
		s.logger.Warn("confirmation letter not sent", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, err)
	}

	return nil
}

// Send recovery code if the email is known
// Unknown email or undelivered letter is not an error: the caller must not learn whether account exists
func (s *UserService) RequestPasswordRecovery(ctx context.Context, email string) error {
	user, err := s.findByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.logger.Debug("password recovery for unknown email")
		return nil
	case err != nil:
		return err
	}

	code, expiresAt := s.newCode()
	if err := s.userRepo.UpdatePasswordRecovery(ctx, user.ID, code, expiresAt); err != nil {
		return fmt.Errorf("can't update recovery code. Err: %w", err)
	}

	if err := s.notifier.SendRecovery(ctx, email, code); err != nil {
		s.logger.Warn("recovery letter not sent", "user_id", user.ID, "error", err)
	}

	return nil
}

// Set new password using recovery code. The code is single use
func (s *UserService) SetNewPassword(ctx context.Context, code string, password string) (models.User, error) {
	user, err := s.userRepo.FindByRecoveryCode(ctx, code)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, apperrors.ErrRecoveryCodeInvalid
	case err != nil:
		return user, fmt.Errorf("can't get user. Err: %w", err)
	}

	if !s.now().Before(user.RecoveryExpiresAt) {
		return user, apperrors.ErrRecoveryCodeInvalid
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return user, fmt.Errorf("can't update password. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) findByEmail(ctx context.Context, email string) (models.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, err
	default:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}
}

func (s *UserService) newCode() (string, time.Time) {
	return uuid.NewString(), s.now().Add(s.codeTTL)
}
