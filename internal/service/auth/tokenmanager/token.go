package tokenmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Token kinds. Access and refresh tokens are never interchangeable
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID `json:"uid"`
	Login    string    `json:"login"`
	Kind     Kind      `json:"typ"`
	DeviceID uuid.UUID `json:"did,omitzero"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used. Only HMAC algorithms allowed
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign tokens
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue access token for the user
func (m *TokenManager) IssueAccess(user models.User) (models.IssuedToken, error) {
	return m.issue(Claims{
		UserID: user.ID,
		Login:  user.Login,
		Kind:   KindAccess,
	}, m.accessTTL)
}

// Issue refresh token bound to user device
func (m *TokenManager) IssueRefresh(user models.User, deviceID uuid.UUID) (models.IssuedToken, error) {
	return m.issue(Claims{
		UserID:   user.ID,
		Login:    user.Login,
		Kind:     KindRefresh,
		DeviceID: deviceID,
	}, m.refreshTTL)
}

func (m *TokenManager) issue(claims Claims, ttl time.Duration) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	// jti keeps tokens issued within the same second distinct
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", claims.Kind, err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// Parse token and check its signature, kind and expiry
// Return apperrors.ErrTokenExpired if token expired and apperrors.ErrTokenMalformed for any other problem
func (m *TokenManager) Verify(token string, kind Kind) (Claims, error) {
	return m.parse(token, kind, jwt.WithTimeFunc(m.now))
}

// Same as Verify but accept expired tokens
func (m *TokenManager) VerifySignature(token string, kind Kind) (Claims, error) {
	return m.parse(token, kind, jwt.WithoutClaimsValidation())
}

func (m *TokenManager) parse(token string, kind Kind, opts ...jwt.ParserOption) (Claims, error) {
	var claims Claims

	opts = append(opts,
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return m.key, nil }, opts...)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, fmt.Errorf("token error: %w", apperrors.ErrTokenExpired)
	case err != nil:
		return Claims{}, fmt.Errorf("token error: %w: %w", apperrors.ErrTokenMalformed, err)
	}

	if claims.Kind != kind || claims.UserID == uuid.Nil || claims.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("token error: %w: %s token expected", apperrors.ErrTokenMalformed, kind)
	}
	if kind == KindRefresh && claims.DeviceID == uuid.Nil {
		return Claims{}, fmt.Errorf("token error: %w: no device", apperrors.ErrTokenMalformed)
	}

	return claims, nil
}

// Lifetime left for the token
func (m *TokenManager) Remaining(claims Claims) time.Duration {
	return claims.ExpiresAt.Sub(m.now())
}

// Stable key of the token for stores. Hex encoded sha256
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
