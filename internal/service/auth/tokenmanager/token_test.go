package tokenmanager

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func newManager(t *testing.T, accessTTL time.Duration, refreshTTL time.Duration) *TokenManager {
	m, err := New(Config{
		SecretKey:  "test-secret-key",
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	})
	require.NoError(t, err, "token manager should be created without errors")
	return m
}

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	testUser := models.User{
		ID:        uuid.New(),
		CreatedAt: mustParseTime("2024-01-01 19:00:01Z"),
		Login:     "bob",
		Email:     "bob@example.com",
	}
	deviceID := uuid.New()

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, []byte("secret"), m.key, "secret key should be set")
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new fails", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  Config
		}{
			{"empty secret", Config{}},
			{"asymmetric alg", Config{SecretKey: "secret", Alg: "RS256"}},
			{"none alg", Config{SecretKey: "secret", Alg: "none"}},
			{"unknown alg", Config{SecretKey: "secret", Alg: "HS1024"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := New(tt.cfg)
				require.Error(t, err)
			})
		}
	})

	t.Run("IssueAccess", func(t *testing.T) {
		m := newManager(t, 15*time.Minute, 24*time.Hour)

		token, err := m.IssueAccess(testUser)
		require.NoError(t, err)
		assert.NotEmpty(t, token.Value, "access token should not be empty")
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), token.ExpiresAt, time.Second)

		claims, err := m.Verify(token.Value, KindAccess)
		require.NoError(t, err)
		assert.Equal(t, testUser.ID, claims.UserID, "user ID in token should match")
		assert.Equal(t, "bob", claims.Login)
		assert.Equal(t, KindAccess, claims.Kind)
		assert.Equal(t, uuid.Nil, claims.DeviceID, "access token is not bound to device")
		assert.NotEmpty(t, claims.ID, "token has to has jti")
		assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second, "issued at should be close to now")
		assert.WithinDuration(t, token.ExpiresAt, claims.ExpiresAt.Time, 0, "expires at should match issued token")
	})

	t.Run("IssueRefresh", func(t *testing.T) {
		m := newManager(t, 15*time.Minute, 24*time.Hour)

		token, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), token.ExpiresAt, time.Second)

		claims, err := m.Verify(token.Value, KindRefresh)
		require.NoError(t, err)
		assert.Equal(t, testUser.ID, claims.UserID)
		assert.Equal(t, deviceID, claims.DeviceID)
		assert.Equal(t, KindRefresh, claims.Kind)
	})

	t.Run("issue different tokens in the same second", func(t *testing.T) {
		m := newManager(t, 15*time.Minute, 24*time.Hour)
		fixed := time.Now()
		m.now = func() time.Time { return fixed }

		t1, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)
		t2, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)

		assert.NotEqual(t, t1.Value, t2.Value, "refresh tokens should be different")
		assert.NotEqual(t, Fingerprint(t1.Value), Fingerprint(t2.Value))
	})

	t.Run("Verify", func(t *testing.T) {
		m := newManager(t, 15*time.Minute, 24*time.Hour)
		access, err := m.IssueAccess(testUser)
		require.NoError(t, err)
		refresh, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)

		other := newManager(t, 15*time.Minute, 24*time.Hour)
		other.key = []byte("other-secret")
		foreign, err := other.IssueAccess(testUser)
		require.NoError(t, err)

		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
			UserID:           testUser.ID,
			Kind:             KindAccess,
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		tests := []struct {
			name  string
			token string
			kind  Kind
		}{
			{"garbage", "not-a-token", KindAccess},
			{"empty", "", KindAccess},
			{"refresh used as access", refresh.Value, KindAccess},
			{"access used as refresh", access.Value, KindRefresh},
			{"signed with other key", foreign.Value, KindAccess},
			{"none alg", unsigned, KindAccess},
			{"tampered payload", tamper(access.Value), KindAccess},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := m.Verify(tt.token, tt.kind)

				require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
			})
		}
	})

	t.Run("Verify expired", func(t *testing.T) {
		m := newManager(t, time.Minute, time.Hour)
		token, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)

		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		_, err = m.Verify(token.Value, KindRefresh)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)

		claims, err := m.VerifySignature(token.Value, KindRefresh)
		require.NoError(t, err, "signature check ignores expiry")
		require.Equal(t, deviceID, claims.DeviceID)
		require.Negative(t, m.Remaining(claims))
	})

	t.Run("VerifySignature still checks kind and signature", func(t *testing.T) {
		m := newManager(t, time.Minute, time.Hour)
		access, err := m.IssueAccess(testUser)
		require.NoError(t, err)

		_, err = m.VerifySignature(access.Value, KindRefresh)
		require.ErrorIs(t, err, apperrors.ErrTokenMalformed)

		_, err = m.VerifySignature(tamper(access.Value), KindAccess)
		require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
	})

	t.Run("Remaining", func(t *testing.T) {
		m := newManager(t, 15*time.Minute, 24*time.Hour)
		token, err := m.IssueRefresh(testUser, deviceID)
		require.NoError(t, err)
		claims, err := m.Verify(token.Value, KindRefresh)
		require.NoError(t, err)

		require.InDelta(t, (24 * time.Hour).Seconds(), m.Remaining(claims).Seconds(), 2)
	})

	t.Run("Fingerprint", func(t *testing.T) {
		fp := Fingerprint("token")

		require.Len(t, fp, 64, "hex encoded sha256")
		require.Equal(t, fp, Fingerprint("token"), "fingerprint is stable")
		require.NotEqual(t, fp, Fingerprint("token2"))
	})
}

// Replace payload of the token with other valid base64 segment
func tamper(token string) string {
	parts := strings.Split(token, ".")
	parts[1] = "eyJ1aWQiOiIwMDAwMDAwMC0wMDAwLTAwMDAtMDAwMC0wMDAwMDAwMDAwMDAiLCJ0eXAiOiJhY2Nlc3MifQ"
	return strings.Join(parts, ".")
}
