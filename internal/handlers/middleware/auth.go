package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/devauth/internal/apperrors"
	"github.com/nkiryanov/devauth/internal/handlers/render"
	"github.com/nkiryanov/devauth/internal/models"
)

type authService interface {
	ReadAccessToken(r *http.Request) (string, error)
	Me(ctx context.Context, access string) (models.User, error)
}

type userKey struct{}

// User whose access token AuthMiddleware accepted. False outside of the middleware
func AuthenticatedUser(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey{}).(models.User)
	return user, ok
}

type errorLogger interface {
	Error(msg string, args ...any)
}

// Require valid access token and put its user to request context
func AuthMiddleware(as authService, l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticate(r, as)
			switch {
			case err == nil:
			case apperrors.IsAuthFailure(err):
				render.Unauthorized(w)
				return
			default:
				l.Error("access token check failed", "uri", r.RequestURI, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, as authService) (models.User, error) {
	access, err := as.ReadAccessToken(r)
	if err != nil {
		return models.User{}, err
	}

	return as.Me(r.Context(), access)
}
