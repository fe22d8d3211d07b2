package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nkiryanov/devauth/internal/handlers/middleware"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/models"
)

type authService interface {
	// Has to return apperrors.ErrInvalidCredentials if login or password is wrong
	Login(ctx context.Context, loginOrEmail string, password string, device models.DeviceInfo) (models.TokenPair, error)

	// Rotate refresh token. Any reuse of already rotated token is an auth failure
	Refresh(ctx context.Context, refresh string, device models.DeviceInfo) (models.TokenPair, error)

	Logout(ctx context.Context, refresh string) error
	Me(ctx context.Context, access string) (models.User, error)

	// Device sessions of the refresh token owner
	ListDevices(ctx context.Context, refresh string) ([]models.Session, error)
	RevokeDevice(ctx context.Context, refresh string, deviceID uuid.UUID) error
	RevokeOtherDevices(ctx context.Context, refresh string) error

	SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken)
	ClearRefreshCookie(w http.ResponseWriter)
	ReadRefreshToken(r *http.Request) (string, error)
	ReadAccessToken(r *http.Request) (string, error)
}

type userService interface {
	// Has to return *user.ConflictError if login or email is taken
	Register(ctx context.Context, login string, email string, password string) (models.User, error)
	ConfirmRegistration(ctx context.Context, code string) error
	ResendConfirmation(ctx context.Context, email string) error
	RequestPasswordRecovery(ctx context.Context, email string) error
	SetNewPassword(ctx context.Context, code string, password string) (models.User, error)
}

type limiter interface {
	// Has to return apperrors.ErrRateLimited if client is over the limit
	Admit(ctx context.Context, origin string, endpoint string) error
	Window() time.Duration
}

// Reports error if any dependency of the service is not reachable
type HealthCheck func(ctx context.Context) error

func NewRouter(
	authService authService,
	userService userService,
	limiter limiter,
	trustedProxies []netip.Prefix,
	metricsHandler http.Handler,
	health HealthCheck,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService, logger)
	limited := middleware.RateLimitMiddleware(limiter)

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		middleware.RealIP(trustedProxies),
		middleware.LoggerMiddleware(logger),
		chimw.Recoverer,
	)

	r.Route("/auth", func(r chi.Router) {
		r.With(limited).Post("/login", handleLogin(authService, logger))
		r.With(limited).Post("/registration", handleRegistration(userService, logger))
		r.With(limited).Post("/registration-confirmation", handleRegistrationConfirmation(userService, logger))
		r.With(limited).Post("/registration-email-resending", handleRegistrationEmailResending(userService, logger))
		r.With(limited).Post("/password-recovery", handlePasswordRecovery(userService, logger))
		r.With(limited).Post("/new-password", handleNewPassword(userService, logger))

		r.Post("/refresh-token", handleRefreshToken(authService, logger))
		r.Post("/logout", handleLogout(authService, logger))
		r.With(withAuth).Get("/me", handleMe())
	})

	r.Route("/security/devices", func(r chi.Router) {
		r.Get("/", handleListDevices(authService, logger))
		r.Delete("/", handleRevokeOtherDevices(authService, logger))
		r.Delete("/{deviceId}", handleRevokeDevice(authService, logger))
	})

	r.Get("/healthz", handleHealth(health, logger))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}
