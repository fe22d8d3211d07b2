package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/devauth/internal/db"
	"github.com/nkiryanov/devauth/internal/handlers"
	"github.com/nkiryanov/devauth/internal/handlers/middleware"
	"github.com/nkiryanov/devauth/internal/logger"
	"github.com/nkiryanov/devauth/internal/metrics"
	"github.com/nkiryanov/devauth/internal/notify"
	"github.com/nkiryanov/devauth/internal/repository/postgres"
	"github.com/nkiryanov/devauth/internal/repository/redis"
	"github.com/nkiryanov/devauth/internal/service/auth"
	"github.com/nkiryanov/devauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/devauth/internal/service/ratelimit"
	"github.com/nkiryanov/devauth/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger          logger.Logger
	authService     *auth.AuthService
	janitorInterval time.Duration

	pool  *pgxpool.Pool
	redis *goredis.Client
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config. Err: %w", err)
	}

	// Initialize logger
	logger, err := logger.New(os.Stderr, c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.Open(ctx, c.DatabaseDSN, c.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	redisClient, err := redis.Connect(ctx, redis.Config{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Timeout:  c.StoreTimeout,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}

	app, err := newServerApp(c, logger, pool, redisClient)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	return app, nil
}

func newServerApp(c *Config, logger logger.Logger, pool *pgxpool.Pool, redisClient *goredis.Client) (*ServerApp, error) {
	// Metrics have their own registry: no global state, tests may build many apps
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize repositories
	storage := postgres.NewStorage(pool, c.StoreTimeout)
	invalidated := redis.NewInvalidationRepo(redisClient, c.StoreTimeout)
	attempts := redis.NewAttemptRepo(redisClient, c.StoreTimeout)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	letters := notify.Letters{ConfirmURL: c.ConfirmURL, RecoveryURL: c.RecoveryURL}
	var notifier notify.Notifier = notify.NewLogNotifier(letters, logger)
	if c.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
		}, letters)
	} else {
		logger.Warn("SMTP host is not set, letters are written to log")
	}

	userService, err := user.NewService(user.Config{PasswordCost: c.PasswordHashCost}, nil, storage.User(), notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating user service. Err: %w", err)
	}
	authService, err := auth.NewService(
		auth.Config{RevokeAllOnReplay: c.RevokeAllOnReplay, InsecureCookie: c.InsecureCookie},
		tokenManager, userService, storage.Session(), invalidated, logger, m,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:      c.RateLimitWindow,
		MaxAttempts: c.RateLimitMaxAttempts,
	}, attempts, logger, m)

	trustedProxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, err
	}

	health := func(ctx context.Context) error {
		return errors.Join(pool.Ping(ctx), redisClient.Ping(ctx).Err())
	}

	router := handlers.NewRouter(
		authService,
		userService,
		limiter,
		trustedProxies,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		health,
		logger,
	)

	return &ServerApp{
		ListenAddr:      c.ListenAddr,
		Handler:         router,
		logger:          logger,
		authService:     authService,
		janitorInterval: c.JanitorInterval,
		pool:            pool,
		redis:           redisClient,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		s.runJanitor(srvCtx)
	}()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-janitorDone

	return err
}

// Delete expired sessions periodically until ctx is done
func (s *ServerApp) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.authService.PurgeExpiredSessions(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				s.logger.Error("expired sessions purge failed", "error", err)
			case deleted > 0:
				s.logger.Debug("expired sessions purged", "deleted", deleted)
			}
		}
	}
}

func (s *ServerApp) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
