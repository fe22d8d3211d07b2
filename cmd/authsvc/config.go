package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/nkiryanov/devauth/internal/handlers/middleware"
	"github.com/nkiryanov/devauth/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultRedisAddr       = "localhost:6379"
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 30 * 24 * time.Hour
	defaultRateLimitWindow = 10 * time.Second
	defaultRateLimitMax    = 5
	defaultStoreTimeout    = 3 * time.Second
	defaultJanitorInterval = time.Minute
	defaultSMTPPort        = 587
	defaultPasswordCost    = bcrypt.DefaultCost
	defaultConfirmURL      = "http://localhost:8000/confirm-email"
	defaultRecoveryURL     = "http://localhost:8000/password-recovery"
)

type Config struct {
	// Default logging level
	LogLevel string `yaml:"logLevel"`

	// Environment (dev, prod)
	Environment string `yaml:"environment"`

	// Address on which the service will be run
	ListenAddr string `yaml:"listenAddr"`

	// Proxies (IPs or CIDRs) allowed to report client address in X-Forwarded-For and X-Real-IP
	// Empty means the socket address is the client address
	TrustedProxies []string `yaml:"trustedProxies"`

	// Database to connect to
	DatabaseDSN string `yaml:"databaseDSN"`

	// Redis keeps invalidated tokens and rate limiter attempts
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// Secret key
	// Used to sign JWT tokens, so keep it long and random (see cmd/gensecret)
	SecretKey string `yaml:"secretKey"`

	AccessTTL  time.Duration `yaml:"accessTTL"`
	RefreshTTL time.Duration `yaml:"refreshTTL"`

	// bcrypt cost of password hashes
	PasswordHashCost int `yaml:"passwordHashCost"`

	// Attempts allowed on rate limited endpoints per client within the window
	RateLimitWindow      time.Duration `yaml:"rateLimitWindow"`
	RateLimitMaxAttempts int           `yaml:"rateLimitMaxAttempts"`

	// Upper bound for every single storage call
	StoreTimeout time.Duration `yaml:"storeTimeout"`

	// How often expired sessions are deleted
	JanitorInterval time.Duration `yaml:"janitorInterval"`

	// Send refresh cookie without Secure flag. Local development over plain http only
	InsecureCookie bool `yaml:"insecureCookie"`

	// Close every session of the user when rotated refresh token is presented again
	RevokeAllOnReplay bool `yaml:"revokeAllOnReplay"`

	// Letters are only logged if SMTP host is empty
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`

	// Pages the links in letters lead to
	ConfirmURL  string `yaml:"confirmURL"`
	RecoveryURL string `yaml:"recoveryURL"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:             defaultLoggingLevel,
		Environment:          defaultEnvironment,
		ListenAddr:           defaultListenAddr,
		RedisAddr:            defaultRedisAddr,
		AccessTTL:            defaultAccessTTL,
		RefreshTTL:           defaultRefreshTTL,
		PasswordHashCost:     defaultPasswordCost,
		RateLimitWindow:      defaultRateLimitWindow,
		RateLimitMaxAttempts: defaultRateLimitMax,
		StoreTimeout:         defaultStoreTimeout,
		JanitorInterval:      defaultJanitorInterval,
		SMTPPort:             defaultSMTPPort,
		ConfirmURL:           defaultConfirmURL,
		RecoveryURL:          defaultRecoveryURL,
	}
}

// Load options from yaml file. Options absent in the file stay as is
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't read config file. Err: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("can't parse config file %s. Err: %w", path, err)
	}

	return nil
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = strings.Split(value, ",")
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":             setString(&c.ListenAddr),
		"TRUSTED_PROXIES":         setList(&c.TrustedProxies),
		"DATABASE_URI":            setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":           setString(&c.RedisAddr),
		"REDIS_PASSWORD":          setString(&c.RedisPassword),
		"REDIS_DB":                setInt(&c.RedisDB),
		"SECRET_KEY":              setString(&c.SecretKey),
		"LOG_LEVEL":               setString(&c.LogLevel),
		"ENVIRONMENT":             setString(&c.Environment),
		"ACCESS_TOKEN_TTL":        setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":       setDuration(&c.RefreshTTL),
		"PASSWORD_HASH_COST":      setInt(&c.PasswordHashCost),
		"RATE_LIMIT_WINDOW":       setDuration(&c.RateLimitWindow),
		"RATE_LIMIT_MAX_ATTEMPTS": setInt(&c.RateLimitMaxAttempts),
		"STORE_TIMEOUT":           setDuration(&c.StoreTimeout),
		"JANITOR_INTERVAL":        setDuration(&c.JanitorInterval),
		"INSECURE_COOKIE":         setBool(&c.InsecureCookie),
		"REVOKE_ALL_ON_REPLAY":    setBool(&c.RevokeAllOnReplay),
		"SMTP_HOST":               setString(&c.SMTPHost),
		"SMTP_PORT":               setInt(&c.SMTPPort),
		"SMTP_USERNAME":           setString(&c.SMTPUsername),
		"SMTP_PASSWORD":           setString(&c.SMTPPassword),
		"SMTP_FROM":               setString(&c.SMTPFrom),
		"CONFIRM_URL":             setString(&c.ConfirmURL),
		"RECOVERY_URL":            setString(&c.RecoveryURL),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := c.flagSet()
	return fs.Parse(args)
}

func (c *Config) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("authsvc", pflag.ContinueOnError)

	// Only to be listed in usage, the file itself is read by configFile
	fs.String("config", "", "Path to yaml config file")

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Proxies allowed to set client address headers (IPs or CIDRs)")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis-address", c.RedisAddr, "Redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.IntVar(&c.PasswordHashCost, "password-hash-cost", c.PasswordHashCost, "bcrypt cost of password hashes")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", c.RateLimitWindow, "Rate limiter sliding window")
	fs.IntVar(&c.RateLimitMaxAttempts, "rate-limit-max", c.RateLimitMaxAttempts, "Attempts allowed within rate limiter window")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Timeout of single storage call")
	fs.DurationVar(&c.JanitorInterval, "janitor-interval", c.JanitorInterval, "How often expired sessions are deleted")
	fs.BoolVar(&c.InsecureCookie, "insecure-cookie", c.InsecureCookie, "Send refresh cookie without Secure flag")
	fs.BoolVar(&c.RevokeAllOnReplay, "revoke-all-on-replay", c.RevokeAllOnReplay, "Close all user sessions when refresh token reuse detected")
	fs.StringVar(&c.SMTPHost, "smtp-host", c.SMTPHost, "SMTP host. Letters are logged if empty")
	fs.IntVar(&c.SMTPPort, "smtp-port", c.SMTPPort, "SMTP port")
	fs.StringVar(&c.SMTPUsername, "smtp-username", c.SMTPUsername, "SMTP username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", c.SMTPPassword, "SMTP password")
	fs.StringVar(&c.SMTPFrom, "smtp-from", c.SMTPFrom, "Sender address of letters")
	fs.StringVar(&c.ConfirmURL, "confirm-url", c.ConfirmURL, "Registration confirmation page")
	fs.StringVar(&c.RecoveryURL, "recovery-url", c.RecoveryURL, "Password recovery page")

	return fs
}

// Find '--config' value in args. Other flags are ignored here
func configFile(args []string) (string, error) {
	fs := pflag.NewFlagSet("authsvc", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.String("config", "", "")
	fs.BoolP("help", "h", false, "")

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	return *path, nil
}

// Build config: defaults, then yaml file, then '.env' file, then environment, then flags
func LoadConfig(getenv func(string) string, getwd func() (string, error), args []string) (*Config, error) {
	c := NewConfig()

	path, err := configFile(args)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := c.LoadDotEnv(getwd); err != nil {
		return nil, fmt.Errorf("can't load .env file. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return nil, err
	}
	if err := c.ParseFlags(args); err != nil {
		return nil, err
	}

	return c, nil
}

// Check options that have no sane default
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTTL >= c.RefreshTTL {
		errs = append(errs, fmt.Errorf("access token TTL %s must be shorter than refresh token TTL %s", c.AccessTTL, c.RefreshTTL))
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMaxAttempts <= 0 {
		errs = append(errs, errors.New("rate limiter window and max attempts must be positive"))
	}
	if c.StoreTimeout <= 0 || c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("store timeout and janitor interval must be positive"))
	}
	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
