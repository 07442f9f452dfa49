// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; nested structs group related settings.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"dev"`
	Port        string `env:"APP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"`

	DBUser        string `env:"DB_USER" envDefault:"root"`
	DBPass        string `env:"DB_PASS"`
	DBHost        string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort        string `env:"DB_PORT" envDefault:"3306"`
	DBName        string `env:"DB_NAME" envDefault:"linklink"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	JWTSecret      string `env:"JWT_SECRET"`
	AccessTTLMin   int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"30"`
	RefreshTTLDays int    `env:"REFRESH_TOKEN_TTL_DAYS" envDefault:"7"`
	BcryptCost     int    `env:"BCRYPT_COST" envDefault:"12"`

	UploadDir       string   `env:"UPLOAD_DIR" envDefault:"uploads"`
	UploadURLPrefix string   `env:"UPLOAD_URL_PREFIX" envDefault:"/uploads"`
	MaxFileSize     int64    `env:"MAX_FILE_SIZE" envDefault:"10485760"`
	AllowedTypes    []string `env:"ALLOWED_TYPES" envSeparator:"," envDefault:"image/jpeg,image/png,image/gif,image/webp"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// RabbitMQURL empty disables account notifications.
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	NotifyQueue     string `env:"NOTIFY_QUEUE" envDefault:"user.notifications"`
	NotifyLogDir    string `env:"NOTIFY_LOG_DIR" envDefault:"logs"`
	SMTP            SMTPConfig
	WSAllowedOrigin []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`

	TokenSweepInterval time.Duration `env:"TOKEN_SWEEP_INTERVAL" envDefault:"1h"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// SMTPConfig configures outgoing mail. An empty host means notifications
// are written to a log file instead.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// Load parses the environment into a Config, applies rate-limit
// normalisation and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.RateLimit.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing required env var: JWT_SECRET"))
	}
	switch c.StoreDriver {
	case DriverMySQL:
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			errs = append(errs, errors.New("DB_HOST, DB_NAME and DB_USER are required for the mysql store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_DRIVER %q: want mysql or memory", c.StoreDriver))
	}
	if c.AccessTTLMin <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL_MIN must be positive, got %d", c.AccessTTLMin))
	}
	if c.RefreshTTLDays <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL_DAYS must be positive, got %d", c.RefreshTTLDays))
	}
	// bcrypt.MinCost and bcrypt.MaxCost
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// AccessTTL is the access-token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMin) * time.Minute
}

// RefreshTTL is the refresh-token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}
