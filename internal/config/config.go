// Package config loads service configuration from KEYLEDGER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	PolicyStanding  = "standing"
	PolicySingleUse = "single-use"

	BackendCapsule = "capsule"
	BackendStore   = "store"
)

type Config struct {
	Port    string `envconfig:"PORT" default:"8090"`
	BaseURL string `envconfig:"BASE_URL"`
	DBPath  string `envconfig:"DB_PATH" default:"keyledger.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	ProductName string `envconfig:"PRODUCT_NAME" default:"MiniOS"`

	Session SessionConfig `envconfig:"SESSION"`
	Email   EmailConfig   `envconfig:"EMAIL"`
	Admin   AdminConfig   `envconfig:"ADMIN"`
	Backup  BackupConfig  `envconfig:"BACKUP"`

	PasswordAlgorithm string        `envconfig:"PASSWORD_ALGORITHM" default:"bcrypt"`
	BcryptCost        int           `envconfig:"BCRYPT_COST" default:"12"`
	KeyPolicy         string        `envconfig:"KEY_POLICY" default:"standing"`
	VerificationTTL   time.Duration `envconfig:"VERIFICATION_TTL" default:"24h"`

	RateLimit       int           `envconfig:"RATE_LIMIT" default:"10"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// TrustProxy keys rate limits on X-Forwarded-For/X-Real-IP. Only enable
	// behind a proxy that overwrites those headers.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`
}

type SessionConfig struct {
	Secret  string        `envconfig:"SECRET"`
	Window  time.Duration `envconfig:"WINDOW" default:"720h"`
	Backend string        `envconfig:"BACKEND" default:"capsule"`
	Secure  bool          `envconfig:"SECURE_COOKIE" default:"false"`
}

type EmailConfig struct {
	PostmarkToken string        `envconfig:"POSTMARK_TOKEN"`
	From          string        `envconfig:"FROM"`
	Async         bool          `envconfig:"ASYNC" default:"true"`
	QueueSize     int           `envconfig:"QUEUE_SIZE" default:"64"`
	MaxRetries    uint64        `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay    time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
}

// BackupConfig points snapshots at an S3-compatible bucket. Backups are
// off unless the bucket, credentials and passphrase are all set.
type BackupConfig struct {
	Endpoint   string        `envconfig:"S3_ENDPOINT"`
	Bucket     string        `envconfig:"S3_BUCKET"`
	Region     string        `envconfig:"S3_REGION" default:"us-east-1"`
	AccessKey  string        `envconfig:"S3_ACCESS_KEY"`
	SecretKey  string        `envconfig:"S3_SECRET_KEY"`
	Prefix     string        `envconfig:"S3_PREFIX" default:"keyledger"`
	Passphrase string        `envconfig:"PASSPHRASE"`
	Interval   time.Duration `envconfig:"INTERVAL" default:"24h"`
	Retention  time.Duration `envconfig:"RETENTION" default:"720h"`
}

// AdminConfig seeds an administrator at start-up when all fields are set.
type AdminConfig struct {
	Username string `envconfig:"USERNAME"`
	Email    string `envconfig:"EMAIL"`
	Password string `envconfig:"PASSWORD"`
}

// Enabled reports whether an admin account should be seeded.
func (a AdminConfig) Enabled() bool {
	return a.Username != "" && a.Email != "" && a.Password != ""
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("KEYLEDGER", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("KEYLEDGER_SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Session.Window <= 0 {
		errs = append(errs, errors.New("KEYLEDGER_SESSION_WINDOW must be positive"))
	}
	switch c.Session.Backend {
	case BackendCapsule, BackendStore:
	default:
		errs = append(errs, fmt.Errorf("KEYLEDGER_SESSION_BACKEND %q must be %q or %q", c.Session.Backend, BackendCapsule, BackendStore))
	}
	switch c.KeyPolicy {
	case PolicyStanding, PolicySingleUse:
	default:
		errs = append(errs, fmt.Errorf("KEYLEDGER_KEY_POLICY %q must be %q or %q", c.KeyPolicy, PolicyStanding, PolicySingleUse))
	}
	switch c.PasswordAlgorithm {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("KEYLEDGER_PASSWORD_ALGORITHM %q must be bcrypt or argon2id", c.PasswordAlgorithm))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("KEYLEDGER_BCRYPT_COST %d must be between 4 and 31", c.BcryptCost))
	}
	if c.VerificationTTL < 0 {
		errs = append(errs, errors.New("KEYLEDGER_VERIFICATION_TTL must not be negative"))
	}
	if c.Backup.Bucket != "" && len(c.Backup.Passphrase) < 12 {
		errs = append(errs, errors.New("KEYLEDGER_BACKUP_PASSPHRASE must be at least 12 characters when a bucket is set"))
	}
	if c.Backup.Interval < 0 || c.Backup.Retention < 0 {
		errs = append(errs, errors.New("backup interval and retention must not be negative"))
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit and window must be positive"))
	}
	return errors.Join(errs...)
}
