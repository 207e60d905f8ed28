package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	JWT      JWTConfig      `koanf:"jwt"`
	OTP      OTPConfig      `koanf:"otp"`
	Payment  PaymentConfig  `koanf:"payment"`
	Mail     MailConfig     `koanf:"mail"`
	Media    MediaConfig    `koanf:"media"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Admin    AdminConfig    `koanf:"admin"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	GinMode         string        `koanf:"gin_mode"`
	FrontendURL     string        `koanf:"frontend_url"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type DatabaseConfig struct {
	URL          string `koanf:"url"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type JWTConfig struct {
	Secret          string `koanf:"secret"`
	ExpiryHours     int    `koanf:"expiry_hours"`
	RefreshTTLHours int    `koanf:"refresh_ttl_hours"`
}

type OTPConfig struct {
	TTL         time.Duration `koanf:"ttl"`
	VerifiedTTL time.Duration `koanf:"verified_ttl"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type PaymentConfig struct {
	KeyID             string  `koanf:"key_id"`
	KeySecret         string  `koanf:"key_secret"`
	WebhookSecret     string  `koanf:"webhook_secret"`
	PayoutAccount     string  `koanf:"payout_account"`
	BaseURL           string  `koanf:"base_url"`
	Currency          string  `koanf:"currency"`
	CommissionPercent float64 `koanf:"commission_percent"`
	RejectionFee      float64 `koanf:"rejection_fee"`
}

type MailConfig struct {
	APIKey    string `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	FromEmail string `koanf:"from_email"`
	FromName  string `koanf:"from_name"`
}

type MediaConfig struct {
	CloudinaryURL string `koanf:"cloudinary_url"`
	Folder        string `koanf:"folder"`
}

type JobsConfig struct {
	PayoutRetryInterval  time.Duration `koanf:"payout_retry_interval"`
	AvailabilityInterval time.Duration `koanf:"availability_interval"`
	TokenCleanupInterval time.Duration `koanf:"token_cleanup_interval"`
}

// AdminConfig seeds the first back-office account when both fields are set
type AdminConfig struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
}

var AppConfig *Config

// ConfigPathEnvVar overrides the YAML config file location
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths lists the config files searched when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fixnearby/config.yaml",
}

// envKeys maps environment variables onto config keys
var envKeys = map[string]string{
	"PORT":                    "server.port",
	"GIN_MODE":                "server.gin_mode",
	"FRONTEND_URL":            "server.frontend_url",
	"SHUTDOWN_TIMEOUT":        "server.shutdown_timeout",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
	"DB_URL":                  "database.url",
	"DB_MAX_IDLE_CONNS":       "database.max_idle_conns",
	"DB_MAX_OPEN_CONNS":       "database.max_open_conns",
	"REDIS_URL":               "redis.url",
	"JWT_SECRET":              "jwt.secret",
	"JWT_EXPIRY_HOURS":        "jwt.expiry_hours",
	"JWT_REFRESH_TTL_HOURS":   "jwt.refresh_ttl_hours",
	"OTP_TTL":                 "otp.ttl",
	"OTP_VERIFIED_TTL":        "otp.verified_ttl",
	"OTP_MAX_ATTEMPTS":        "otp.max_attempts",
	"RAZORPAY_KEY_ID":         "payment.key_id",
	"RAZORPAY_KEY_SECRET":     "payment.key_secret",
	"RAZORPAY_WEBHOOK_SECRET": "payment.webhook_secret",
	"RAZORPAY_PAYOUT_ACCOUNT": "payment.payout_account",
	"RAZORPAY_BASE_URL":       "payment.base_url",
	"PAYMENT_CURRENCY":        "payment.currency",
	"COMMISSION_PERCENT":      "payment.commission_percent",
	"REJECTION_FEE":           "payment.rejection_fee",
	"MAIL_API_KEY":            "mail.api_key",
	"MAIL_BASE_URL":           "mail.base_url",
	"MAIL_FROM_EMAIL":         "mail.from_email",
	"MAIL_FROM_NAME":          "mail.from_name",
	"CLOUDINARY_URL":          "media.cloudinary_url",
	"CLOUDINARY_FOLDER":       "media.folder",
	"PAYOUT_RETRY_INTERVAL":   "jobs.payout_retry_interval",
	"AVAILABILITY_INTERVAL":   "jobs.availability_interval",
	"TOKEN_CLEANUP_INTERVAL":  "jobs.token_cleanup_interval",
	"ADMIN_EMAIL":             "admin.email",
	"ADMIN_PASSWORD":          "admin.password",
}

// Defaults returns the configuration used before file and environment overrides
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "debug",
			FrontendURL:     "http://localhost:5173",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxIdleConns: 10,
			MaxOpenConns: 100,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		JWT: JWTConfig{
			ExpiryHours:     24,
			RefreshTTLHours: 30 * 24,
		},
		OTP: OTPConfig{
			TTL:         5 * time.Minute,
			VerifiedTTL: 15 * time.Minute,
			MaxAttempts: 5,
		},
		Payment: PaymentConfig{
			BaseURL:           "https://api.razorpay.com",
			Currency:          "INR",
			CommissionPercent: 10,
			RejectionFee:      150,
		},
		Mail: MailConfig{
			BaseURL:   "https://api.brevo.com",
			FromEmail: "no-reply@fixnearby.in",
			FromName:  "FixNearby",
		},
		Media: MediaConfig{
			Folder: "fixnearby/repairers",
		},
		Jobs: JobsConfig{
			PayoutRetryInterval:  2 * time.Minute,
			AvailabilityInterval: time.Minute,
			TokenCleanupInterval: 24 * time.Hour,
		},
	}
}

// Load builds AppConfig from defaults, the optional YAML file and the environment
func Load() error {
	cfg, err := load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKey returns the config key for an environment variable, or "" to skip it
func envKey(name string) string {
	return envKeys[strings.ToUpper(name)]
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DB_URL is required"))
	}
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if c.Payment.CommissionPercent < 0 || c.Payment.CommissionPercent >= 100 {
		errs = append(errs, errors.New("COMMISSION_PERCENT must be in [0, 100)"))
	}
	if c.Payment.RejectionFee <= 0 {
		errs = append(errs, errors.New("REJECTION_FEE must be positive"))
	}
	if c.Admin.Email != "" && len(c.Admin.Password) < 8 {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be at least 8 characters"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}
