// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server and bot.
type Config struct {
	Port         string
	DatabasePath string
	CatalogFile  string

	ResellPercent       int64
	DefaultClientSeed   string
	MaxClientSeedLength int

	RequestTimeout    time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	LockTTL           time.Duration
	RedisAddr         string
	ReconcileInterval time.Duration

	OpenRatePerSecond float64
	OpenRateBurst     int

	PaymentWebhookSecret string
	TelegramBotToken     string
	AdminUserIDs         []string
	WebAppURL            string
	AuthTrustedHeader    string

	LogLevel  string
	LogFormat string
}

// Load reads envFile if it exists and then the process environment. Values
// already set in the environment win over the file. Malformed numbers and
// durations are errors.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "/app/data/packs.db"),
		CatalogFile:  getEnv("CATALOG_FILE", "configs/catalog.yaml"),

		ResellPercent:       p.int64("RESELL_PERCENT", 70),
		DefaultClientSeed:   getEnv("DEFAULT_CLIENT_SEED", "default"),
		MaxClientSeedLength: p.int("MAX_CLIENT_SEED_LENGTH", 64),

		RequestTimeout:    p.duration("REQUEST_TIMEOUT", 10*time.Second),
		RetryAttempts:     p.int("RETRY_ATTEMPTS", 3),
		RetryBackoff:      p.duration("RETRY_BACKOFF", 50*time.Millisecond),
		LockTTL:           p.duration("LOCK_TTL", 15*time.Second),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		ReconcileInterval: p.duration("RECONCILE_INTERVAL", 10*time.Minute),

		OpenRatePerSecond: p.float("OPEN_RATE_PER_SECOND", 2),
		OpenRateBurst:     p.int("OPEN_RATE_BURST", 5),

		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminUserIDs:         splitList(os.Getenv("ADMIN_USER_IDS")),
		WebAppURL:            os.Getenv("WEB_APP_URL"),
		AuthTrustedHeader:    os.Getenv("AUTH_TRUSTED_HEADER"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that parsing alone cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.ResellPercent < 0 || c.ResellPercent > 100 {
		errs = append(errs, fmt.Errorf("RESELL_PERCENT must be between 0 and 100, got %d", c.ResellPercent))
	}
	if c.MaxClientSeedLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CLIENT_SEED_LENGTH must be positive, got %d", c.MaxClientSeedLength))
	}
	if len(c.DefaultClientSeed) > c.MaxClientSeedLength {
		errs = append(errs, fmt.Errorf("DEFAULT_CLIENT_SEED is longer than MAX_CLIENT_SEED_LENGTH"))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_INTERVAL must not be negative"))
	}
	if c.OpenRatePerSecond <= 0 || c.OpenRateBurst <= 0 {
		errs = append(errs, fmt.Errorf("OPEN_RATE_PER_SECOND and OPEN_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// IsAdmin reports whether userID is listed in ADMIN_USER_IDS.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AdminTelegramIDs returns the admin IDs that are numeric Telegram IDs.
func (c *Config) AdminTelegramIDs() []int64 {
	var ids []int64
	for _, id := range c.AdminUserIDs {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed value so startup reports them together.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: %w", key, value, err))
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) int(key string, fallback int) int {
	return int(p.int64(key, int64(fallback)))
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}
