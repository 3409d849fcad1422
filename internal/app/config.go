package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/maintenance"
	"bloodbank-auth/internal/notify"
)

type Config struct {
	Env        string
	Production bool
	Port       string
	LogLevel   string
	SentryDSN  string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	RunMigrations     bool
	RedisURL          string
	CORSOrigins       []string

	Tokens     auth.TokenConfig
	BcryptCost int
	Lockout    auth.LockoutPolicy

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	OTPRequestInterval   time.Duration
	OTPRequestBurst      int

	SMTP               notify.SMTPConfig
	WhatsAppURL        string
	WhatsAppToken      string
	EmergencySendDelay time.Duration

	Cleanup maintenance.CleanupConfig
}

// LoadConfig reads the configuration from the environment. Missing secrets
// and malformed token expiries are errors.
func LoadConfig() (Config, error) {
	env := envOrDefault("APP_ENV", "development")
	cfg := Config{
		Env:        env,
		Production: env == "production",
		Port:       envOrDefault("PORT", "8080"),
		LogLevel:   envOrDefault("LOG_LEVEL", "info"),
		SentryDSN:  strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		RunMigrations:     EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		CORSOrigins:       strings.Split(envOrDefault("CORS_ORIGIN", "http://localhost:5173"), ","),

		BcryptCost: envIntOrDefault("BCRYPT_COST", 10),
		Lockout: auth.LockoutPolicy{
			MaxAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			Duration:    envMinutesOrDefault("LOGIN_LOCK_MINUTES", 120),
		},

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		OTPRequestInterval:   envSecondsOrDefault("OTP_REQUEST_INTERVAL_SECONDS", 20),
		OTPRequestBurst:      envIntOrDefault("OTP_REQUEST_BURST", 3),

		SMTP: notify.SMTPConfig{
			Host:     strings.TrimSpace(os.Getenv("EMAIL_HOST")),
			Port:     envIntOrDefault("EMAIL_PORT", 587),
			User:     strings.TrimSpace(os.Getenv("EMAIL_USER")),
			Password: os.Getenv("EMAIL_PASS"),
		},
		WhatsAppURL:        strings.TrimSpace(os.Getenv("WHATSAPP_API_URL")),
		WhatsAppToken:      strings.TrimSpace(os.Getenv("WHATSAPP_TOKEN")),
		EmergencySendDelay: time.Duration(envIntOrDefault("EMERGENCY_SEND_DELAY_MS", 500)) * time.Millisecond,

		Cleanup: maintenance.CleanupConfig{
			CronSecret:       os.Getenv("CRON_SECRET"),
			IPLimitRetention: envHoursOrDefault("AUTH_IP_LIMIT_RETENTION_HOURS", 24),
			APIKeyRetention:  envDaysOrDefault("AUTH_API_KEY_RETENTION_DAYS", 30),
			BatchSize:        envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		},
	}

	var errs []error
	cfg.DatabaseURL = requireEnv("DATABASE_URL", &errs)
	cfg.Tokens.AccessSecret = requireEnv("ACCESS_TOKEN_SECRET", &errs)
	cfg.Tokens.RefreshSecret = requireEnv("REFRESH_TOKEN_SECRET", &errs)
	cfg.Tokens.APIKeySecret = requireEnv("API_KEY_SECRET", &errs)
	cfg.Tokens.DonorSecret = requireEnv("JWT_SECRET", &errs)

	cfg.Tokens.AccessTTL = expiryEnv("ACCESS_TOKEN_EXPIRY", 15*time.Minute, &errs)
	cfg.Tokens.RefreshTTL = expiryEnv("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour, &errs)
	cfg.Tokens.APIKeyTTL = expiryEnv("API_KEY_EXPIRY", 365*24*time.Hour, &errs)
	cfg.Tokens.DonorTTL = expiryEnv("DONOR_TOKEN_EXPIRY", 7*24*time.Hour, &errs)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func requireEnv(name string, errs *[]error) string {
	value, err := mustEnv(name)
	if err != nil {
		*errs = append(*errs, err)
	}
	return value
}

func expiryEnv(name string, fallback time.Duration, errs *[]error) time.Duration {
	d, err := parseExpiry(os.Getenv(name), fallback)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
	}
	return d
}

// parseExpiry accepts Go durations ("15m", "1h30m"), a day count ("7d") or
// a bare number of seconds.
func parseExpiry(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	var d time.Duration
	switch {
	case strings.HasSuffix(raw, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, fmt.Errorf("parse days %q: %w", raw, err)
		}
		d = time.Duration(days) * 24 * time.Hour
	default:
		if seconds, err := strconv.Atoi(raw); err == nil {
			d = time.Duration(seconds) * time.Second
			break
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("expiry %q must be positive", raw)
	}
	return d, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
