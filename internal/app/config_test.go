package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/bloodbank")
	t.Setenv("ACCESS_TOKEN_SECRET", "access")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh")
	t.Setenv("API_KEY_SECRET", "api-key")
	t.Setenv("JWT_SECRET", "donor")
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Hour},
		{"15m", 15 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"900", 900 * time.Second},
		{" 1h30m ", 90 * time.Minute},
	}
	for _, tc := range cases {
		got, err := parseExpiry(tc.raw, time.Hour)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"abc", "xd", "0", "-5m"} {
		_, err := parseExpiry(raw, time.Hour)
		assert.Error(t, err, raw)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "")
	t.Setenv("CORS_ORIGIN", "")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "")
	t.Setenv("REFRESH_TOKEN_EXPIRY", "")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "")
	t.Setenv("LOGIN_LOCK_MINUTES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 2*time.Hour, cfg.Lockout.Duration)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, "donor", cfg.Tokens.DonorSecret)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("CORS_ORIGIN", "https://a.example,https://b.example")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "30m")
	t.Setenv("REFRESH_TOKEN_EXPIRY", "14d")
	t.Setenv("OTP_REQUEST_INTERVAL_SECONDS", "60")
	t.Setenv("EMERGENCY_SEND_DELAY_MS", "250")
	t.Setenv("AUTH_API_KEY_RETENTION_DAYS", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Production)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, time.Minute, cfg.OTPRequestInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.EmergencySendDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Cleanup.APIKeyRetention)
}

func TestLoadConfigReportsEveryMissingSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("JWT_SECRET", " ")
	t.Setenv("REFRESH_TOKEN_EXPIRY", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_SECRET")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "REFRESH_TOKEN_EXPIRY")
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("FLAG", "yes")
	assert.True(t, EnvBoolOrDefault("FLAG", false))
	t.Setenv("FLAG", "off")
	assert.False(t, EnvBoolOrDefault("FLAG", true))
	t.Setenv("FLAG", "maybe")
	assert.True(t, EnvBoolOrDefault("FLAG", true))
}
