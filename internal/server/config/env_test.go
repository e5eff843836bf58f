package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"ENV", "production")
	t.Setenv(EnvPrefix+"HTTP_ADDR", ":9999")
	t.Setenv(EnvPrefix+"SECRET_KEY", "from-env")
	t.Setenv(EnvPrefix+"OTP_VALIDITY", "3m")
	t.Setenv(EnvPrefix+"OTP_PURGE_INTERVAL", "15m")
	t.Setenv(EnvPrefix+"SMTP_PORT", "465")
	t.Setenv(EnvPrefix+"REDIS_ADDR", "")

	var c Config
	c.LoadDefaults()
	parseEnv(&c)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, ":9999", c.HTTPAddr)
	assert.Equal(t, "from-env", c.SecretKey)
	assert.Equal(t, 3*time.Minute, c.OTPValidity)
	assert.Equal(t, 15*time.Minute, c.OTPPurgeInterval)
	assert.Equal(t, 465, c.SMTPPort)
	assert.Empty(t, c.RedisAddr)
	assert.Equal(t, ":50051", c.GRPCAddr)
}

func TestParseEnv_BadDurationPanics(t *testing.T) {
	t.Setenv(EnvPrefix+"CACHE_TTL", "forever")

	var c Config
	require.Panics(t, func() { parseEnv(&c) })
}

func TestParseEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PAYKEEPER_APP_URL=https://app.example\n"), 0o600))

	orig := envFiles
	envFiles = []string{path}
	t.Cleanup(func() {
		envFiles = orig
		_ = os.Unsetenv(EnvPrefix + "APP_URL")
	})

	var c Config
	parseEnv(&c)
	assert.Equal(t, "https://app.example", c.AppURL)
}
