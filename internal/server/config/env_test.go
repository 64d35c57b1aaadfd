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
	t.Setenv(EnvAddr, ":7070")
	t.Setenv(EnvDatabaseDSN, "postgres://env")
	t.Setenv(EnvSecretKey, "env-secret")
	t.Setenv(EnvAccessTokenTTL, "5m")
	t.Setenv(EnvRefreshTokenTTL, "48h")
	t.Setenv(EnvPasswordHasher, "argon2id")
	t.Setenv(EnvRevokeDescendantsOnReuse, "true")
	t.Setenv(EnvAllowedOrigins, "https://a.example, ,https://b.example")
	t.Setenv(EnvSecureCookies, "1")
	t.Setenv(EnvSentryDSN, "https://k@sentry.example/2")
	t.Setenv(EnvLogFormat, "text")

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseEnv(&c))

	assert.Equal(t, ":7070", c.EndpointAddrHTTP)
	assert.Equal(t, "postgres://env", c.DatabaseDSN)
	assert.Equal(t, "env-secret", c.SecretKey)
	assert.Equal(t, 5*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, 48*time.Hour, c.RefreshTokenValidityDuration)
	assert.Equal(t, "argon2id", c.PasswordHasher)
	assert.True(t, c.RevokeDescendantsOnReuse)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
	assert.True(t, c.SecureCookies)
	assert.Equal(t, "https://k@sentry.example/2", c.SentryDSN)
	assert.Equal(t, "text", c.LogFormat)
}

func TestParseEnv_BlankValuesIgnored(t *testing.T) {
	t.Setenv(EnvAddr, "  ")

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseEnv(&c))
	assert.Equal(t, ":8080", c.EndpointAddrHTTP)
}

func TestParseEnv_Invalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{EnvAccessTokenTTL, "fifteen"},
		{EnvRefreshTokenTTL, "7"},
		{EnvRevokeDescendantsOnReuse, "maybe"},
		{EnvSecureCookies, "yes please"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			var c Config
			c.LoadDefaults()
			assert.Error(t, parseEnv(&c))
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AUTH_LOG_FORMAT=text\nAUTH_ADDR=:6060\n"), 0o600))

	// already exported variables win over the file
	t.Setenv(EnvAddr, ":5050")
	t.Setenv(EnvLogFormat, "")
	require.NoError(t, os.Unsetenv(EnvLogFormat))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "text", os.Getenv(EnvLogFormat))
	assert.Equal(t, ":5050", os.Getenv(EnvAddr))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
