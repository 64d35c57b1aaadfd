package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by parseEnv.
const (
	EnvAddr                     = "AUTH_ADDR"
	EnvDatabaseDSN              = "AUTH_DATABASE_DSN"
	EnvSecretKey                = "AUTH_SECRET_KEY"
	EnvAccessTokenTTL           = "AUTH_ACCESS_TOKEN_TTL"
	EnvRefreshTokenTTL          = "AUTH_REFRESH_TOKEN_TTL"
	EnvPasswordHasher           = "AUTH_PASSWORD_HASHER"
	EnvRevokeDescendantsOnReuse = "AUTH_REVOKE_DESCENDANTS_ON_REUSE"
	EnvAllowedOrigins           = "AUTH_ALLOWED_ORIGINS"
	EnvSecureCookies            = "AUTH_SECURE_COOKIES"
	EnvSentryDSN                = "AUTH_SENTRY_DSN"
	EnvLogFormat                = "AUTH_LOG_FORMAT"
)

// loadDotEnv exports the variables from path into the process environment
// without overriding variables that are already set. A missing file is fine.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func parseEnv(config *Config) error {
	if v, ok := lookup(EnvAddr); ok {
		config.EndpointAddrHTTP = v
	}
	if v, ok := lookup(EnvDatabaseDSN); ok {
		config.DatabaseDSN = v
	}
	if v, ok := lookup(EnvSecretKey); ok {
		config.SecretKey = v
	}
	if v, ok := lookup(EnvPasswordHasher); ok {
		config.PasswordHasher = v
	}
	if v, ok := lookup(EnvSentryDSN); ok {
		config.SentryDSN = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		config.LogFormat = v
	}
	if v, ok := lookup(EnvAllowedOrigins); ok {
		config.AllowedOrigins = splitList(v)
	}

	var err error
	if config.AccessTokenValidityDuration, err = envDuration(EnvAccessTokenTTL, config.AccessTokenValidityDuration); err != nil {
		return err
	}
	if config.RefreshTokenValidityDuration, err = envDuration(EnvRefreshTokenTTL, config.RefreshTokenValidityDuration); err != nil {
		return err
	}
	if config.RevokeDescendantsOnReuse, err = envBool(EnvRevokeDescendantsOnReuse, config.RevokeDescendantsOnReuse); err != nil {
		return err
	}
	if config.SecureCookies, err = envBool(EnvSecureCookies, config.SecureCookies); err != nil {
		return err
	}
	return nil
}

// lookup treats blank values as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
