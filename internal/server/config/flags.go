package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
//	-a string     HTTP bind address (e.g. ":8080")
//	-d string     PostgreSQL DSN, empty for the in-memory store
//	-s string     JWT HMAC secret key
//	-t duration   access token validity (e.g. "15m")
//	-r duration   refresh token validity (e.g. "168h")
//	-p string     password hasher: bcrypt | argon2id
//	-o string     comma-separated CORS origins
//	-e string     Sentry DSN
//	-l string     log format: json | text
//	-x            revoke descendant tokens when a rotated token is reused
//	-k            mark the refresh token cookie Secure
//
// os.Args is filtered with flagx.FilterArgs first so flags owned by other
// components (-c) do not trip the parser.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-a", "-d", "-s", "-t", "-r", "-p", "-o", "-e", "-l"},
		"-x", "-k")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity duration")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity duration")
	fs.StringVar(&config.PasswordHasher, "p", config.PasswordHasher, "password hasher (bcrypt|argon2id)")
	origins := fs.String("o", strings.Join(config.AllowedOrigins, ","), "allowed CORS origins, comma-separated")
	fs.StringVar(&config.SentryDSN, "e", config.SentryDSN, "sentry DSN")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format (json|text)")
	fs.BoolVar(&config.RevokeDescendantsOnReuse, "x", config.RevokeDescendantsOnReuse, "revoke descendants on refresh token reuse")
	fs.BoolVar(&config.SecureCookies, "k", config.SecureCookies, "secure refresh token cookie")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AllowedOrigins = splitList(*origins)
	return nil
}
