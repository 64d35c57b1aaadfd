// Package config loads runtime configuration for the authkeeper CLI.
//
// Sources, later ones overriding earlier ones:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. The AUTHKEEPER_ADDR environment variable.
//  4. Command-line flags: -a (server base URL), -t (request timeout).
//
// JSON schema:
//
//	{
//	  "server_addr": "http://127.0.0.1:8080",
//	  "request_timeout": "10s"
//	}
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvServerAddr overrides the server base URL.
const EnvServerAddr = "AUTHKEEPER_ADDR"

// Config holds runtime settings for the CLI.
type Config struct {
	ServerAddr     string
	RequestTimeout time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerAddr = "http://127.0.0.1:8080"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig applies defaults, then JSON, environment and flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerAddr)); v != "" {
		cfg.ServerAddr = v
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}

	cfg.ServerAddr = normalizeAddr(cfg.ServerAddr)
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %s", cfg.RequestTimeout)
	}
	return cfg, nil
}

// normalizeAddr accepts bare host:port values and drops a trailing slash.
func normalizeAddr(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr != "" && !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}
