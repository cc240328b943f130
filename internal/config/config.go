// Package config loads the connection profile cmd/imapcmd runs
// against: host, port, TLS mode, credentials, and watchdog timeout,
// decoded from TOML the way this codebase always has.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	TLSModeNone     = "none"
	TLSModeStartTLS = "starttls"
	TLSModeTLS      = "tls"
)

// Config is a single connection profile for the CLI demo. Unlike a
// multi-account proxy config, imapcmd drives exactly one session per
// invocation, so there is no account list or folder filtering here.
type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLSMode  string `toml:"tls_mode"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Timeout  int    `toml:"timeout"`
}

// Load reads a TOML config file from path, validates it, and returns
// the Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	switch c.TLSMode {
	case "", TLSModeNone, TLSModeStartTLS, TLSModeTLS:
	default:
		return fmt.Errorf("config: tls_mode %q must be one of %q, %q, %q", c.TLSMode, TLSModeNone, TLSModeStartTLS, TLSModeTLS)
	}
	if c.User == "" {
		return fmt.Errorf("config: user is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative, got %d", c.Timeout)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	return nil
}

// EffectivePort returns Port, defaulting it to the conventional IMAP
// port for the configured TLS mode when left at zero.
func (c *Config) EffectivePort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLSMode == TLSModeTLS {
		return 993
	}
	return 143
}

// UseImplicitTLS reports whether the connection should be dialed
// straight into TLS, rather than negotiated in-band with STARTTLS.
func (c *Config) UseImplicitTLS() bool { return c.TLSMode == TLSModeTLS }

// UseStartTLS reports whether the login flow should issue STARTTLS
// before authenticating.
func (c *Config) UseStartTLS() bool { return c.TLSMode == TLSModeStartTLS }
