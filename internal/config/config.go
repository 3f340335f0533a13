package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the ARI call-control worker.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	ARIHost     string // Asterisk host for REST and the event socket
	ARIPort     int
	ARIApp      string // stasis application name
	ARIUser     string
	ARIPass     string
	DatabaseURL string // PostgreSQL DSN for calls / call_events
	HTTPPort    int    // ops server (/healthz, /metrics)
	LogLevel    string
	LogFormat   string // "text" or "json"
}

// defaults
const (
	defaultARIPort   = 8088
	defaultHTTPPort  = 8081
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("ariworker", flag.ContinueOnError)

	fs.StringVar(&cfg.ARIHost, "ari-host", "", "Asterisk host for the ARI REST and event interfaces")
	fs.IntVar(&cfg.ARIPort, "ari-port", defaultARIPort, "Asterisk ARI port")
	fs.StringVar(&cfg.ARIApp, "ari-app", "", "stasis application name")
	fs.StringVar(&cfg.ARIUser, "ari-user", "", "ARI username")
	fs.StringVar(&cfg.ARIPass, "ari-pass", "", "ARI password")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL for call records")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "ops HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. The ARI_* and DATABASE_URL names
// match the variables the rest of the platform already uses.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"ari-host":     "ARI_HOST",
		"ari-port":     "ARI_PORT",
		"ari-app":      "ARI_APP",
		"ari-user":     "ARI_USER",
		"ari-pass":     "ARI_PASS",
		"database-url": "DATABASE_URL",
		"http-port":    "HTTP_PORT",
		"log-level":    "LOG_LEVEL",
		"log-format":   "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "ari-host":
			cfg.ARIHost = val
		case "ari-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ARIPort = v
			}
		case "ari-app":
			cfg.ARIApp = val
		case "ari-user":
			cfg.ARIUser = val
		case "ari-pass":
			cfg.ARIPass = val
		case "database-url":
			cfg.DatabaseURL = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane and that all required
// connection settings are present.
func (c *Config) validate() error {
	var missing []string
	if c.ARIHost == "" {
		missing = append(missing, "ARI_HOST")
	}
	if c.ARIApp == "" {
		missing = append(missing, "ARI_APP")
	}
	if c.ARIUser == "" {
		missing = append(missing, "ARI_USER")
	}
	if c.ARIPass == "" {
		missing = append(missing, "ARI_PASS")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.ARIPort < 1 || c.ARIPort > 65535 {
		return fmt.Errorf("ari-port must be between 1 and 65535, got %d", c.ARIPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// RESTBaseURL returns the base URL of the ARI REST surface.
func (c *Config) RESTBaseURL() string {
	return fmt.Sprintf("http://%s:%d/ari", c.ARIHost, c.ARIPort)
}

// APIKey returns the user:pass pair the event socket authenticates with.
func (c *Config) APIKey() string {
	return c.ARIUser + ":" + c.ARIPass
}

// EventsURL returns the websocket URL of the ARI event stream.
func (c *Config) EventsURL() string {
	return fmt.Sprintf("ws://%s:%d/ari/events?app=%s&api_key=%s",
		c.ARIHost, c.ARIPort, c.ARIApp, c.APIKey())
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
