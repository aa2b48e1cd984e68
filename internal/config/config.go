// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds the deployment tool's configuration. Flags override
// environment variables, which override .env, which override defaults.
type Config struct {
	Project      string // target warehouse catalog
	SchemaPath   string // root of the schema source tree
	DatabasePath string // DuckDB database file; empty means in-memory
	Dataset      string // default dataset for rescore name resolution
	StageSuffix  string // appended to dataset names when staging

	LogLevel string // debug, info, warn, error (default "info")

	// RetryBase is the initial backoff for transient warehouse failures.
	RetryBase time.Duration

	// Warnings collects non-fatal problems found during loading. They are
	// logged by the caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required (flag --project or SCHEMAPLAN_PROJECT)")
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("schema path is required (flag --schema-path or SCHEMAPLAN_SCHEMA_PATH)")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Project:      os.Getenv("SCHEMAPLAN_PROJECT"),
		SchemaPath:   os.Getenv("SCHEMAPLAN_SCHEMA_PATH"),
		DatabasePath: os.Getenv("SCHEMAPLAN_DATABASE"),
		Dataset:      os.Getenv("SCHEMAPLAN_DATASET"),
		LogLevel:     os.Getenv("SCHEMAPLAN_LOG_LEVEL"),
	}

	if v := os.Getenv("SCHEMAPLAN_RETRY_BASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("ignoring invalid SCHEMAPLAN_RETRY_BASE %q", v))
		} else {
			cfg.RetryBase = d
		}
	}

	if cfg.SchemaPath == "" {
		cfg.SchemaPath = "schema"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.DatabasePath == "" {
		cfg.Warnings = append(cfg.Warnings,
			"SCHEMAPLAN_DATABASE not set, using an in-memory database")
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
