package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"SCHEMAPLAN_PROJECT", "SCHEMAPLAN_SCHEMA_PATH", "SCHEMAPLAN_DATABASE",
		"SCHEMAPLAN_DATASET", "SCHEMAPLAN_LOG_LEVEL", "SCHEMAPLAN_RETRY_BASE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "schema", cfg.SchemaPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBase)
	// No database path means in-memory, which is worth warning about.
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "in-memory")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCHEMAPLAN_PROJECT", "proj")
	t.Setenv("SCHEMAPLAN_SCHEMA_PATH", "/srv/schema")
	t.Setenv("SCHEMAPLAN_DATABASE", "/srv/wh.duckdb")
	t.Setenv("SCHEMAPLAN_DATASET", "main")
	t.Setenv("SCHEMAPLAN_LOG_LEVEL", "debug")
	t.Setenv("SCHEMAPLAN_RETRY_BASE", "1s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.Project)
	assert.Equal(t, "/srv/schema", cfg.SchemaPath)
	assert.Equal(t, "/srv/wh.duckdb", cfg.DatabasePath)
	assert.Equal(t, "main", cfg.Dataset)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.RetryBase)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnvInvalidRetryBase(t *testing.T) {
	t.Setenv("SCHEMAPLAN_DATABASE", "/srv/wh.duckdb")
	t.Setenv("SCHEMAPLAN_RETRY_BASE", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBase)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "SCHEMAPLAN_RETRY_BASE")
}

func TestValidate(t *testing.T) {
	cfg := &Config{Project: "proj", SchemaPath: "schema"}
	require.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{SchemaPath: "schema"}).Validate())
	assert.Error(t, (&Config{Project: "proj"}).Validate())
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "WARN", want: slog.LevelWarn},
		{level: "warning", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "", want: slog.LevelInfo},
		{level: "bogus", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&Config{LogLevel: tt.level}).SlogLevel(), tt.level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SCHEMAPLAN_TEST_DOTENV"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))

	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\n" + key + " = \"from-file\"\nBROKEN LINE\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	const key = "SCHEMAPLAN_TEST_DOTENV_PRECEDENCE"
	t.Setenv(key, "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o644))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv(key))
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "x", stripQuotes(`"x"`))
	assert.Equal(t, "x", stripQuotes("'x'"))
	assert.Equal(t, `"x'`, stripQuotes(`"x'`))
	assert.Equal(t, "x", stripQuotes("x"))
	assert.Equal(t, `"`, stripQuotes(`"`))
}
