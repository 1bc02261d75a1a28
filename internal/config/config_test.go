package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/test
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/test", cfg.Database.DSN)

	// Unset fields keep their defaults.
	assert.Equal(t, "tenant-integrity-service", cfg.Env.ServiceName)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 8081, cfg.HTTP.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
env:
  serviceName: integrity-test
  log:
    level: debug
    pretty: true
http:
  port: 9090
database:
  dsn: postgres://localhost/test
  maxConns: 5
redis:
  enabled: true
  addr: redis:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "integrity-test", cfg.Env.ServiceName)
	assert.Equal(t, "debug", cfg.Env.Log.Level)
	assert.True(t, cfg.Env.Log.Pretty)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, int32(5), cfg.Database.MaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/from-file
`)
	t.Setenv("TIS_DATABASE_DSN", "postgres://localhost/from-env")
	t.Setenv("TIS_HTTP_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/from-env", cfg.Database.DSN)
	assert.Equal(t, 7070, cfg.HTTP.Port)
}

func TestLoad_MissingFileWithEnv(t *testing.T) {
	t.Setenv("TIS_DATABASE_DSN", "postgres://localhost/env-only")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/env-only", cfg.Database.DSN)
}

func TestLoad_MissingDSN(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "::: not yaml {{{")
	_, err := Load(path)
	assert.Error(t, err)
}
