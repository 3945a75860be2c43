package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// point PAIGEANT_CONFIG at a file that does not exist so a stray
// paigeant.yaml in the working directory cannot leak into tests.
func noConfigFile(t *testing.T) {
	t.Helper()
	t.Setenv("PAIGEANT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	noConfigFile(t)

	cfg, err := Load("test-service")
	require.NoError(t, err)

	assert.Equal(t, "test-service", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, TransportInMemory, cfg.Transport.Backend)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadEnvOverrides(t *testing.T) {
	noConfigFile(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PAIGEANT_TRANSPORT", TransportRedis)
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DATABASE_URL", "postgres://generic")
	t.Setenv("PAIGEANT_DATABASE_URL", "postgres://specific")

	cfg, err := Load("test-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, TransportRedis, cfg.Transport.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "postgres://specific", cfg.Database.URL)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paigeant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"service:\n  port: 7070\n  log_level: debug\ntransport:\n  backend: redis\n  redis:\n    host: redis.local\n"), 0o644))
	t.Setenv("PAIGEANT_CONFIG", path)

	cfg, err := Load("test-service")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Service.Port)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "redis.local:6379", cfg.RedisAddr())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	noConfigFile(t)
	t.Setenv("PAIGEANT_TRANSPORT", "kafka")

	_, err := Load("test-service")
	assert.ErrorContains(t, err, "unknown transport backend")
}

func TestValidateRejectsBadPort(t *testing.T) {
	noConfigFile(t)
	t.Setenv("PORT", "70000")

	_, err := Load("test-service")
	assert.ErrorContains(t, err, "invalid port")
}
