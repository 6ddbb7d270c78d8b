package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearPlatformEnv keeps the host environment out of the tests.
func clearPlatformEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearPlatformEnv(t)
	t.Setenv("STORE_DATABASE_URL", "postgres://localhost/storefront")
	t.Setenv("STORE_JWT_SECRET", "secret")

	cfg, err := loadConfig(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, "postgres://localhost/storefront", cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_JWT_SECRET", "secret")

	cfg, err := loadConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_File(t *testing.T) {
	clearPlatformEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://file/db
jwt_secret: from-file
redis_url: redis://localhost:6379/0
idempotency_ttl: 1h
rate_limit:
  max: 5
`), 0o600))

	cfg, err := loadConfig(nil, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.RateLimit.Max)
}

func TestLoadConfig_Required(t *testing.T) {
	clearPlatformEnv(t)
	t.Run("database", func(t *testing.T) {
		t.Setenv("STORE_JWT_SECRET", "secret")
		_, err := loadConfig(nil, nil)
		require.ErrorContains(t, err, "database URL is required")
	})
	t.Run("jwt secret", func(t *testing.T) {
		t.Setenv("STORE_DATABASE_URL", "postgres://localhost/storefront")
		_, err := loadConfig(nil, nil)
		require.ErrorContains(t, err, "jwt secret is required")
	})
}
