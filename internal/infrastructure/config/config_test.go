package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, time.Second, cfg.DedupWindow)
	assert.Equal(t, int64(10*1024*1024), cfg.Image.MaxSizeBytes)
	assert.Contains(t, cfg.ImageGen.URLTemplate, "{keywords}")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_DSN", "host=db user=app dbname=recipes")
	t.Setenv("APP_SERVER_PORT", "9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("unknown storage backend", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("STORAGE_BACKEND", "ftp")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "storage backend")
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("STORAGE_BACKEND", "s3")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "bucket")
	})
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "sk-o...wxyz", MaskAPIKey("sk-or-abcdefwxyz"))
}
