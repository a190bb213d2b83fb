package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 1, cfg.TenantConcurrency)
	require.Equal(t, 60*time.Second, cfg.ItemTimeout)
	require.Equal(t, 2, cfg.DefaultMaxRetries)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("ITEM_TIMEOUT", "250ms")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 250*time.Millisecond, cfg.ItemTimeout)
	require.InDelta(t, 2.5, cfg.RateLimitRefill, 0.001)
	require.True(t, cfg.ArchivePathStyle)
	// Unparseable values fall back to the default.
	require.Zero(t, cfg.RedisDB)
}
