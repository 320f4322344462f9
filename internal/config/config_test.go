package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache", "ttl-cache", "cache.sock"), cfg.Socket)
	assert.Equal(t, filepath.Join(home, ".cache", "ttl-cache"), cfg.Dir)
	assert.Equal(t, 15*time.Minute, cfg.FetchTTL)
	assert.Equal(t, 5*time.Minute, cfg.SearchTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Rotation)
	assert.Nil(t, cfg.DefaultTTLSeconds())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TTL_CACHE_SOCK", "/tmp/x.sock")
	t.Setenv("TTL_CACHE_DIR", "/tmp/ttl")
	t.Setenv("TTL_CACHE_DEFAULT_TTL", "2.5")
	t.Setenv("TTL_CACHE_FETCH_TTL", "1m")
	t.Setenv("TTL_CACHE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sock", cfg.Socket)
	assert.Equal(t, "/tmp/ttl", cfg.Dir)
	assert.Equal(t, 2.5, cfg.DefaultTTLSeconds())
	assert.Equal(t, time.Minute, cfg.FetchTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDefaultTTLSeconds_NonNumeric(t *testing.T) {
	cfg := &Config{DefaultTTL: "soon"}
	assert.Nil(t, cfg.DefaultTTLSeconds())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("TTL_CACHE_SEARCH_TTL", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}
