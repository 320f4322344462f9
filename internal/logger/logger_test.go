package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ttl-cache.log")
	require.NoError(t, Init(Config{Path: path, Level: "debug", Format: "json"}))
	t.Cleanup(func() { _ = Close() })

	log := WithComponent("test")
	log.Info().Str("key", "k").Msg("hello")
	Warnf("warned %d", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"message":"warned 1"`)
}

func TestInit_SecondCallIsNoop(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")
	require.NoError(t, Init(Config{Path: first, Rotation: true, MaxSize: 1}))
	t.Cleanup(func() { _ = Close() })
	require.NoError(t, Init(Config{Path: second}))

	Infof("only once")
	_, err := os.Stat(second)
	assert.True(t, os.IsNotExist(err))
}

func TestInitFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.log")
	t.Setenv("TTL_CACHE_LOG", path)
	t.Setenv("TTL_CACHE_LOG_FORMAT", "text")
	t.Setenv("TTL_CACHE_LOG_ROTATE", "false")
	require.NoError(t, InitFromEnv())
	t.Cleanup(func() { _ = Close() })

	Errorf("boom")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
}
