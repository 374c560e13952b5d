package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8780", cfg.Listen)
	assert.Equal(t, 1000, cfg.Audit.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Downstream.InvokeTimeout)
	assert.Equal(t, int64(10<<20), cfg.Downstream.MaxResponseBody)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ambassador.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
data_dir: "/tmp/amb-test"
pools:
  max_per_user: 2
  max_total: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "/tmp/amb-test", cfg.DataDir)
	assert.Equal(t, 2, cfg.Pools.MaxPerUser)
	assert.Equal(t, 10, cfg.Pools.MaxTotal)
	// Untouched sections keep defaults.
	assert.Equal(t, time.Hour, cfg.Sessions.TTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AMBASSADOR_LISTEN", "127.0.0.1:1234")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Listen)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	assert.Empty(t, Validate(cfg))

	cfg.Listen = ""
	cfg.Audit.BufferSize = 0
	cfg.Pools.MaxTotal = 1
	errs := Validate(cfg)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "listen")
	assert.Contains(t, fields, "audit.buffer_size")
	assert.Contains(t, fields, "pools.max_total")
}
