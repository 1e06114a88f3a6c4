package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaultsFromPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ream.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[scheduler]
workers = 4

[resource]
enforce = true
memory_bytes = 1048576
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Scheduler.Workers)
	require.True(t, cfg.Resource.Enforce)
	require.Equal(t, uint64(1048576), cfg.Resource.MemoryBytes)
	// untouched default survives the partial override
	require.Equal(t, uint64(10), cfg.Scheduler.DeprioritizeAfter)
}

func TestLoadRejectsUnrecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ream.toml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_top_level = true\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
