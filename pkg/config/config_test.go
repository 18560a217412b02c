package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpyedge/oxicloud/pkg/config"
)

func TestDefaultMatchesSpec(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.TrashEnabled)
	assert.Equal(t, 1024, cfg.IdmapFlushThreshold)
	assert.Equal(t, int64(1<<20), cfg.SmallFileThreshold)
	assert.Equal(t, 256, cfg.SearchCacheSize)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oxicloud.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_root = "/srv/oxicloud"
sharing_enabled = false
search_cache_size = 64
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/oxicloud", cfg.StorageRoot)
	assert.False(t, cfg.SharingEnabled)
	assert.Equal(t, 64, cfg.SearchCacheSize)
	// untouched defaults survive the overlay
	assert.True(t, cfg.TrashEnabled)
}

func TestLoadRejectsMissingStorageRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oxicloud.toml")
	require.NoError(t, os.WriteFile(path, []byte(`sharing_enabled = true`), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestFromMapDecodesDriverStyleOptions(t *testing.T) {
	cfg, err := config.FromMap(map[string]interface{}{
		"storage_root":       "/srv/oxicloud",
		"large_file_parallelism": 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.LargeFileParallelism)
}
