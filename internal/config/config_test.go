package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/strata/internal/config"
	"github.com/bamsammich/strata/internal/domain"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	configDir := filepath.Join(dir, "strata")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.BackupDir)
	assert.Nil(t, cfg.Defaults.MaxDepth)
	assert.Nil(t, cfg.Log.File)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
backup_dir = "/var/backups/site"
compression = "whole"
store = "archive"
max_depth = 500
workers = 4
cache_size = 32
prune = true
max_size = "10M"
bwlimit = "50M"
exclude = ["*.log", "node_modules/"]

[log]
file = "/var/log/strata.json"
max_size_mb = 20
max_backups = 3
max_age_days = 14
compress = true
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	d := cfg.Defaults
	require.NotNil(t, d.BackupDir)
	assert.Equal(t, "/var/backups/site", *d.BackupDir)
	require.NotNil(t, d.Compression)
	assert.Equal(t, "whole", *d.Compression)
	require.NotNil(t, d.Store)
	assert.Equal(t, "archive", *d.Store)
	require.NotNil(t, d.MaxDepth)
	assert.Equal(t, 500, *d.MaxDepth)
	require.NotNil(t, d.Workers)
	assert.Equal(t, 4, *d.Workers)
	require.NotNil(t, d.CacheSize)
	assert.Equal(t, 32, *d.CacheSize)
	require.NotNil(t, d.Prune)
	assert.True(t, *d.Prune)
	require.NotNil(t, d.MaxSize)
	assert.Equal(t, "10M", *d.MaxSize)
	require.NotNil(t, d.BWLimit)
	assert.Equal(t, "50M", *d.BWLimit)
	assert.Equal(t, []string{"*.log", "node_modules/"}, d.Exclude)

	l := cfg.Log
	require.NotNil(t, l.File)
	assert.Equal(t, "/var/log/strata.json", *l.File)
	require.NotNil(t, l.MaxSizeMB)
	assert.Equal(t, 20, *l.MaxSizeMB)
	require.NotNil(t, l.Compress)
	assert.True(t, *l.Compress)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
prune = false
`)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Prune)
	assert.False(t, *cfg.Defaults.Prune)
	assert.Nil(t, cfg.Defaults.Compression)
	assert.Nil(t, cfg.Defaults.Exclude)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "[defaults\nprune = ")

	_, err := config.Load()
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[defaults]
compresion = "whole"
`)

	_, err := config.Load()
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "defaults.compresion")
}

func TestLoad_InvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"compression": "[defaults]\ncompression = \"lz4\"\n",
		"store":       "[defaults]\nstore = \"s3\"\n",
		"max_depth":   "[defaults]\nmax_depth = -1\n",
		"log":         "[log]\nmax_backups = -2\n",
		"bwlimit":     "[defaults]\nbwlimit = \"fast\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			writeConfig(t, content)
			_, err := config.Load()
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/strata/config.toml", config.Path())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
