// Package config reads the optional strata configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/store"
)

// Config represents the optional configuration file. Every field is a
// pointer so an absent key can be told apart from a zero value; command
// line flags always win over it.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Log      LogConfig      `toml:"log"`
}

// DefaultsConfig holds persistent flag defaults.
type DefaultsConfig struct {
	BackupDir   *string  `toml:"backup_dir"`
	Compression *string  `toml:"compression"`
	Store       *string  `toml:"store"`
	MaxDepth    *int     `toml:"max_depth"`
	Workers     *int     `toml:"workers"`
	CacheSize   *int     `toml:"cache_size"`
	Prune       *bool    `toml:"prune"`
	MaxSize     *string  `toml:"max_size"`
	BWLimit     *string  `toml:"bwlimit"`
	Exclude     []string `toml:"exclude"`
}

// LogConfig configures the rotating structured log written with --log.
type LogConfig struct {
	File       *string `toml:"file"`
	MaxSizeMB  *int    `toml:"max_size_mb"`
	MaxBackups *int    `toml:"max_backups"`
	MaxAgeDays *int    `toml:"max_age_days"`
	Compress   *bool   `toml:"compress"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "strata", "config.toml")
}

// Load reads the config file from the XDG path. A missing file yields a
// zero Config and no error.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads and validates the config file at path. Unknown keys are
// rejected so a typo does not silently fall back to a default.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %s: %w", domain.ErrConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys %s", domain.ErrConfiguration, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that can be judged without a command line.
func (c Config) Validate() error {
	d := c.Defaults
	if d.Compression != nil {
		if _, err := domain.ParseTier(*d.Compression); err != nil {
			return err
		}
	}
	if d.Store != nil {
		if _, err := store.ParseMode(*d.Store); err != nil {
			return err
		}
	}
	for name, v := range map[string]*string{"max_size": d.MaxSize, "bwlimit": d.BWLimit} {
		if v == nil {
			continue
		}
		if _, err := filter.ParseSize(*v); err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrConfiguration, name, err)
		}
	}
	for name, v := range map[string]*int{
		"max_depth":        d.MaxDepth,
		"workers":          d.Workers,
		"cache_size":       d.CacheSize,
		"log.max_size_mb":  c.Log.MaxSizeMB,
		"log.max_backups":  c.Log.MaxBackups,
		"log.max_age_days": c.Log.MaxAgeDays,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrConfiguration, name)
		}
	}
	return nil
}
