// Package config loads and validates the storage core's configuration:
// a tagged struct decoded either from a TOML document or from a generic
// map handed over by an embedding service's own config system.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	validator "github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Config holds every option the storage core recognizes.
type Config struct {
	StorageRoot string `toml:"storage_root" mapstructure:"storage_root" validate:"required"`

	TrashEnabled   bool          `toml:"trash_enabled" mapstructure:"trash_enabled"`
	TrashRetention time.Duration `toml:"trash_retention" mapstructure:"trash_retention" validate:"gte=0"`

	IdmapDebounce       time.Duration `toml:"idmap_debounce" mapstructure:"idmap_debounce" validate:"gte=0"`
	IdmapFlushThreshold int           `toml:"idmap_flush_threshold" mapstructure:"idmap_flush_threshold" validate:"gte=1"`

	MetaCacheTTL time.Duration `toml:"meta_cache_ttl" mapstructure:"meta_cache_ttl" validate:"gte=0"`

	SmallFileThreshold  int64 `toml:"small_file_threshold" mapstructure:"small_file_threshold" validate:"gt=0"`
	MediumFileThreshold int64 `toml:"medium_file_threshold" mapstructure:"medium_file_threshold" validate:"gtfield=SmallFileThreshold"`
	LargeFileParallelism int  `toml:"large_file_parallelism" mapstructure:"large_file_parallelism" validate:"gte=1"`

	SearchCacheSize int           `toml:"search_cache_size" mapstructure:"search_cache_size" validate:"gte=1"`
	SearchCacheTTL  time.Duration `toml:"search_cache_ttl" mapstructure:"search_cache_ttl" validate:"gte=0"`

	SharingEnabled bool `toml:"sharing_enabled" mapstructure:"sharing_enabled"`

	// LogMode selects "dev" (console) or "prod" (JSON) log output.
	LogMode string `toml:"log_mode" mapstructure:"log_mode"`
}

// Default returns a Config with the standard defaults applied.
func Default() Config {
	return Config{
		TrashEnabled:         true,
		TrashRetention:       30 * 24 * time.Hour,
		IdmapDebounce:        500 * time.Millisecond,
		IdmapFlushThreshold:  1024,
		MetaCacheTTL:         60 * time.Second,
		SmallFileThreshold:   1 << 20,   // 1 MiB
		MediumFileThreshold:  100 << 20, // 100 MiB
		LargeFileParallelism: defaultParallelism(),
		SearchCacheSize:      256,
		SearchCacheTTL:       30 * time.Second,
		SharingEnabled:       true,
		LogMode:              "dev",
	}
}

// Load reads a TOML document at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "error decoding config file")
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromMap decodes a generic map (as an embedding collaborator's own
// config system might hand us) into Config via mapstructure, matching
// the decoding idiom used for driver-style config maps.
func FromMap(m map[string]interface{}) (Config, error) {
	cfg := Default()
	if err := mapstructure.Decode(m, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "error decoding config map")
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var v = validator.New()

func validate(cfg *Config) error {
	if err := v.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// String renders a summary suitable for a startup log line.
func (c Config) String() string {
	return fmt.Sprintf("storage_root=%s trash_enabled=%t trash_retention=%s sharing_enabled=%t",
		c.StorageRoot, c.TrashEnabled, c.TrashRetention, c.SharingEnabled)
}
