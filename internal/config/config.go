// Package config loads the dynpart configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// Config holds the settings shared by every command.
type Config struct {
	Mode               string        `mapstructure:"mode" json:"mode" yaml:"mode"`
	PropertyFiles      []string      `mapstructure:"property_files" json:"property_files" yaml:"property_files"`
	MiscDevice         string        `mapstructure:"misc_device" json:"misc_device" yaml:"misc_device"`
	DeviceDir          string        `mapstructure:"device_dir" json:"device_dir,omitempty" yaml:"device_dir,omitempty"`
	SuperPartitionName string        `mapstructure:"super_partition_name" json:"super_partition_name" yaml:"super_partition_name"`
	MapperDir          string        `mapstructure:"mapper_dir" json:"mapper_dir" yaml:"mapper_dir"`
	DmsetupPath        string        `mapstructure:"dmsetup_path" json:"dmsetup_path" yaml:"dmsetup_path"`
	MetadataMaxSize    uint32        `mapstructure:"metadata_max_size" json:"metadata_max_size" yaml:"metadata_max_size"`
	MetadataSlotCount  uint32        `mapstructure:"metadata_slot_count" json:"metadata_slot_count" yaml:"metadata_slot_count"`
	MergePollInterval  time.Duration `mapstructure:"merge_poll_interval" json:"merge_poll_interval" yaml:"merge_poll_interval"`
	MergeTimeout       time.Duration `mapstructure:"merge_timeout" json:"merge_timeout" yaml:"merge_timeout"`
	LogLevel           string        `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	LogFormat          string        `mapstructure:"log_format" json:"log_format" yaml:"log_format"`
}

// New returns a viper instance with the search paths, environment prefix
// and defaults set.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("dynpart-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.dynpart")
	v.AddConfigPath("/etc/dynpart")

	v.SetDefault("mode", types.ModeNormal.String())
	v.SetDefault("property_files", []string{"/default.prop", "/system/build.prop", "/vendor/build.prop"})
	v.SetDefault("misc_device", "/dev/block/by-name/misc")
	v.SetDefault("device_dir", "")
	v.SetDefault("super_partition_name", "super")
	v.SetDefault("mapper_dir", "/dev/mapper")
	v.SetDefault("dmsetup_path", "dmsetup")
	v.SetDefault("metadata_max_size", 65536)
	v.SetDefault("metadata_slot_count", 2)
	v.SetDefault("merge_poll_interval", 2*time.Second)
	v.SetDefault("merge_timeout", 30*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("DYNPART")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or searches the default paths when it is empty,
// and decodes the result. A missing default config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if _, ok := types.ParseExecutionMode(c.Mode); !ok {
		return fmt.Errorf("invalid mode %q, expected normal or recovery", c.Mode)
	}
	if c.MetadataSlotCount == 0 {
		return fmt.Errorf("metadata_slot_count must be positive")
	}
	if c.MetadataMaxSize == 0 || c.MetadataMaxSize%types.SectorSize != 0 {
		return fmt.Errorf("metadata_max_size must be a positive multiple of %d", types.SectorSize)
	}
	if c.MergePollInterval <= 0 || c.MergeTimeout <= 0 {
		return fmt.Errorf("merge_poll_interval and merge_timeout must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q, expected text or json", c.LogFormat)
	}
	return nil
}

// ExecutionMode returns the parsed mode. Call Validate first.
func (c *Config) ExecutionMode() types.ExecutionMode {
	mode, _ := types.ParseExecutionMode(c.Mode)
	return mode
}
