package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"naclbuild/internal/logging"
)

// Config holds all naclbuild configuration.
type Config struct {
	// Toolchain used by the translate driver
	Toolchain ToolchainConfig `yaml:"toolchain"`

	// Key mapping generator defaults
	Keymap KeymapConfig `yaml:"keymap"`

	// Existence filter generator defaults
	Existence ExistenceConfig `yaml:"existence"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// KeymapConfig configures the key mapping generator.
type KeymapConfig struct {
	DefaultKeyType string `yaml:"default_key_type"`
}

// ExistenceConfig configures the existence data generator.
type ExistenceConfig struct {
	ErrorRate float64 `yaml:"error_rate"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Toolchain: DefaultToolchainConfig(),
		Keymap: KeymapConfig{
			DefaultKeyType: "unsigned short",
		},
		Existence: ExistenceConfig{
			ErrorRate: 0.00001,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file (or an empty path) yields the defaults. Environment
// overrides are applied in every case.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
			logging.ConfigDebug("Loaded config from %s", path)
		case os.IsNotExist(err):
			logging.ConfigDebug("Config %s not found, using defaults", path)
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := strings.TrimSpace(os.Getenv("PNACL_TOOLCHAIN_ROOT")); root != "" {
		c.Toolchain.Root = root
	}
	if dir := strings.TrimSpace(os.Getenv("NACLBUILD_TEMP_DIR")); dir != "" {
		c.Toolchain.TempDir = dir
	}
	if level := strings.TrimSpace(os.Getenv("NACLBUILD_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("NACLBUILD_LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
}

// Validate checks the configuration for values no tool can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Toolchain.TranslateBinary == "" {
		errs = append(errs, errors.New("toolchain.translate_binary is required"))
	}
	if c.Toolchain.StripBinary == "" {
		errs = append(errs, errors.New("toolchain.strip_binary is required"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Existence.ErrorRate <= 0 || c.Existence.ErrorRate >= 1 {
		errs = append(errs, fmt.Errorf("existence.error_rate must be in (0, 1), got %v", c.Existence.ErrorRate))
	}
	return errors.Join(errs...)
}

// LoadEnvFile loads KEY=VALUE pairs from the given files (".env" when none
// are named) into the process environment. Files that do not exist are
// skipped and variables already set are never overwritten.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	logging.ConfigDebug("Loaded environment from %v", existing)
	return nil
}
