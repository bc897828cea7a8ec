package config

import "naclbuild/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Options converts the config into logger options.
func (c LoggingConfig) Options(verbose bool) logging.Options {
	return logging.Options{
		Level:   c.Level,
		Format:  c.Format,
		Verbose: verbose,
	}
}
