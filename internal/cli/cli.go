// Package cli holds the bootstrap shared by the naclbuild commands: loading
// .env and YAML configuration, installing the zap logger, and mapping
// command errors to process exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"naclbuild/internal/config"
	"naclbuild/internal/logging"
)

// ExitError carries the process status for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exit wraps err with a process status.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Errorf is Exit with a formatted message.
func Errorf(code int, format string, args ...interface{}) error {
	return Exit(code, fmt.Errorf(format, args...))
}

// GlobalFlags are accepted by every command.
type GlobalFlags struct {
	Verbose    bool
	ConfigPath string
}

// Register adds --verbose and --config to cmd.
func (g *GlobalFlags) Register(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "Path to a YAML config file")
}

// Setup loads .env, then the config file, then installs the logger.
func (g *GlobalFlags) Setup() (*config.Config, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.Initialize(cfg.Logging.Options(g.Verbose)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.BootDebug("Config loaded (path=%q)", g.ConfigPath)
	return cfg, nil
}

// Execute runs cmd with args and returns the process status. Errors are
// printed to stderr as "Error: <message>".
func Execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	if args == nil {
		// cobra reads os.Args when given nil
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(ctx)
	logging.Sync()
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
