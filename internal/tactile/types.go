// Package tactile is the process execution layer of the naclbuild tools.
// It runs toolchain binaries as child processes and reports structured
// results; deciding what a non-zero exit means is left to the caller.
package tactile

import (
	"io"
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "/sdk/bin/pnacl-strip").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	// These are appended to the executor's environment.
	Environment []string `json:"environment,omitempty"`

	// Limits specifies resource constraints for execution.
	Limits *ResourceLimits `json:"limits,omitempty"`

	// RequestID uniquely identifies this execution request.
	// DirectExecutor assigns one when empty.
	RequestID string `json:"request_id,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ResourceLimits defines constraints on command execution.
type ResourceLimits struct {
	// TimeoutMs is the maximum execution time in milliseconds.
	// Zero means use the executor's default timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MaxOutputBytes limits captured stdout and stderr size (each).
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// ExecutionResult is the comprehensive output of command execution.
type ExecutionResult struct {
	// Success indicates whether the command completed without error.
	// Note: A command that runs but returns non-zero exit code has Success=true.
	// Success=false means the execution infrastructure failed.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when execution completed.
	FinishedAt time.Time `json:"finished_at"`

	// Killed indicates the command was forcibly terminated.
	Killed bool `json:"killed"`

	// KillReason explains why the command was killed.
	KillReason string `json:"kill_reason,omitempty"`

	// Truncated indicates captured output was truncated due to size limits.
	// Passthrough writers always receive the full output.
	Truncated bool `json:"truncated"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`

	// Command is a copy of the command that was executed.
	Command *Command `json:"command,omitempty"`
}

// IsError returns true if the execution failed (infrastructure error).
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the command ran but returned non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && r.ExitCode != 0
}

// Failed reports whether the command either could not run, was killed, or
// exited non-zero.
func (r *ExecutionResult) Failed() bool {
	return r.IsError() || r.Killed || r.IsNonZeroExit()
}

// Output returns Stdout+Stderr.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	// Empty means the current process directory.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified. Zero disables
	// the timeout so children run until they exit or ctx is cancelled.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// AllowedEnvironment lists environment variables to pass through.
	// Empty means the full parent environment is inherited.
	AllowedEnvironment []string `json:"allowed_environment"`

	// MaxOutputBytes caps output capture (default 1MB).
	MaxOutputBytes int64 `json:"max_output_bytes"`

	// Stdout and Stderr, when set, receive the child's output as it is
	// produced in addition to capture.
	Stdout io.Writer `json:"-"`
	Stderr io.Writer `json:"-"`
}

// DefaultExecutorConfig returns the settings the build tools run with:
// inherited environment, no timeout.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxOutputBytes: 1024 * 1024,
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}

	limits := ResourceLimits{}
	if cmd.Limits != nil {
		limits = *cmd.Limits
	}
	if limits.TimeoutMs == 0 {
		limits.TimeoutMs = int64(c.DefaultTimeout / time.Millisecond)
	}
	if limits.MaxOutputBytes == 0 {
		limits.MaxOutputBytes = c.MaxOutputBytes
	}
	result.Limits = &limits

	return result
}
