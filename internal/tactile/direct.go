package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"naclbuild/internal/logging"
)

// DirectExecutor executes commands directly on the host using os/exec.
type DirectExecutor struct {
	config ExecutorConfig
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultExecutorConfig().MaxOutputBytes
	}
	logging.TactileDebug("Creating DirectExecutor: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &DirectExecutor{config: config}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	return nil
}

// Execute runs a command directly on the host.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	log := logging.Get(logging.CategoryTactile).With("request_id", cmd.RequestID)
	log.Debug("Executing: %s (dir=%s, timeout=%dms)", cmd.CommandString(), cmd.WorkingDirectory, cmd.Limits.TimeoutMs)

	result := &ExecutionResult{
		ExitCode: -1,
		Command:  &cmd,
	}

	execCtx := ctx
	var timeout time.Duration
	if cmd.Limits.TimeoutMs > 0 {
		timeout = time.Duration(cmd.Limits.TimeoutMs) * time.Millisecond
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: cmd.Limits.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: cmd.Limits.MaxOutputBytes}
	execCmd.Stdout = teeTo(stdoutLimited, e.config.Stdout)
	execCmd.Stderr = teeTo(stderrLimited, e.config.Stderr)

	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case timeout > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Success = true // Infrastructure worked, command was killed
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			log.Warn("Command killed (timeout): %s after %s", cmd.Binary, timeout)
		case errors.Is(ctx.Err(), context.Canceled):
			result.Success = true
			result.Killed = true
			result.KillReason = "context canceled"
			log.Debug("Command canceled: %s", cmd.Binary)
		case errors.As(err, &exitErr):
			result.Success = true // Command ran, just returned non-zero
			result.ExitCode = exitErr.ExitCode()
			log.Debug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
		default:
			result.Success = false
			result.Error = err.Error()
			log.Error("Command failed to start: %s - %v", cmd.Binary, err)
			return result, nil
		}
	} else {
		result.Success = true
		result.ExitCode = 0
	}

	log.Debug("Command completed: %s -> exit=%d, duration=%s", cmd.Binary, result.ExitCode, result.Duration)
	return result, nil
}

// buildEnvironment creates the environment variable list.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	var env []string
	if len(e.config.AllowedEnvironment) == 0 {
		env = os.Environ()
	} else {
		for _, key := range e.config.AllowedEnvironment {
			if val, ok := os.LookupEnv(key); ok {
				env = append(env, key+"="+val)
			}
		}
	}
	return append(env, cmdEnv...)
}

func teeTo(capture io.Writer, passthrough io.Writer) io.Writer {
	if passthrough == nil {
		return capture
	}
	return io.MultiWriter(capture, passthrough)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
