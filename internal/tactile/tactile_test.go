package tactile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"hello"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success, result.Error)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.Failed())
	assert.Contains(t, result.Output(), "hello")
	assert.NotEmpty(t, result.Command.RequestID, "request id should be assigned")
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "exit 3"},
	})
	require.NoError(t, err)

	// Success should be true (command ran)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
	assert.True(t, result.IsNonZeroExit())
	assert.True(t, result.Failed())
}

func TestDirectExecutor_InvalidCommand(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary: filepath.Join(t.TempDir(), "nonexistent_command_12345"),
	})
	require.NoError(t, err, "start failures are reported in the result")

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.True(t, result.IsError())
	assert.True(t, result.Failed())
}

func TestDirectExecutor_ValidateRejectsEmptyBinary(t *testing.T) {
	executor := NewDirectExecutor()

	_, err := executor.Execute(context.Background(), Command{})
	assert.Error(t, err)
}

func TestDirectExecutor_WorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()
	dir := t.TempDir()

	result, err := executor.Execute(context.Background(), Command{
		Binary:           "pwd",
		WorkingDirectory: dir,
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestDirectExecutor_OutputCaptureAndPassthrough(t *testing.T) {
	skipOnWindows(t)
	var stdout, stderr bytes.Buffer
	executor := NewDirectExecutorWithConfig(ExecutorConfig{
		Stdout: &stdout,
		Stderr: &stderr,
	})

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())
}

func TestDirectExecutor_Truncation(t *testing.T) {
	skipOnWindows(t)
	var passthrough bytes.Buffer
	executor := NewDirectExecutorWithConfig(ExecutorConfig{
		MaxOutputBytes: 4,
		Stdout:         &passthrough,
	})

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"abcdefgh"},
	})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, "abcd", result.Stdout)
	assert.Equal(t, "abcdefgh\n", passthrough.String(), "passthrough is never truncated")
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	start := time.Now()
	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Limits:    &ResourceLimits{TimeoutMs: 200},
	})
	require.NoError(t, err)

	assert.True(t, result.Killed)
	assert.Contains(t, result.KillReason, "timeout")
	assert.True(t, result.Failed())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectExecutor_ContextCancel(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	result, err := executor.Execute(ctx, Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
	})
	require.NoError(t, err)

	assert.True(t, result.Killed)
	assert.Equal(t, "context canceled", result.KillReason)
}

func TestDirectExecutor_Environment(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("NACLBUILD_TACTILE_VISIBLE", "yes")
	t.Setenv("NACLBUILD_TACTILE_HIDDEN", "no")

	t.Run("inherits everything by default", func(t *testing.T) {
		executor := NewDirectExecutor()
		result, err := executor.Execute(context.Background(), Command{
			Binary:    "sh",
			Arguments: []string{"-c", "echo $NACLBUILD_TACTILE_HIDDEN"},
		})
		require.NoError(t, err)
		assert.Equal(t, "no\n", result.Stdout)
	})

	t.Run("allow list filters", func(t *testing.T) {
		executor := NewDirectExecutorWithConfig(ExecutorConfig{
			AllowedEnvironment: []string{"PATH", "NACLBUILD_TACTILE_VISIBLE"},
		})
		result, err := executor.Execute(context.Background(), Command{
			Binary:      "sh",
			Arguments:   []string{"-c", "echo $NACLBUILD_TACTILE_VISIBLE:$NACLBUILD_TACTILE_HIDDEN:$EXTRA"},
			Environment: []string{"EXTRA=added"},
		})
		require.NoError(t, err)
		assert.Equal(t, "yes::added\n", result.Stdout)
	})
}

func TestExecutorConfigMerge(t *testing.T) {
	cfg := ExecutorConfig{
		DefaultWorkingDir: os.TempDir(),
		DefaultTimeout:    2 * time.Second,
		MaxOutputBytes:    64,
	}

	merged := cfg.Merge(Command{Binary: "x"})
	require.NotNil(t, merged.Limits)
	assert.Equal(t, os.TempDir(), merged.WorkingDirectory)
	assert.Equal(t, int64(2000), merged.Limits.TimeoutMs)
	assert.Equal(t, int64(64), merged.Limits.MaxOutputBytes)

	own := &ResourceLimits{TimeoutMs: 5}
	merged = cfg.Merge(Command{Binary: "x", WorkingDirectory: "/w", Limits: own})
	assert.Equal(t, "/w", merged.WorkingDirectory)
	assert.Equal(t, int64(5), merged.Limits.TimeoutMs)
	assert.Equal(t, int64(5), own.TimeoutMs, "caller limits are not mutated")
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "strip", Command{Binary: "strip"}.CommandString())
	assert.Equal(t, "strip in -o out", Command{Binary: "strip", Arguments: []string{"in", "-o", "out"}}.CommandString())
}
