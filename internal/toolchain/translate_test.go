package toolchain

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"naclbuild/internal/config"
	"naclbuild/internal/logging"
	"naclbuild/internal/tactile"
)

// recordingExecutor records every command and fails the one at failAt
// (1-based). failAt zero means every command succeeds.
type recordingExecutor struct {
	commands [][]string
	envs     [][]string
	failAt   int
	rejectAt int
}

func (r *recordingExecutor) Validate(cmd tactile.Command) error { return nil }

func (r *recordingExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	r.commands = append(r.commands, append([]string{cmd.Binary}, cmd.Arguments...))
	r.envs = append(r.envs, cmd.Environment)
	n := len(r.commands)
	if n == r.rejectAt {
		return nil, errors.New("rejected")
	}
	if n == r.failAt {
		return &tactile.ExecutionResult{Success: true, ExitCode: 1, Stderr: "unsupported input"}, nil
	}
	return &tactile.ExecutionResult{Success: true, ExitCode: 0}, nil
}

func newTestDriver(exec tactile.Executor, tempParent string) (*Driver, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	binaries := config.DefaultToolchainConfig()
	binaries.TempDir = tempParent
	return NewDriver(exec, binaries, WithOutput(&stdout, &stderr)), &stdout, &stderr
}

func TestTranslateRunsOncePerTarget(t *testing.T) {
	rec := &recordingExecutor{}
	d, stdout, stderr := newTestDriver(rec, t.TempDir())

	require.NoError(t, d.Translate(context.Background(), "/tc", "in.pexe", "/out/app"))

	translate := filepath.Join("/tc", "bin", "pnacl-translate")
	want := [][]string{
		{translate, "--allow-llvm-bitcode-input", "-arch", "arm", "in.pexe", "-o", "/out/app_arm.nexe"},
		{translate, "--allow-llvm-bitcode-input", "-arch", "x86-32", "in.pexe", "-o", "/out/app_x86_32.nexe"},
		{translate, "--allow-llvm-bitcode-input", "-arch", "x86-64", "in.pexe", "-o", "/out/app_x86_64.nexe"},
	}
	if diff := cmp.Diff(want, rec.commands); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 3, strings.Count(stdout.String(), "Running: "))
	assert.Equal(t, 3, strings.Count(stdout.String(), "Done: "))
	assert.Empty(t, stderr.String())
}

func TestTranslateStopsAtFirstFailure(t *testing.T) {
	rec := &recordingExecutor{failAt: 2}
	d, stdout, stderr := newTestDriver(rec, t.TempDir())

	err := d.Translate(context.Background(), "/tc", "in.pexe", "/out/app")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranslate)

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.ExitCode)
	assert.Contains(t, cerr.Command.Arguments, "x86-32")

	assert.Len(t, rec.commands, 2, "x86-64 must not run after x86-32 fails")
	assert.Equal(t, 1, strings.Count(stdout.String(), "Done: "))
	assert.Contains(t, stderr.String(), "ERROR: ")
}

func TestStripAndTranslateRunsSevenCommands(t *testing.T) {
	rec := &recordingExecutor{}
	parent := t.TempDir()
	d, _, _ := newTestDriver(rec, parent)

	require.NoError(t, d.StripAndTranslate(context.Background(), "/tc", "in.pexe", "/out/app"))
	require.Len(t, rec.commands, 7)

	strip := filepath.Join("/tc", "bin", "pnacl-strip")
	translate := filepath.Join("/tc", "bin", "pnacl-translate")

	first := rec.commands[0]
	require.Len(t, first, 4)
	tempBase := first[3]
	assert.Equal(t, strippedName, filepath.Base(tempBase))
	assert.Equal(t, parent, filepath.Dir(filepath.Dir(tempBase)))

	want := [][]string{
		{strip, "in.pexe", "-o", tempBase},
		{translate, "--allow-llvm-bitcode-input", "-arch", "arm", tempBase, "-o", tempBase + "_arm.nexe"},
		{translate, "--allow-llvm-bitcode-input", "-arch", "x86-32", tempBase, "-o", tempBase + "_x86_32.nexe"},
		{translate, "--allow-llvm-bitcode-input", "-arch", "x86-64", tempBase, "-o", tempBase + "_x86_64.nexe"},
		{strip, tempBase + "_arm.nexe", "-o", "/out/app_arm.nexe"},
		{strip, tempBase + "_x86_32.nexe", "-o", "/out/app_x86_32.nexe"},
		{strip, tempBase + "_x86_64.nexe", "-o", "/out/app_x86_64.nexe"},
	}
	if diff := cmp.Diff(want, rec.commands); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}

	_, err := os.Stat(filepath.Dir(tempBase))
	assert.True(t, os.IsNotExist(err), "temp dir should be removed")
}

func TestStripAndTranslateRemovesTempDirOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		exec     *recordingExecutor
		wantKind error
		wantRuns int
	}{
		{"initial strip fails", &recordingExecutor{failAt: 1}, ErrStrip, 1},
		{"translate fails", &recordingExecutor{failAt: 3}, ErrTranslate, 3},
		{"final strip fails", &recordingExecutor{failAt: 6}, ErrStrip, 6},
		{"executor rejects", &recordingExecutor{rejectAt: 2}, ErrTranslate, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			d, _, _ := newTestDriver(tt.exec, parent)

			err := d.StripAndTranslate(context.Background(), "/tc", "in.pexe", "/out/app")
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Len(t, tt.exec.commands, tt.wantRuns)

			entries, readErr := os.ReadDir(parent)
			require.NoError(t, readErr)
			assert.Empty(t, entries, "temp dir should be removed after failure")
		})
	}
}

func TestRunDispatchesOnConfiguration(t *testing.T) {
	tests := []struct {
		configuration string
		want          int
	}{
		{"Release", 7},
		{"Debug", 3},
		{"", 3},
		{"release", 3},
	}
	for _, tt := range tests {
		t.Run(tt.configuration, func(t *testing.T) {
			rec := &recordingExecutor{}
			d, _, _ := newTestDriver(rec, t.TempDir())

			err := d.Run(context.Background(), Options{
				ToolchainRoot: "/tc",
				Input:         "in.pexe",
				OutputBase:    "/out/app",
				Configuration: tt.configuration,
			})
			require.NoError(t, err)
			assert.Len(t, rec.commands, tt.want)
		})
	}
}

func TestRunRejectsMissingOptionsBeforeExecuting(t *testing.T) {
	full := Options{ToolchainRoot: "/tc", Input: "in.pexe", OutputBase: "/out/app"}
	tests := []struct {
		name    string
		mutate  func(*Options)
		message string
	}{
		{"toolchain_root", func(o *Options) { o.ToolchainRoot = "" }, "toolchain_root is not set"},
		{"input", func(o *Options) { o.Input = "" }, "input is not set"},
		{"output_base", func(o *Options) { o.OutputBase = "" }, "output_base is not set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)

			rec := &recordingExecutor{}
			d, _, _ := newTestDriver(rec, t.TempDir())

			err := d.Run(context.Background(), opts)
			assert.ErrorIs(t, err, ErrMissingOption)
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, rec.commands)
		})
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{
		Kind:     ErrStrip,
		Command:  tactile.Command{Binary: "strip", Arguments: []string{"a", "-o", "b"}},
		ExitCode: 2,
	}
	assert.Equal(t, "strip error: strip a -o b: exit status 2", err.Error())

	err.Reason = "timeout after 1s"
	assert.Equal(t, "strip error: strip a -o b: timeout after 1s", err.Error())
}

func TestCommandsCarryToolchainEnvironment(t *testing.T) {
	rec := &recordingExecutor{}
	binaries := config.DefaultToolchainConfig()
	binaries.TempDir = t.TempDir()
	binaries.Env = map[string]string{"PNACL_BUILDONLY": "1"}
	d := NewDriver(rec, binaries, WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))

	require.NoError(t, d.StripAndTranslate(context.Background(), "/tc", "in.pexe", "/out/app"))
	require.Len(t, rec.envs, 7)
	want := []string{"TMPDIR=" + binaries.TempDir, "PNACL_BUILDONLY=1"}
	for i, env := range rec.envs {
		if diff := cmp.Diff(want, env); diff != "" {
			t.Errorf("command %d env mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestCommandErrorCarriesOutput(t *testing.T) {
	rec := &recordingExecutor{failAt: 1}
	d, _, _ := newTestDriver(rec, t.TempDir())

	err := d.Translate(context.Background(), "/tc", "in.pexe", "/out/app")
	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.ExitCode)
	assert.Equal(t, "unsupported input", cerr.Output)
}

func TestDriverLogsToolchainTMPDIR(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetBase(zap.New(core))
	t.Cleanup(func() { logging.SetBase(nil) })

	binaries := config.DefaultToolchainConfig()
	binaries.TempDir = "/scratch"
	NewDriver(&recordingExecutor{}, binaries)

	assert.Equal(t, 1, logs.FilterMessage("Toolchain TMPDIR=/scratch").Len())
}
