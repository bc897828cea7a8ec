// Package toolchain drives the pnacl translate and strip binaries to turn one
// portable bitcode file into a native executable per target architecture.
//
// Every step runs sequentially and the first failing command aborts the rest.
// Release builds strip the input first, translate the stripped copy inside a
// temporary directory, then strip each translated output into place; the
// temporary directory is removed on every exit path.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"naclbuild/internal/build"
	"naclbuild/internal/config"
	"naclbuild/internal/logging"
	"naclbuild/internal/tactile"
)

// ReleaseConfiguration is the only configuration that strips.
const ReleaseConfiguration = "Release"

// strippedName is the base name of the stripped intermediate.
const strippedName = "stripped"

var (
	// ErrTranslate marks a failed translate invocation.
	ErrTranslate = errors.New("translate error")
	// ErrStrip marks a failed strip invocation.
	ErrStrip = errors.New("strip error")
	// ErrMissingOption marks an unset required option.
	ErrMissingOption = errors.New("required option not set")
)

// Target is one output architecture.
type Target struct {
	// Arch is the value passed to -arch.
	Arch string
	// Suffix is appended to the output base.
	Suffix string
}

// Targets lists the architectures every build produces, in build order.
var Targets = []Target{
	{Arch: "arm", Suffix: "arm"},
	{Arch: "x86-32", Suffix: "x86_32"},
	{Arch: "x86-64", Suffix: "x86_64"},
}

// OutputPath returns <base>_<suffix>.nexe.
func OutputPath(base string, t Target) string {
	return fmt.Sprintf("%s_%s.nexe", base, t.Suffix)
}

// CommandError reports a toolchain command that did not succeed.
type CommandError struct {
	// Kind is ErrTranslate or ErrStrip.
	Kind error
	// Command is the command that failed.
	Command tactile.Command
	// ExitCode is the child's exit code, -1 when it did not run to completion.
	ExitCode int
	// Reason holds the start failure or kill reason, if any.
	Reason string
	// Output is the captured stdout and stderr of the command.
	Output string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Command.CommandString())
	if e.Reason != "" {
		return msg + ": " + e.Reason
	}
	return fmt.Sprintf("%s: exit status %d", msg, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Kind
}

// Options are the inputs of one driver run.
type Options struct {
	ToolchainRoot string
	Input         string
	OutputBase    string
	Configuration string
}

// MissingOptionError names an unset required option. It matches
// ErrMissingOption under errors.Is.
type MissingOptionError struct {
	Name string
}

func (e *MissingOptionError) Error() string {
	return e.Name + " is not set."
}

func (e *MissingOptionError) Is(target error) bool {
	return target == ErrMissingOption
}

// Validate checks required options in flag order and reports the first
// missing one.
func (o Options) Validate() error {
	switch {
	case o.ToolchainRoot == "":
		return &MissingOptionError{Name: "toolchain_root"}
	case o.Input == "":
		return &MissingOptionError{Name: "input"}
	case o.OutputBase == "":
		return &MissingOptionError{Name: "output_base"}
	}
	return nil
}

// Release reports whether the options select the strip-and-translate path.
func (o Options) Release() bool {
	return o.Configuration == ReleaseConfiguration
}

// Driver runs toolchain commands through an Executor.
type Driver struct {
	executor tactile.Executor
	binaries config.ToolchainConfig
	env      []string
	stdout   io.Writer
	stderr   io.Writer
}

// Option configures a Driver.
type Option func(*Driver)

// WithOutput sets where progress lines are printed. Defaults are the
// process stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(d *Driver) {
		d.stdout = stdout
		d.stderr = stderr
	}
}

// NewDriver creates a driver.
func NewDriver(executor tactile.Executor, binaries config.ToolchainConfig, opts ...Option) *Driver {
	d := &Driver{
		executor: executor,
		binaries: binaries,
		env:      build.ToolEnv(binaries),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(d)
	}
	if tmp, ok := build.Lookup(d.env, "TMPDIR"); ok {
		logging.ToolchainDebug("Toolchain TMPDIR=%s", tmp)
	}
	return d
}

// Run validates opts and dispatches to StripAndTranslate for Release builds
// and Translate otherwise.
func (d *Driver) Run(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	timer := logging.StartTimer(logging.CategoryToolchain, "pnacl build")
	defer timer.StopWithInfo()

	logging.Toolchain("Building %s -> %s_*.nexe (configuration=%q)", opts.Input, opts.OutputBase, opts.Configuration)
	if opts.Release() {
		return d.StripAndTranslate(ctx, opts.ToolchainRoot, opts.Input, opts.OutputBase)
	}
	return d.Translate(ctx, opts.ToolchainRoot, opts.Input, opts.OutputBase)
}

// Translate runs the translate binary once per target, writing
// <outputBase>_<suffix>.nexe.
func (d *Driver) Translate(ctx context.Context, toolchainRoot, inputFile, outputBase string) error {
	translate := d.binaries.TranslatePath(toolchainRoot)
	for _, t := range Targets {
		cmd := tactile.Command{
			Binary: translate,
			Arguments: []string{
				"--allow-llvm-bitcode-input",
				"-arch", t.Arch,
				inputFile,
				"-o", OutputPath(outputBase, t),
			},
		}
		if err := d.run(ctx, ErrTranslate, cmd); err != nil {
			return err
		}
	}
	return nil
}

// StripAndTranslate strips inputFile, translates the stripped copy for every
// target inside a temporary directory and strips each result into
// <outputBase>_<suffix>.nexe.
func (d *Driver) StripAndTranslate(ctx context.Context, toolchainRoot, inputFile, outputBase string) (err error) {
	strip := d.binaries.StripPath(toolchainRoot)

	tempDir, err := os.MkdirTemp(d.binaries.TempDir, "pnacl_translate")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			logging.ToolchainError("Failed to remove temp dir %s: %v", tempDir, rmErr)
			if err == nil {
				err = fmt.Errorf("failed to remove temp dir: %w", rmErr)
			}
			return
		}
		logging.ToolchainDebug("Removed temp dir %s", tempDir)
	}()
	logging.ToolchainDebug("Using temp dir %s", tempDir)

	tempBase := filepath.Join(tempDir, strippedName)
	if err := d.run(ctx, ErrStrip, stripCommand(strip, inputFile, tempBase)); err != nil {
		return err
	}

	if err := d.Translate(ctx, toolchainRoot, tempBase, tempBase); err != nil {
		return err
	}

	for _, t := range Targets {
		if err := d.run(ctx, ErrStrip, stripCommand(strip, OutputPath(tempBase, t), OutputPath(outputBase, t))); err != nil {
			return err
		}
	}
	return nil
}

func stripCommand(strip, in, out string) tactile.Command {
	return tactile.Command{
		Binary:    strip,
		Arguments: []string{in, "-o", out},
	}
}

// run executes one command with Running/Done/ERROR progress lines.
func (d *Driver) run(ctx context.Context, kind error, cmd tactile.Command) error {
	cmd.Environment = d.env
	line := cmd.CommandString()
	fmt.Fprintf(d.stdout, "Running: %s\n", line)

	result, err := d.executor.Execute(ctx, cmd)
	if err != nil {
		fmt.Fprintf(d.stderr, "ERROR: %s\n", line)
		return &CommandError{Kind: kind, Command: cmd, ExitCode: -1, Reason: err.Error()}
	}
	if result.Failed() {
		fmt.Fprintf(d.stderr, "ERROR: %s\n", line)
		cerr := &CommandError{Kind: kind, Command: cmd, ExitCode: result.ExitCode, Output: result.Output()}
		switch {
		case result.Error != "":
			cerr.Reason = result.Error
		case result.Killed:
			cerr.Reason = result.KillReason
		}
		logging.ToolchainError("%v", cerr)
		if result.IsNonZeroExit() && cerr.Output != "" {
			logging.ToolchainDebug("Output of failed command:\n%s", cerr.Output)
		}
		return cerr
	}

	logging.ToolchainDebug("%s finished in %s", cmd.Binary, result.Duration)
	fmt.Fprintf(d.stdout, "Done: %s\n", line)
	return nil
}
