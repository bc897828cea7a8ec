// Command pnacl_translate turns a portable bitcode file into one native
// executable per target architecture using the pnacl toolchain.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"naclbuild/internal/cli"
	"naclbuild/internal/config"
	"naclbuild/internal/logging"
	"naclbuild/internal/tactile"
	"naclbuild/internal/toolchain"
)

type translateFlags struct {
	cli.GlobalFlags
	toolchainRoot string
	input         string
	outputBase    string
	configuration string
}

func newRootCmd() *cobra.Command {
	f := &translateFlags{}
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "pnacl_translate",
		Short: "Translate a pexe into arm, x86-32 and x86-64 nexes",
		Long: `Runs pnacl-translate once per target architecture, writing
<output_base>_arm.nexe, <output_base>_x86_32.nexe and <output_base>_x86_64.nexe.

With --configuration=Release the input is stripped first and every
translated output is stripped into place through a temporary directory.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = f.Setup()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, f, cfg)
		},
	}

	f.Register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&f.toolchainRoot, "toolchain_root", "", "Root directory of the pnacl toolchain")
	flags.StringVar(&f.input, "input", "", "Input pexe file")
	flags.StringVar(&f.outputBase, "output_base", "", "Output path prefix; the target suffix and .nexe are appended")
	flags.StringVar(&f.configuration, "configuration", "", "Build configuration; Release strips")
	return cmd
}

func runTranslate(cmd *cobra.Command, f *translateFlags, cfg *config.Config) error {
	opts := toolchain.Options{
		ToolchainRoot: f.toolchainRoot,
		Input:         f.input,
		OutputBase:    f.outputBase,
		Configuration: f.configuration,
	}
	if opts.ToolchainRoot == "" {
		opts.ToolchainRoot = cfg.Toolchain.Root
	}
	// Checked here so nothing runs before a missing option is reported.
	if err := opts.Validate(); err != nil {
		return cli.Exit(1, err)
	}

	execCfg := tactile.DefaultExecutorConfig()
	execCfg.Stdout = cmd.OutOrStdout()
	execCfg.Stderr = cmd.ErrOrStderr()
	executor := tactile.NewDirectExecutorWithConfig(execCfg)

	driver := toolchain.NewDriver(executor, cfg.Toolchain,
		toolchain.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))

	logging.Boot("pnacl_translate starting (root=%s)", opts.ToolchainRoot)
	if err := driver.Run(cmd.Context(), opts); err != nil {
		return cli.Exit(1, err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, newRootCmd(), os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
