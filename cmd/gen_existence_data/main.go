// Command gen_existence_data builds an existence filter over the lines of a
// text file and writes it as a C++ header or a raw binary image.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"naclbuild/internal/cli"
	"naclbuild/internal/config"
	"naclbuild/internal/existence"
)

type existenceFlags struct {
	cli.GlobalFlags
	input     string
	output    string
	namespace string
	errorRate float64
	binary    bool
}

func newRootCmd() *cobra.Command {
	f := &existenceFlags{}
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "gen_existence_data",
		Short: "Generate an existence filter from a word list",
		Long: `Reads one entry per line from --input, sizes a Bloom filter for the
requested false positive rate and writes it to --output.

By default the output is a C++ header defining kExistenceFilter_data inside
--namespace. With --binary the raw filter image is written instead.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = f.Setup()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f, cfg)
		},
	}

	f.Register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&f.input, "input", "", "Input file with one entry per line")
	flags.StringVar(&f.output, "output", "", "Output file")
	flags.StringVar(&f.namespace, "namespace", "", "C++ namespace of the generated header")
	flags.Float64Var(&f.errorRate, "error_rate", existence.DefaultErrorRate, "False positive rate")
	flags.BoolVar(&f.binary, "binary", false, "Write the raw filter image instead of a header")
	return cmd
}

func runGenerate(cmd *cobra.Command, f *existenceFlags, cfg *config.Config) error {
	switch {
	case f.input == "":
		return cli.Errorf(1, "input is not set.")
	case f.output == "":
		return cli.Errorf(1, "output is not set.")
	case !f.binary && f.namespace == "":
		return cli.Errorf(1, "namespace is not set.")
	}

	errorRate := f.errorRate
	if !cmd.Flags().Changed("error_rate") {
		errorRate = cfg.Existence.ErrorRate
	}

	return existence.GenerateFile(existence.Options{
		Input:     f.input,
		Output:    f.output,
		Namespace: f.namespace,
		ErrorRate: errorRate,
		Binary:    f.binary,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, newRootCmd(), os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
