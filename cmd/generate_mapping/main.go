// Command generate_mapping converts a tab-separated key mapping file into a
// C++ lookup table source.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"naclbuild/internal/cli"
	"naclbuild/internal/config"
	"naclbuild/internal/keymap"
	"naclbuild/internal/logging"
)

type mappingFlags struct {
	cli.GlobalFlags
	mapName    string
	keyType    string
	resultType string
	filename   string
	output     string
	watch      bool
}

func newRootCmd() *cobra.Command {
	f := &mappingFlags{}
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "generate_mapping",
		Short: "Generate a C++ key mapping table from a TSV file",
		Long: `Reads lines of "<key>\t<value>" and emits assignments into
k<mapname> or, for keys prefixed with "Shift ", k<mapname>Shift.

Output goes to stdout unless --output is given. With --watch the output is
regenerated whenever the input file changes.`,
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
	flags.StringVar(&f.mapName, "mapname", "", "Name of the generated map")
	flags.StringVar(&f.keyType, "key_type", "", "C++ key type (default from config, normally unsigned short)")
	flags.StringVar(&f.resultType, "result_type", "", "C++ value type")
	flags.StringVar(&f.filename, "filename", "", "Input TSV file")
	flags.StringVarP(&f.output, "output", "o", "", "Write to this file instead of stdout")
	flags.BoolVar(&f.watch, "watch", false, "Regenerate --output whenever the input changes")
	return cmd
}

func runGenerate(cmd *cobra.Command, f *mappingFlags, cfg *config.Config) error {
	if f.mapName == "" {
		return cli.Errorf(2, "the output map name should be specified.")
	}
	keyType := f.keyType
	if keyType == "" {
		keyType = cfg.Keymap.DefaultKeyType
	}
	if f.resultType == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error: the result type of the output map should be specified.")
	}
	if f.filename == "" {
		return cli.Errorf(2, "the file name is not specified.")
	}

	gen := keymap.New(keymap.Options{
		MapName:    f.mapName,
		KeyType:    keyType,
		ResultType: f.resultType,
	})

	if f.watch {
		return watch(cmd.Context(), gen, f)
	}

	var (
		stats keymap.Stats
		err   error
	)
	if f.output != "" {
		stats, err = gen.WriteFile(f.filename, f.output)
	} else {
		stats, err = gen.GenerateFile(f.filename, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	logging.Keymap("Generated %s: %d entries (%d shifted), %d lines skipped",
		f.mapName, stats.Emitted, stats.Shifted, stats.Skipped)
	return nil
}

func watch(ctx context.Context, gen *keymap.Generator, f *mappingFlags) error {
	w, err := keymap.NewWatcher(gen, f.filename, f.output)
	if err != nil {
		return cli.Exit(2, err)
	}
	if err := w.Start(ctx); err != nil {
		select {
		case <-w.Done():
			return err
		default:
			// Keep watching; the next save may fix the input.
		}
	}
	<-w.Done()
	logging.Keymap("Stopped watching %s", f.filename)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, newRootCmd(), os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
