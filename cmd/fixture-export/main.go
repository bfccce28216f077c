package main

import (
	"fmt"
	"os"

	"github.com/danielpatrickdp/situation-engine/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region root

var flags struct {
	config  string
	verbose bool
	session string
	last    int
	out     string
}

var rootCmd = &cobra.Command{
	Use:   "fixture-export",
	Short: "Export a journaled session as a replay fixture",
	Long: "Reads one session from the turn journal and writes a replay fixture:\n" +
		"the current corpus, each turn's input and context, user feedback, scripted\n" +
		"action failures and the decisions taken at the time as expected results.",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "config file (yaml)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&flags.session, "session", "", "session id (default: session of the newest turn)")
	f.IntVar(&flags.last, "last", 200, "number of most recent journal rows to scan")
	f.StringVar(&flags.out, "out", "", "output fixture JSON path (required)")
	_ = rootCmd.MarkFlagRequired("out")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion root

// #region run

func run(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := app.Bootstrap(flags.config, flags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	f, err := app.ExportFixture(cmd.Context(), cfg, logger, flags.session, flags.last)
	if err != nil {
		return err
	}
	if err := f.Save(flags.out); err != nil {
		return err
	}
	logger.Debug("fixture written", zap.String("path", flags.out))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d turns, %d start weights, embedder=%s\n",
		flags.out, len(f.Turns), len(f.StartWeights), f.Embedder.Kind)
	return nil
}

// #endregion run
