package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danielpatrickdp/situation-engine/internal/app"
	"github.com/danielpatrickdp/situation-engine/internal/replay"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region root

var flags struct {
	config  string
	verbose bool
	journal bool
	session string
	last    int
}

// errDrift is returned when any replay diverges.
var errDrift = errors.New("replay diverged from expectations")

var rootCmd = &cobra.Command{
	Use:   "replay [fixture.json ...]",
	Short: "Replay recorded turns and compare decisions",
	Long: "Fixture mode replays each fixture file under its own config.\n" +
		"Journal mode (--journal) exports a session from the configured journal and\n" +
		"replays it under the live config, reporting drift since it was recorded.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "config file (yaml)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&flags.journal, "journal", false, "replay a journaled session instead of fixture files")
	f.StringVar(&flags.session, "session", "", "journal session id (default: newest)")
	f.IntVar(&flags.last, "last", 200, "journal rows to scan")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion root

// #region run

func run(cmd *cobra.Command, args []string) error {
	if flags.journal == (len(args) > 0) {
		return fmt.Errorf("give fixture files or --journal, not both")
	}
	cfg, logger, err := app.Bootstrap(flags.config, flags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	drift := 0

	if flags.journal {
		f, err := app.ExportFixture(ctx, cfg, logger, flags.session, flags.last)
		if err != nil {
			return err
		}
		rc, err := app.ReplayConfig(cfg)
		if err != nil {
			return err
		}
		results, summary, err := replay.RunFixtureWith(ctx, f, rc, logger)
		if err != nil {
			return err
		}
		drift += report(out, f, results, summary)
	}

	for _, path := range args {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return err
		}
		results, summary, err := replay.RunFixture(ctx, f, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "== %s: %s\n", path, f.Description)
		drift += report(out, f, results, summary)
		logger.Debug("fixture replayed", zap.String("path", path), zap.Int("turns", summary.TotalTurns))
	}

	if drift > 0 {
		return errDrift
	}
	return nil
}

// #endregion run

// #region output

// report prints the per-turn comparison table and returns the mismatch count.
func report(out io.Writer, f *replay.Fixture, results []replay.ReplayResult, summary replay.ReplaySummary) int {
	expected := make(map[string]replay.FixtureExpectedResult, len(f.ExpectedResults))
	for _, e := range f.ExpectedResults {
		expected[e.TurnID] = e
	}

	fmt.Fprintf(out, "%-10s| %-13s| %-13s| %-18s| %s\n", "Turn", "Expected", "Replayed", "Situation", "Actions")
	fmt.Fprintf(out, "%-10s+%-14s+%-14s+%-19s+%s\n",
		"----------", "--------------", "--------------", "-------------------", "--------------------")
	for _, r := range results {
		exp := expected[r.TurnID].Kind
		if exp == "" {
			exp = "-"
		}
		fmt.Fprintf(out, "%-10s| %-13s| %-13s| %-18s| %s\n",
			shortID(r.TurnID), exp, r.Kind, r.Situation, strings.Join(r.Actions, ","))
	}

	diffs := replay.Verify(f, results, summary)
	fmt.Fprintf(out, "\nSummary: %d turns, %d executed, %d clarified, %d fallback, %d acknowledged, %d feedback events, %d errors\n",
		summary.TotalTurns, summary.Executed, summary.Clarified, summary.Fallbacks, summary.Acknowledged, summary.FeedbackEvents, summary.Errors)
	for _, d := range diffs {
		fmt.Fprintf(out, "  DIFF %s\n", d)
	}
	if len(diffs) == 0 {
		fmt.Fprintln(out, "  OK")
	}
	fmt.Fprintln(out)
	return len(diffs)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
