package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/situation-engine/internal/app"
	"github.com/danielpatrickdp/situation-engine/internal/eval"
	"github.com/spf13/cobra"
)

// #region root

var flags struct {
	config      string
	verbose     bool
	cases       string
	minAccuracy float64
	parallelism int
	jsonOut     bool
}

var errFailed = errors.New("evaluation below threshold")

var rootCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score situation detection against labeled queries",
	Long: "Runs every query in the cases file through match and resolve (no planning,\n" +
		"no execution, no learning) and reports accuracy, ambiguity and latency.",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         run,
}

func init() {
	d := eval.DefaultEvalConfig()
	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "config file (yaml)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&flags.cases, "cases", "", "labeled cases YAML (required)")
	f.Float64Var(&flags.minAccuracy, "min-accuracy", d.MinAccuracy, "fail below this accuracy")
	f.IntVar(&flags.parallelism, "parallelism", d.Parallelism, "concurrent detections")
	f.BoolVar(&flags.jsonOut, "json", false, "output as JSON")
	_ = rootCmd.MarkFlagRequired("cases")
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

	cases, err := eval.LoadCases(flags.cases)
	if err != nil {
		return err
	}
	rt, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	h := eval.NewEvalHarness(eval.EvalConfig{
		MinAccuracy: flags.minAccuracy,
		Parallelism: flags.parallelism,
	}, rt.Engine)
	res, err := h.Run(cmd.Context(), cases)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Passed {
		return errFailed
	}
	return nil
}

// #endregion run

// #region output

func printResult(out io.Writer, res eval.EvalResult) {
	misses := 0
	for _, c := range res.Cases {
		if c.Correct {
			continue
		}
		if misses == 0 {
			fmt.Fprintf(out, "%-32s  %-16s  %-16s  %6s  %s\n", "Query", "Expected", "Predicted", "Score", "Candidates")
		}
		misses++
		expect := c.Case.Expect
		if expect == "" {
			expect = eval.NoMatch
		}
		fmt.Fprintf(out, "%-32q  %-16s  %-16s  %6.3f  %s\n",
			truncate(c.Case.Query, 30), expect, c.Predicted, c.BestScore, strings.Join(c.Candidates, ","))
	}
	if misses > 0 {
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%-20s  %10s  %s\n", "Metric", "Value", "Pass")
	for _, m := range res.Metrics {
		fmt.Fprintf(out, "%-20s  %10.4f  %t\n", m.Name, m.Value, m.Pass)
	}

	if len(res.Confusion) > 0 {
		fmt.Fprintln(out, "\nConfusion (expected -> predicted):")
		expected := make([]string, 0, len(res.Confusion))
		for k := range res.Confusion {
			expected = append(expected, k)
		}
		sort.Strings(expected)
		for _, e := range expected {
			row := res.Confusion[e]
			predicted := make([]string, 0, len(row))
			for p := range row {
				predicted = append(predicted, p)
			}
			sort.Strings(predicted)
			parts := make([]string, len(predicted))
			for i, p := range predicted {
				parts[i] = fmt.Sprintf("%s=%d", p, row[p])
			}
			fmt.Fprintf(out, "  %-16s  %s\n", e, strings.Join(parts, " "))
		}
	}

	verdict := "PASS"
	if !res.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(out, "\n%s: %s\n", verdict, res.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// #endregion output
