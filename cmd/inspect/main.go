package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/situation-engine/internal/app"
	"github.com/danielpatrickdp/situation-engine/internal/config"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region root

var rootFlags struct {
	config  string
	verbose bool
	jsonOut bool
	limit   int
}

var rootCmd = &cobra.Command{
	Use:          "inspect",
	Short:        "Inspect learned weights and the turn journal",
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", "", "config file (yaml)")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&rootFlags.jsonOut, "json", false, "output as JSON instead of table")
	f.IntVar(&rootFlags.limit, "last", 20, "show N most recent rows")

	rootCmd.AddCommand(weightsCmd, historyCmd, turnsCmd, feedbackCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withStores runs fn against the configured stores.
func withStores(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, st *app.Stores, logger *zap.Logger) error) error {
	cfg, logger, err := app.Bootstrap(rootFlags.config, rootFlags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	st, err := app.OpenStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.Close()
	return fn(cmd.Context(), cfg, st, logger)
}

// #endregion root

// #region weights

type weightRow struct {
	Situation string  `json:"situation"`
	Action    string  `json:"action"`
	Weight    float64 `json:"weight"`
	UpdatedAt string  `json:"updated_at"`
}

var weightsCmd = &cobra.Command{
	Use:   "weights [situation]",
	Short: "List effective learned weights (decay applied)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, cfg *config.Config, st *app.Stores, logger *zap.Logger) error {
			l, err := learner.New(st.Weights, cfg.UpdateConfig(), logger)
			if err != nil {
				return err
			}
			if err := l.Load(ctx); err != nil {
				return err
			}
			var rows []weightRow
			for _, w := range l.Snapshot() {
				if len(args) == 1 && w.SituationKey != args[0] {
					continue
				}
				rows = append(rows, weightRow{
					Situation: w.SituationKey,
					Action:    w.ActionKey,
					Weight:    w.Weight,
					UpdatedAt: w.UpdatedAt.Format("2006-01-02T15:04:05Z"),
				})
			}
			out := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return printJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no learned weights (every pair is at 1.0)")
				return nil
			}
			fmt.Fprintf(out, "%-20s  %-28s  %8s  %s\n", "Situation", "Action", "Weight", "Updated")
			fmt.Fprintf(out, "%-20s+-%-28s+-%8s+-%s\n", "--------------------", "----------------------------", "--------", "--------------------")
			for _, r := range rows {
				fmt.Fprintf(out, "%-20s  %-28s  %8.4f  %s\n", r.Situation, r.Action, r.Weight, r.UpdatedAt)
			}
			return nil
		})
	},
}

// #endregion weights

// #region history

var historyCmd = &cobra.Command{
	Use:   "history [situation]",
	Short: "Show weight change history (sqlite backend only)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, _ *config.Config, st *app.Stores, _ *zap.Logger) error {
			if st.SQLite == nil {
				return fmt.Errorf("history is only recorded by the sqlite weights backend")
			}
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			entries, err := st.SQLite.History(ctx, key, rootFlags.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return printJSON(out, entries)
			}
			fmt.Fprintf(out, "%-6s  %-20s  %-28s  %8s  %8s  %-9s  %s\n", "ID", "Situation", "Action", "Before", "After", "Outcome", "Turn")
			for _, e := range entries {
				fmt.Fprintf(out, "%-6d  %-20s  %-28s  %8.4f  %8.4f  %-9s  %s\n",
					e.ID, e.SituationKey, e.ActionKey, e.Before, e.After, e.Outcome, shortID(e.TurnID))
			}
			return nil
		})
	},
}

// #endregion history

// #region journal

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "List recent turns from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStores(cmd, func(_ context.Context, _ *config.Config, st *app.Stores, _ *zap.Logger) error {
			turns, err := logging.RecentTurns(st.Journal, rootFlags.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return printJSON(out, turns)
			}
			fmt.Fprintf(out, "%-8s  %-10s  %-20s  %6s  %s\n", "Turn", "Decision", "Situation", "Score", "Utterance")
			for i := len(turns) - 1; i >= 0; i-- {
				t := turns[i]
				fmt.Fprintf(out, "%-8s  %-10s  %-20s  %6.3f  %q\n",
					shortID(t.TurnID), t.Decision, t.Situation, t.BestScore, t.Utterance)
			}
			return nil
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [turn-id]",
	Short: "List recent feedback events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(_ context.Context, _ *config.Config, st *app.Stores, _ *zap.Logger) error {
			turnID := ""
			if len(args) == 1 {
				turnID = args[0]
			}
			events, err := logging.RecentFeedback(st.Journal, turnID, rootFlags.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return printJSON(out, events)
			}
			fmt.Fprintf(out, "%-8s  %-20s  %-28s  %-9s  %-9s  %8s  %8s  %s\n",
				"Turn", "Situation", "Action", "Outcome", "Source", "Before", "After", "Saved")
			for _, e := range events {
				fmt.Fprintf(out, "%-8s  %-20s  %-28s  %-9s  %-9s  %8.4f  %8.4f  %t\n",
					shortID(e.TurnID), e.SituationKey, e.ActionKey, e.Outcome, e.Source, e.Before, e.After, e.Persisted)
			}
			return nil
		})
	},
}

// #endregion journal

// #region reset

var resetCmd = &cobra.Command{
	Use:   "reset <situation>",
	Short: "Forget every learned weight for a situation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd, func(ctx context.Context, cfg *config.Config, st *app.Stores, logger *zap.Logger) error {
			l, err := learner.New(st.Weights, cfg.UpdateConfig(), logger)
			if err != nil {
				return err
			}
			if err := l.Load(ctx); err != nil {
				return err
			}
			n, err := l.Reset(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s: %d weights cleared\n", args[0], n)
			return nil
		})
	},
}

// #endregion reset

// #region helpers

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
