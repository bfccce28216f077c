package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danielpatrickdp/situation-engine/internal/app"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region root
var rootFlags struct {
	config  string
	verbose bool
	ctx     string
}

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Interactive situation engine",
	Long: "Reads utterances from stdin, detects the situation, runs the adapted plan\n" +
		"and learns from replies like \"thanks\" or \"that didn't help\".\n\n" +
		"Commands:\n" +
		"  /ctx battery=15 hour=23 conn=wifi,hotspot   override probed context\n" +
		"  /ctx clear                                   drop overrides\n" +
		"  /state                                       show session state\n" +
		"  quit | exit",
	SilenceUsage: true,
	RunE:         runController,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", "", "config file (yaml)")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().StringVar(&rootFlags.ctx, "ctx", "", "initial context override, e.g. \"battery=15 hour=23\"")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion root

// #region repl
func runController(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := app.Bootstrap(rootFlags.config, rootFlags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.WatchCorpus(ctx); err != nil {
		logger.Warn("corpus watch disabled", zap.Error(err))
	}

	var override signals.Override
	if rootFlags.ctx != "" {
		if override, err = signals.ParseOverride(rootFlags.ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	sess := rt.Engine.NewSession()
	fmt.Fprintln(out, "Situation engine ready.")
	fmt.Fprintf(out, "  corpus: %s (%d situations) | weights: %s\n",
		cfg.CorpusPath, rt.Matcher.Corpus().Len(), cfg.Weights.Backend)
	fmt.Fprintln(out, "Say something (or 'quit' to exit):")

	return repl(ctx, cmd.InOrStdin(), out, sess, rt.Signals, override, logger)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session, producer *signals.Producer, override signals.Override, logger *zap.Logger) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return nil
		case line == "/state":
			fmt.Fprintf(out, "state=%s pending=%v\n", sess.State(), sess.Pending())
			continue
		case line == "/ctx clear":
			override = signals.Override{}
			fmt.Fprintln(out, "context overrides cleared")
			continue
		case strings.HasPrefix(line, "/ctx"):
			o, err := signals.ParseOverride(strings.TrimPrefix(line, "/ctx"))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			override = mergeOverride(override, o)
			fmt.Fprintf(out, "context: %s\n", override.Apply(producer.Produce(ctx)))
			continue
		}

		snap := override.Apply(producer.Produce(ctx))
		turn, err := sess.Input(ctx, line, snap)
		if err != nil {
			logger.Warn("turn failed", zap.String("turn_id", turn.ID), zap.Error(err))
		}
		printTurn(out, turn, snap)
	}
	return scanner.Err()
}

func printTurn(out io.Writer, turn session.Turn, snap signals.Snapshot) {
	fmt.Fprintf(out, "\n%s\n", turn.Response)
	for _, r := range turn.Results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.FailureReason
		}
		fmt.Fprintf(out, "  - %s [%s]\n", r.Action, status)
	}
	for _, adj := range turn.Plan.Adjustments {
		fmt.Fprintf(out, "  * %s\n", adj.Reason)
	}
	fmt.Fprintf(out, "[%s] kind=%s situation=%q context=%s\n\n", short(turn.ID), turn.Kind, turn.Situation(), snap)
}

// #endregion repl

// #region helpers
func mergeOverride(base, next signals.Override) signals.Override {
	if next.Battery != nil {
		base.Battery = next.Battery
	}
	if next.Hour != nil {
		base.Hour = next.Hour
	}
	if next.Connectivity != nil {
		base.Connectivity = next.Connectivity
	}
	return base
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
