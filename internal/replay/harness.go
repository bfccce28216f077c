package replay

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"go.uber.org/zap"
)

// #region types
// Interaction represents a single recorded turn for replay.
type Interaction struct {
	TurnID   string
	Input    string
	Context  signals.Snapshot
	Feedback update.Outcome // applied after the turn executes; empty = none
	Failures []string       // action names the executor reports as failed
}

// ReplayConfig bundles the component configs for a replay run.
type ReplayConfig struct {
	GateConfig    gate.GateConfig
	UpdateConfig  update.UpdateConfig
	PlannerConfig planner.Config
	Policy        session.Policy
}

// ReplayResult captures the outcome of replaying one interaction through the full pipeline.
type ReplayResult struct {
	TurnID     string
	Input      string
	Kind       string // session.TurnKind
	Decision   string // gate.DecisionKind
	Selected   bool
	Situation  string
	Candidates []string
	Actions    []string
	Failed     []string
	Reason     string
	Err        string

	Adjustments []learner.Adjustment
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns     int
	Executed       int
	Clarified      int
	Fallbacks      int
	Acknowledged   int
	Errors         int
	FeedbackEvents int
	FinalWeights   []state.WeightRecord
}

// #endregion types

// #region scripted-executor
// scriptedExecutor succeeds on everything except the current turn's
// failure list.
type scriptedExecutor struct {
	fail map[string]bool
}

func (s *scriptedExecutor) Execute(_ context.Context, a situation.Action) executor.Result {
	if s.fail[a.Name()] || s.fail[a.Key()] {
		return executor.Result{Action: a, FailureReason: "scripted failure"}
	}
	return executor.Result{Action: a, Success: true}
}

// #endregion scripted-executor

// #region replay
// Replay runs interactions through one session of a fresh in-memory engine:
// match → resolve → plan → execute → learn. Weights start from start.
func Replay(ctx context.Context, corpus *situation.Corpus, emb embedding.Embedder, start []state.WeightRecord, interactions []Interaction, config ReplayConfig, logger *zap.Logger) ([]ReplayResult, ReplaySummary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var summary ReplaySummary

	m := matcher.New(emb, matcher.DefaultConfig(), logger)
	if err := m.Reload(ctx, corpus); err != nil {
		return nil, summary, fmt.Errorf("build index: %w", err)
	}
	l, err := learner.New(state.NewMemoryStore(start...), config.UpdateConfig, logger)
	if err != nil {
		return nil, summary, err
	}
	if err := l.Load(ctx); err != nil {
		return nil, summary, err
	}

	ex := &scriptedExecutor{}
	engine := session.NewEngine(m, gate.NewGate(config.GateConfig), planner.New(config.PlannerConfig, l, logger), ex, l,
		session.WithPolicy(config.Policy),
		session.WithLogger(logger))
	sess := engine.NewSession()

	results := make([]ReplayResult, 0, len(interactions))
	for _, inter := range interactions {
		ex.fail = make(map[string]bool, len(inter.Failures))
		for _, f := range inter.Failures {
			ex.fail[f] = true
		}

		turn, err := sess.Handle(ctx, inter.Input, inter.Context)
		r := ReplayResult{
			TurnID:      inter.TurnID,
			Input:       inter.Input,
			Kind:        string(turn.Kind),
			Decision:    string(turn.Decision.Kind),
			Selected:    turn.Selected,
			Situation:   turn.Situation(),
			Candidates:  turn.Decision.Keys(),
			Reason:      turn.Decision.Reason,
			Adjustments: turn.Adjustments,
		}
		for _, res := range turn.Results {
			r.Actions = append(r.Actions, res.Action.Key())
			if !res.Success {
				r.Failed = append(r.Failed, res.Action.Key())
			}
		}
		if err != nil {
			r.Err = err.Error()
			summary.Errors++
		}

		if inter.Feedback != "" && turn.Kind == session.TurnExecuted {
			adjs, err := sess.Feedback(ctx, inter.Feedback)
			if err != nil {
				r.Err = err.Error()
				summary.Errors++
			}
			r.Adjustments = append(r.Adjustments, adjs...)
			summary.FeedbackEvents += len(adjs)
		}

		switch turn.Kind {
		case session.TurnExecuted:
			summary.Executed++
		case session.TurnClarify:
			summary.Clarified++
		case session.TurnFallback:
			summary.Fallbacks++
		case session.TurnAcknowledged:
			summary.Acknowledged++
		}
		results = append(results, r)
	}

	summary.TotalTurns = len(results)
	summary.FinalWeights = l.Snapshot()
	return results, summary, nil
}

// RunFixture converts a fixture and replays it under its own config.
func RunFixture(ctx context.Context, f *Fixture, logger *zap.Logger) ([]ReplayResult, ReplaySummary, error) {
	cfg, err := f.Config.ToReplayConfig()
	if err != nil {
		return nil, ReplaySummary{}, err
	}
	return RunFixtureWith(ctx, f, cfg, logger)
}

// RunFixtureWith replays a fixture under cfg, ignoring the fixture's config.
func RunFixtureWith(ctx context.Context, f *Fixture, cfg ReplayConfig, logger *zap.Logger) ([]ReplayResult, ReplaySummary, error) {
	corpus, err := f.ToCorpus()
	if err != nil {
		return nil, ReplaySummary{}, err
	}
	emb, err := f.Embedder.ToEmbedder()
	if err != nil {
		return nil, ReplaySummary{}, err
	}
	interactions := make([]Interaction, len(f.Turns))
	for i := range f.Turns {
		if interactions[i], err = f.Turns[i].ToInteraction(); err != nil {
			return nil, ReplaySummary{}, err
		}
	}
	return Replay(ctx, corpus, emb, ToWeightRecords(f.StartWeights), interactions, cfg, logger)
}

// #endregion replay

// #region verify
// weightTolerance absorbs float drift from repeated multiplication.
const weightTolerance = 1e-9

// Verify compares a replay run against the fixture's expectations and returns
// one line per mismatch.
func Verify(f *Fixture, results []ReplayResult, summary ReplaySummary) []string {
	var diffs []string
	if len(results) != len(f.ExpectedResults) {
		diffs = append(diffs, fmt.Sprintf("expected %d results, got %d", len(f.ExpectedResults), len(results)))
	}
	for i, exp := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		got := results[i]
		if got.TurnID != exp.TurnID {
			diffs = append(diffs, fmt.Sprintf("turn %d: expected turn_id=%s, got %s", i, exp.TurnID, got.TurnID))
		}
		if got.Kind != exp.Kind {
			diffs = append(diffs, fmt.Sprintf("%s: expected kind=%s, got %s (%s)", exp.TurnID, exp.Kind, got.Kind, got.Reason))
		}
		if exp.Situation != "" && got.Situation != exp.Situation {
			diffs = append(diffs, fmt.Sprintf("%s: expected situation=%s, got %q", exp.TurnID, exp.Situation, got.Situation))
		}
		if exp.Candidates != nil && !slices.Equal(got.Candidates, exp.Candidates) {
			diffs = append(diffs, fmt.Sprintf("%s: expected candidates=%v, got %v", exp.TurnID, exp.Candidates, got.Candidates))
		}
		if exp.Actions != nil && !slices.Equal(got.Actions, exp.Actions) {
			diffs = append(diffs, fmt.Sprintf("%s: expected actions=%v, got %v", exp.TurnID, exp.Actions, got.Actions))
		}
	}

	final := make(map[[2]string]float64, len(summary.FinalWeights))
	for _, w := range summary.FinalWeights {
		final[[2]string{w.SituationKey, w.ActionKey}] = w.Weight
	}
	for _, exp := range f.ExpectedWeights {
		got, ok := final[[2]string{exp.Situation, exp.Action}]
		if !ok {
			got = update.DefaultWeight
		}
		if math.Abs(got-exp.Weight) > weightTolerance {
			diffs = append(diffs, fmt.Sprintf("weight %s/%s: expected %.6f, got %.6f", exp.Situation, exp.Action, exp.Weight, got))
		}
	}
	return diffs
}

// #endregion verify
