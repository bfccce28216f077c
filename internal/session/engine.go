package session

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/logging"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #endregion

// #region engine-struct

// Engine wires matcher, resolver, planner, executor and learner into the
// detect → plan → execute → learn pipeline. It holds no per-conversation
// state and is shared by every Session.
type Engine struct {
	matcher  Matcher
	gate     *gate.Gate
	planner  *planner.Planner
	executor executor.Executor
	learner  Learner
	journal  *sql.DB
	policy   Policy
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal enables the turn/feedback journal on db.
func WithJournal(db *sql.DB) Option {
	return func(e *Engine) { e.journal = db }
}

// WithPolicy sets the execution-result learning policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// #endregion

// #region constructor

// NewEngine creates a fully wired engine.
func NewEngine(m Matcher, g *gate.Gate, p *planner.Planner, ex executor.Executor, l Learner, opts ...Option) *Engine {
	e := &Engine{
		matcher:  m,
		gate:     g,
		planner:  p,
		executor: ex,
		learner:  l,
		policy:   DefaultPolicy(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("session")
	return e
}

// #endregion

// #region detect

// Detect runs matching and resolution only. No state changes.
func (e *Engine) Detect(ctx context.Context, utterance string) (matcher.Result, gate.GateDecision, error) {
	res, err := e.matcher.Match(ctx, utterance)
	if err != nil {
		return res, gate.GateDecision{}, fmt.Errorf("detect: %w", err)
	}
	return res, e.gate.Resolve(res), nil
}

// #endregion

// #region learn

// learn records one outcome for every action and journals it. Persistence
// failures are logged and reported through Adjustment.Persisted.
func (e *Engine) learn(ctx context.Context, turnID, situationKey string, results []executor.Result, outcomeFor func(executor.Result) update.Outcome, source string) []learner.Adjustment {
	var adjs []learner.Adjustment
	for _, r := range results {
		outcome := outcomeFor(r)
		if outcome == update.OutcomeNeutral {
			continue
		}
		adj, err := e.learner.Record(ctx, learner.Event{
			SituationKey: situationKey,
			Action:       r.Action,
			Outcome:      outcome,
			TurnID:       turnID,
		})
		if err != nil {
			if !errors.Is(err, learner.ErrPersistence) {
				e.logger.Error("learning failed", zap.String("turn_id", turnID), zap.Error(err))
				continue
			}
			e.logger.Warn("learning not persisted", zap.String("turn_id", turnID), zap.Error(err))
		}
		adjs = append(adjs, adj)
		e.logFeedback(turnID, string(outcome), source, adj)
	}
	return adjs
}

// #endregion

// #region journal

func (e *Engine) logTurn(sessionID string, t Turn, snap signals.Snapshot) {
	if e.journal == nil {
		return
	}
	rec := logging.TurnRecord{
		TurnID:    t.ID,
		Utterance: t.Utterance,
		Context: logging.TurnRecordContext{
			Battery: snap.Battery,
			Hour:    snap.Hour,
		},
		Thresholds: logging.TurnRecordThresholds{
			ConfidentThreshold: e.gate.Config().ConfidentThreshold,
			AmbiguityMargin:    e.gate.Config().AmbiguityMargin,
			MaxCandidates:      e.gate.Config().MaxCandidates,
		},
		Decision:  string(t.Decision.Kind),
		Situation: t.Decision.Situation,
		Reason:    t.Decision.Reason,
	}
	for _, c := range snap.Connectivity {
		rec.Context.Connectivity = append(rec.Context.Connectivity, string(c))
	}
	for _, c := range t.Decision.Candidates {
		rec.Candidates = append(rec.Candidates, logging.TurnRecordCandidate{Key: c.Key, Score: c.Score, Phrase: c.Phrase})
	}
	for _, a := range t.Plan.Actions() {
		rec.Actions = append(rec.Actions, a.Key())
	}
	for _, a := range t.Plan.Adjustments {
		rec.Adjustments = append(rec.Adjustments, a.Rule+":"+a.Change+":"+a.Action)
	}
	for _, r := range t.Results {
		rec.Results = append(rec.Results, logging.TurnRecordResult{Action: r.Action.Key(), Success: r.Success, FailureReason: r.FailureReason})
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		e.logger.Warn("marshal turn record", zap.Error(err))
	}

	decision := string(t.Decision.Kind)
	if t.Selected {
		decision = "selected"
	}
	err = logging.LogTurn(e.journal, logging.TurnEntry{
		TurnID:     t.ID,
		SessionID:  sessionID,
		Utterance:  t.Utterance,
		Decision:   decision,
		Situation:  t.Decision.Situation,
		BestScore:  t.Decision.BestScore,
		Reason:     t.Decision.Reason,
		RecordJSON: string(recJSON),
	})
	if err != nil {
		e.logger.Warn("journal turn", zap.String("turn_id", t.ID), zap.Error(err))
	}
}

func (e *Engine) logFeedback(turnID, outcome, source string, adj learner.Adjustment) {
	if e.journal == nil {
		return
	}
	err := logging.LogFeedback(e.journal, logging.FeedbackEntry{
		EventID:      uuid.New().String(),
		TurnID:       turnID,
		SituationKey: adj.SituationKey,
		ActionKey:    adj.ActionKey,
		Outcome:      outcome,
		Source:       source,
		Before:       adj.Before,
		After:        adj.After,
		Persisted:    adj.Persisted,
	})
	if err != nil {
		e.logger.Warn("journal feedback", zap.String("turn_id", turnID), zap.Error(err))
	}
}

// #endregion
