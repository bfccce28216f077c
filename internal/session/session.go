package session

// #region imports
import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/feedback"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #endregion

// #region session-struct

// Session is one conversation. It owns the clarification state and the
// immediately preceding executed turn. Inputs are handled one at a time.
type Session struct {
	id     string
	engine *Engine

	mu      sync.Mutex
	state   State
	pending []matcher.Candidate
	corpus  *situation.Corpus // corpus the pending candidates came from
	last    *Turn             // previous turn, kept only if it executed actions
}

// NewSession starts an idle conversation.
func (e *Engine) NewSession() *Session {
	return &Session{id: uuid.New().String(), engine: e, state: StateIdle}
}

// ID returns the session identifier used in the journal.
func (s *Session) ID() string { return s.id }

// State returns the current clarification state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the candidates offered by the last clarification prompt.
func (s *Session) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.pending))
	for i, c := range s.pending {
		keys[i] = c.Key
	}
	return keys
}

// #endregion

// #region input

// Input routes a line of user text. Short acceptance or rejection replies to
// an executed turn become feedback; everything else is handled as an
// utterance.
func (s *Session) Input(ctx context.Context, text string, snap signals.Snapshot) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle && s.last != nil {
		if v := feedback.Classify(text); v.IsFeedback {
			adjs, err := s.feedbackLocked(ctx, v.Outcome)
			t := Turn{
				ID:          uuid.New().String(),
				Utterance:   text,
				Kind:        TurnFeedback,
				Adjustments: adjs,
				Response:    feedbackResponse(v.Outcome),
			}
			return t, err
		}
	}
	return s.handleLocked(ctx, text, snap)
}

func feedbackResponse(o update.Outcome) string {
	if o == update.OutcomeRejected {
		return "Got it, I'll do that less."
	}
	return "Glad that helped."
}

// #endregion

// #region handle

// Handle processes one utterance. While awaiting clarification, a reply that
// names a pending candidate (by 1-based index or key) selects it; any other
// reply is matched fresh, and a fresh tie falls back instead of asking again.
func (s *Session) Handle(ctx context.Context, utterance string, snap signals.Snapshot) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleLocked(ctx, utterance, snap)
}

func (s *Session) handleLocked(ctx context.Context, utterance string, snap signals.Snapshot) (Turn, error) {
	e := s.engine
	t := Turn{ID: uuid.New().String(), Utterance: utterance}
	// feedback only ever refers to the turn right before it
	s.last = nil

	retry := s.state == StateAwaitingClarification
	if retry {
		pending, corpus := s.pending, s.corpus
		s.clearPending()
		if c, ok := selectCandidate(utterance, pending); ok {
			if sit, ok := corpus.Get(c.Key); ok {
				t.Selected = true
				t.Decision = gate.GateDecision{
					Kind:       gate.KindConfident,
					Situation:  c.Key,
					Candidates: []matcher.Candidate{c},
					BestScore:  c.Score,
					Reason:     fmt.Sprintf("selected %s from clarification", c.Key),
				}
				return s.act(ctx, t, sit, snap), nil
			}
		}
	}

	res, dec, err := e.Detect(ctx, utterance)
	if err != nil {
		e.logger.Error("detection failed", zap.String("turn_id", t.ID), zap.Error(err))
		t.Kind = TurnFallback
		t.Response = fallbackResponse
		t.Decision = gate.GateDecision{Kind: gate.KindNoMatch, Reason: err.Error()}
		return t, err
	}
	t.Decision = dec

	switch dec.Kind {
	case gate.KindConfident:
		sit, ok := res.Corpus.Get(dec.Situation)
		if !ok {
			// corpus and result always travel together; unreachable
			t.Kind = TurnFallback
			t.Response = fallbackResponse
			break
		}
		return s.act(ctx, t, sit, snap), nil

	case gate.KindAmbiguous:
		if retry {
			// one clarification per turn; a second tie is handled as no match
			t.Kind = TurnFallback
			t.Response = fallbackResponse
			break
		}
		s.state = StateAwaitingClarification
		s.pending = dec.Candidates
		s.corpus = res.Corpus
		t.Kind = TurnClarify
		t.Response = clarifyPrompt(dec.Candidates, res.Corpus)

	default:
		t.Kind = TurnFallback
		t.Response = fallbackResponse
	}

	e.logger.Info("turn",
		zap.String("turn_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("decision", string(dec.Kind)),
		zap.Strings("candidates", dec.Keys()),
	)
	e.logTurn(s.id, t, snap)
	return t, nil
}

func (s *Session) clearPending() {
	s.state = StateIdle
	s.pending = nil
	s.corpus = nil
}

// #endregion

// #region act

// act plans, executes and learns for a resolved situation.
func (s *Session) act(ctx context.Context, t Turn, sit situation.Situation, snap signals.Snapshot) Turn {
	e := s.engine
	t.Plan = e.planner.Plan(sit, snap)

	if t.Plan.Empty() {
		t.Kind = TurnAcknowledged
		t.Response = acknowledgedResponse
	} else {
		t.Kind = TurnExecuted
		t.Results = executor.RunAll(ctx, e.executor, t.Plan.Actions())
		t.Response = sit.Respond(t.Plan.Actions())
		t.Adjustments = e.learn(ctx, t.ID, sit.Key, t.Results, e.policy.outcome, "execution")
		last := t
		s.last = &last
	}

	e.logger.Info("turn",
		zap.String("turn_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("situation", sit.Key),
		zap.Bool("selected", t.Selected),
		zap.Int("actions", len(t.Plan.Steps)),
	)
	e.logTurn(s.id, t, snap)
	return t
}

// #endregion

// #region feedback

// Feedback applies a user outcome to every action of the previous turn if
// that turn executed actions. Each executed turn takes feedback once.
func (s *Session) Feedback(ctx context.Context, outcome update.Outcome) ([]learner.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedbackLocked(ctx, outcome)
}

func (s *Session) feedbackLocked(ctx context.Context, outcome update.Outcome) ([]learner.Adjustment, error) {
	if s.last == nil {
		return nil, ErrNoTurn
	}
	last := s.last
	s.last = nil
	adjs := s.engine.learn(ctx, last.ID, last.Decision.Situation, last.Results,
		func(executor.Result) update.Outcome { return outcome }, "user")
	return adjs, nil
}

// #endregion

// #region clarification

// selectCandidate reads a clarification reply as a 1-based index or a
// situation key.
func selectCandidate(reply string, pending []matcher.Candidate) (matcher.Candidate, bool) {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.TrimSuffix(r, ".")
	if n, err := strconv.Atoi(r); err == nil {
		if n >= 1 && n <= len(pending) {
			return pending[n-1], true
		}
		return matcher.Candidate{}, false
	}
	r = strings.ReplaceAll(r, " ", "_")
	for _, c := range pending {
		if strings.ToLower(c.Key) == r {
			return c, true
		}
	}
	return matcher.Candidate{}, false
}

func clarifyPrompt(cands []matcher.Candidate, corpus *situation.Corpus) string {
	var b strings.Builder
	b.WriteString("Did you mean:")
	for i, c := range cands {
		label := strings.ReplaceAll(c.Key, "_", " ")
		if sit, ok := corpus.Get(c.Key); ok && len(sit.Phrases) > 0 {
			label = fmt.Sprintf("%s (like %q)", label, sit.Phrases[0])
		}
		fmt.Fprintf(&b, " %d) %s", i+1, label)
		if i < len(cands)-1 {
			b.WriteString(",")
		}
	}
	b.WriteString("? Reply with a number or name.")
	return b.String()
}

// #endregion
