package session

// #region imports
import (
	"context"
	"errors"

	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/update"
)

// #endregion

// #region collaborators

// Matcher scores an utterance against the active corpus.
type Matcher interface {
	Match(ctx context.Context, utterance string) (matcher.Result, error)
}

// Learner applies feedback events.
type Learner interface {
	Record(ctx context.Context, ev learner.Event) (learner.Adjustment, error)
}

// #endregion

// #region errors

// ErrNoTurn is returned by Feedback when there is no executed turn to judge.
var ErrNoTurn = errors.New("no executed turn to give feedback on")

// #endregion

// #region state

// State is the clarification state of one conversation.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingClarification State = "awaiting_clarification"
)

// #endregion

// #region turn-kind

// TurnKind says what the engine did with an input.
type TurnKind string

const (
	TurnExecuted     TurnKind = "executed"     // plan ran
	TurnClarify      TurnKind = "clarify"      // asked the user to pick
	TurnFallback     TurnKind = "fallback"     // no match
	TurnAcknowledged TurnKind = "acknowledged" // matched, but every action was ruled out
	TurnFeedback     TurnKind = "feedback"     // input was feedback on the previous turn
)

// #endregion

// #region turn

// Turn is everything the engine decided and did for one input.
type Turn struct {
	ID          string
	Utterance   string
	Kind        TurnKind
	Decision    gate.GateDecision
	Selected    bool // situation chosen by a clarification reply
	Plan        planner.Plan
	Results     []executor.Result
	Response    string
	Adjustments []learner.Adjustment
}

// Situation returns the acted-on situation key, if any.
func (t Turn) Situation() string {
	return t.Decision.Situation
}

// #endregion

// #region policy

// Policy maps execution results to learning outcomes. Neutral disables the
// mapping.
type Policy struct {
	OnSuccess update.Outcome
	OnFailure update.Outcome
}

// DefaultPolicy learns only from explicit user feedback.
func DefaultPolicy() Policy {
	return Policy{OnSuccess: update.OutcomeNeutral, OnFailure: update.OutcomeNeutral}
}

func (p Policy) outcome(r executor.Result) update.Outcome {
	o := p.OnFailure
	if r.Success {
		o = p.OnSuccess
	}
	if o == "" {
		return update.OutcomeNeutral
	}
	return o
}

// #endregion

// #region responses

const (
	fallbackResponse     = "Sorry, I'm not sure what you need. Could you say it another way?"
	acknowledgedResponse = "I understand, but there is nothing I can do for that right now."
)

// #endregion
