package gate

import "github.com/danielpatrickdp/situation-engine/internal/matcher"

// #region decision-kind
// DecisionKind enumerates resolver outcomes.
type DecisionKind string

const (
	KindConfident DecisionKind = "confident"
	KindAmbiguous DecisionKind = "ambiguous"
	KindNoMatch   DecisionKind = "no_match"
)

// #endregion decision-kind

// #region gate-config
// GateConfig holds thresholds for resolver decisions.
type GateConfig struct {
	ConfidentThreshold float64 // min top score to act on a match
	AmbiguityMargin    float64 // gap below which the runner-up counts as a tie
	MaxCandidates      int     // cap on clarification candidates
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ConfidentThreshold: 0.7,
		AmbiguityMargin:    0.05,
		MaxCandidates:      3,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of Resolve.
//
//	confident: Situation is set, Candidates holds just that entry
//	ambiguous: Candidates holds the tied entries in rank order
//	no_match:  BestScore is the top score, 0 for an empty result
type GateDecision struct {
	Kind       DecisionKind
	Situation  string
	Candidates []matcher.Candidate
	BestScore  float64
	Reason     string
}

// Keys returns the candidate situation keys in rank order.
func (d GateDecision) Keys() []string {
	keys := make([]string, len(d.Candidates))
	for i, c := range d.Candidates {
		keys[i] = c.Key
	}
	return keys
}

// #endregion gate-decision
