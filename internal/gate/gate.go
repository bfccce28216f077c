package gate

import (
	"fmt"

	"github.com/danielpatrickdp/situation-engine/internal/matcher"
)

// scores within epsilon of a boundary count as on it
const epsilon = 1e-9

// #region gate
// Gate decides between acting, asking, and falling back.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	if config.MaxCandidates < 2 {
		config.MaxCandidates = 2
	}
	return &Gate{config: config}
}

// Config returns the gate's thresholds.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Resolve classifies a match result. It is a pure function of the result
// and the configured thresholds.
func (g *Gate) Resolve(result matcher.Result) GateDecision {
	return Resolve(result, g.config)
}

// #endregion gate

// #region resolve
// Resolve classifies result under cfg:
//  1. No candidates, or top below threshold: no_match
//  2. Runner-up within margin of the top: ambiguous
//  3. Otherwise: confident
func Resolve(result matcher.Result, cfg GateConfig) GateDecision {
	top, ok := result.Best()
	if !ok {
		return GateDecision{Kind: KindNoMatch, Reason: "no situation scored above zero"}
	}
	if top.Score+epsilon < cfg.ConfidentThreshold {
		return GateDecision{
			Kind:      KindNoMatch,
			BestScore: top.Score,
			Reason:    fmt.Sprintf("top score %.4f < threshold %.4f (%s)", top.Score, cfg.ConfidentThreshold, top.Key),
		}
	}

	tied := []matcher.Candidate{top}
	for _, c := range result.Candidates[1:] {
		if top.Score-c.Score >= cfg.AmbiguityMargin-epsilon {
			break // sorted descending, nothing later can tie
		}
		tied = append(tied, c)
	}

	if len(tied) == 1 {
		reason := fmt.Sprintf("%s scored %.4f with no runner-up", top.Key, top.Score)
		if len(result.Candidates) > 1 {
			second := result.Candidates[1]
			reason = fmt.Sprintf("%s scored %.4f, leads %s by %.4f", top.Key, top.Score, second.Key, top.Score-second.Score)
		}
		return GateDecision{
			Kind:       KindConfident,
			Situation:  top.Key,
			Candidates: tied,
			BestScore:  top.Score,
			Reason:     reason,
		}
	}

	limit := cfg.MaxCandidates
	if limit < 2 {
		limit = 2
	}
	if len(tied) > limit {
		tied = tied[:limit]
	}
	return GateDecision{
		Kind:       KindAmbiguous,
		Candidates: tied,
		BestScore:  top.Score,
		Reason:     fmt.Sprintf("%d situations within %.4f of top score %.4f", len(tied), cfg.AmbiguityMargin, top.Score),
	}
}

// #endregion resolve
