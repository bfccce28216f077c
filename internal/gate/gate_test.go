package gate

import (
	"testing"

	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"pgregory.net/rapid"
)

func makeResult(scores ...float64) matcher.Result {
	keys := []string{"network_slow", "sick", "tired", "bored", "hungry"}
	var res matcher.Result
	for i, s := range scores {
		res.Candidates = append(res.Candidates, matcher.Candidate{Key: keys[i], Score: s, Order: i})
	}
	return res
}

func TestResolveConfidentSingle(t *testing.T) {
	d := NewGate(DefaultGateConfig()).Resolve(makeResult(0.9))

	if d.Kind != KindConfident {
		t.Fatalf("expected confident, got %s: %s", d.Kind, d.Reason)
	}
	if d.Situation != "network_slow" {
		t.Fatalf("expected network_slow, got %s", d.Situation)
	}
}

func TestResolveAmbiguousNearTie(t *testing.T) {
	d := Resolve(makeResult(0.72, 0.70), DefaultGateConfig())

	if d.Kind != KindAmbiguous {
		t.Fatalf("expected ambiguous, got %s: %s", d.Kind, d.Reason)
	}
	if len(d.Candidates) != 2 || d.Candidates[0].Key != "network_slow" || d.Candidates[1].Key != "sick" {
		t.Fatalf("unexpected candidates %v", d.Keys())
	}
	if d.Situation != "" {
		t.Fatal("ambiguous decision must not pick a situation")
	}
}

func TestResolveConfidentAtExactMargin(t *testing.T) {
	d := Resolve(makeResult(0.75, 0.70), DefaultGateConfig())
	if d.Kind != KindConfident {
		t.Fatalf("gap equal to margin should be confident, got %s: %s", d.Kind, d.Reason)
	}
}

func TestResolveNoMatchBelowThreshold(t *testing.T) {
	d := Resolve(makeResult(0.69, 0.1), DefaultGateConfig())
	if d.Kind != KindNoMatch {
		t.Fatalf("expected no_match, got %s", d.Kind)
	}
	if d.BestScore != 0.69 {
		t.Fatalf("expected best score 0.69, got %f", d.BestScore)
	}
}

func TestResolveConfidentAtThreshold(t *testing.T) {
	d := Resolve(makeResult(0.7), DefaultGateConfig())
	if d.Kind != KindConfident {
		t.Fatalf("score equal to threshold should be confident, got %s", d.Kind)
	}
}

func TestResolveEmptyIsNoMatch(t *testing.T) {
	d := Resolve(matcher.Result{}, DefaultGateConfig())
	if d.Kind != KindNoMatch || d.BestScore != 0 {
		t.Fatalf("expected no_match with score 0, got %+v", d)
	}
}

func TestResolveCandidatesCapped(t *testing.T) {
	d := Resolve(makeResult(0.80, 0.79, 0.78, 0.77, 0.76), DefaultGateConfig())
	if d.Kind != KindAmbiguous {
		t.Fatalf("expected ambiguous, got %s", d.Kind)
	}
	if len(d.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %v", d.Keys())
	}
}

func TestResolveTieIncludesRunnerUpBelowThreshold(t *testing.T) {
	// The runner-up only has to be within the margin of the top score.
	d := Resolve(makeResult(0.71, 0.68, 0.5), DefaultGateConfig())
	if d.Kind != KindAmbiguous {
		t.Fatalf("expected ambiguous, got %s", d.Kind)
	}
	if len(d.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %v", d.Keys())
	}
}

func TestNewGateRaisesCandidateCap(t *testing.T) {
	g := NewGate(GateConfig{ConfidentThreshold: 0.7, AmbiguityMargin: 0.05, MaxCandidates: 1})
	d := g.Resolve(makeResult(0.8, 0.79))
	if len(d.Candidates) != 2 {
		t.Fatalf("ambiguity needs at least 2 candidates, got %v", d.Keys())
	}
}

func TestResolveProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "n")
		scores := make([]float64, n)
		prev := 1.0
		for i := range scores {
			prev = rapid.Float64Range(0.0001, prev).Draw(rt, "score")
			scores[i] = prev
		}
		cfg := DefaultGateConfig()
		d := Resolve(makeResult(scores...), cfg)

		switch d.Kind {
		case KindNoMatch:
			if n > 0 && scores[0] >= cfg.ConfidentThreshold+epsilon {
				rt.Fatalf("no_match with top %f", scores[0])
			}
		case KindConfident:
			if d.Situation != "network_slow" {
				rt.Fatalf("confident must pick the top candidate, got %s", d.Situation)
			}
			if n > 1 && scores[0]-scores[1] < cfg.AmbiguityMargin-2*epsilon {
				rt.Fatalf("confident despite near tie %v", scores)
			}
		case KindAmbiguous:
			if len(d.Candidates) < 2 || len(d.Candidates) > cfg.MaxCandidates {
				rt.Fatalf("bad candidate count %d", len(d.Candidates))
			}
			for _, c := range d.Candidates {
				if scores[0]-c.Score >= cfg.AmbiguityMargin {
					rt.Fatalf("candidate %s outside margin", c.Key)
				}
			}
		}
	})
}
