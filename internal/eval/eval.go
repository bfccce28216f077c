package eval

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// #region detector
// Detector matches and resolves one utterance without side effects.
type Detector interface {
	Detect(ctx context.Context, utterance string) (matcher.Result, gate.GateDecision, error)
}

// #endregion detector

// #region loader
type caseFile struct {
	Cases []Case `yaml:"cases"`
}

// LoadCases reads a YAML file with a top-level "cases" list.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases %s: %w", path, err)
	}
	var f caseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cases %s: %w", path, err)
	}
	if len(f.Cases) == 0 {
		return nil, fmt.Errorf("cases %s: no cases", path)
	}
	return f.Cases, nil
}

// #endregion loader

// #region eval-harness
// EvalHarness runs labeled queries through a Detector and scores it.
type EvalHarness struct {
	config   EvalConfig
	detector Detector
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig, detector Detector) *EvalHarness {
	return &EvalHarness{config: config, detector: detector}
}

// Run detects every case, at most Parallelism at a time. Detection errors
// are recorded per case and fail the run; only ctx cancellation aborts it.
func (h *EvalHarness) Run(ctx context.Context, cases []Case) (EvalResult, error) {
	results := make([]CaseResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.config.Parallelism, 1))
	for i, c := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = h.detect(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EvalResult{}, err
	}
	return h.score(results), nil
}

func (h *EvalHarness) detect(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	_, dec, err := h.detector.Detect(ctx, c.Query)
	r := CaseResult{Case: c, Latency: time.Since(start)}
	if err != nil {
		r.Decision = "error"
		r.Predicted = "error"
		r.Err = err.Error()
		return r
	}

	r.Decision = string(dec.Kind)
	r.Candidates = dec.Keys()
	r.BestScore = dec.BestScore
	switch dec.Kind {
	case gate.KindConfident:
		r.Predicted = dec.Situation
	case gate.KindAmbiguous:
		r.Predicted = "ambiguous"
	default:
		r.Predicted = NoMatch
	}
	r.Correct = r.Predicted == c.label()
	return r
}

// #endregion eval-harness

// #region scoring
func (h *EvalHarness) score(results []CaseResult) EvalResult {
	out := EvalResult{Cases: results, Confusion: map[string]map[string]int{}}
	n := len(results)
	if n == 0 {
		out.Reason = "no cases"
		return out
	}

	var correct, confident, ambiguous, noMatch, wrong, ambiguousHit, errs int
	var total, worst time.Duration
	for _, r := range results {
		exp := r.Case.label()
		if out.Confusion[exp] == nil {
			out.Confusion[exp] = map[string]int{}
		}
		out.Confusion[exp][r.Predicted]++

		if r.Correct {
			correct++
		}
		switch r.Decision {
		case string(gate.KindConfident):
			confident++
			if !r.Correct {
				wrong++
			}
		case string(gate.KindAmbiguous):
			ambiguous++
			if slices.Contains(r.Candidates, exp) {
				ambiguousHit++
			}
		case string(gate.KindNoMatch):
			noMatch++
		default:
			errs++
		}
		total += r.Latency
		worst = max(worst, r.Latency)
	}

	frac := func(k int) float64 { return float64(k) / float64(n) }
	accuracy := frac(correct)
	accPass := accuracy >= h.config.MinAccuracy
	out.Metrics = []EvalMetric{
		{Name: "accuracy", Value: accuracy, Pass: accPass},
		{Name: "confident_rate", Value: frac(confident), Pass: true},
		{Name: "ambiguity_rate", Value: frac(ambiguous), Pass: true},
		{Name: "ambiguous_hit_rate", Value: frac(ambiguousHit), Pass: true},
		{Name: "no_match_rate", Value: frac(noMatch), Pass: true},
		{Name: "wrong_confident", Value: float64(wrong), Pass: true},
		{Name: "errors", Value: float64(errs), Pass: errs == 0},
		{Name: "mean_latency_ms", Value: float64(total.Microseconds()) / float64(n) / 1000, Pass: true},
		{Name: "max_latency_ms", Value: float64(worst.Microseconds()) / 1000, Pass: true},
	}

	out.Passed = accPass && errs == 0
	switch {
	case out.Passed:
		out.Reason = fmt.Sprintf("all checks passed: %d/%d correct", correct, n)
	case errs > 0:
		out.Reason = fmt.Sprintf("eval failed: %d detection errors", errs)
	default:
		out.Reason = fmt.Sprintf("eval failed: accuracy %.4f below %.4f", accuracy, h.config.MinAccuracy)
	}
	return out
}

// #endregion scoring
