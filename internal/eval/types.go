package eval

import "time"

// #region eval-config
// EvalConfig holds pass thresholds for a detection evaluation run.
type EvalConfig struct {
	MinAccuracy float64 // fail the run below this fraction of correct cases
	Parallelism int     // concurrent detections
}

// DefaultEvalConfig returns sensible defaults.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinAccuracy: 0.8,
		Parallelism: 4,
	}
}

// #endregion eval-config

// #region case
// NoMatch is the label for queries that should match nothing.
const NoMatch = "none"

// Case is one labeled query. An empty Expect means NoMatch.
type Case struct {
	Query  string   `yaml:"query"`
	Expect string   `yaml:"expect"`
	Tags   []string `yaml:"tags,omitempty"`
}

// label returns the expected label.
func (c Case) label() string {
	if c.Expect == "" {
		return NoMatch
	}
	return c.Expect
}

// CaseResult is the detection outcome for one case.
type CaseResult struct {
	Case       Case
	Decision   string // gate.DecisionKind, or "error"
	Predicted  string // situation key, "ambiguous" or NoMatch
	Candidates []string
	BestScore  float64
	Correct    bool
	Latency    time.Duration
	Err        string
}

// #endregion case

// #region eval-metric
// EvalMetric captures a single aggregate.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of an evaluation run. Confusion counts
// expected label → predicted label.
type EvalResult struct {
	Passed    bool
	Metrics   []EvalMetric
	Reason    string
	Cases     []CaseResult
	Confusion map[string]map[string]int
}

// Metric returns the named metric value.
func (r EvalResult) Metric(name string) (float64, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// #endregion eval-result
