package update

import (
	"fmt"
	"math"
	"time"
)

// DefaultWeight is the weight of a (situation, action) pair before any feedback.
const DefaultWeight = 1.0

// #region update-function
// Update is a pure function that computes the next weight for one
// (situation, action) pair from its current weight and an outcome.
func Update(w float64, outcome Outcome, config UpdateConfig) UpdateResult {
	res := UpdateResult{Before: w}

	var raw float64
	switch outcome {
	case OutcomeAccepted:
		raw = w * config.Increment
		res.Decision = Decision{Action: "increase", Reason: fmt.Sprintf("accepted: x%.2f", config.Increment)}
	case OutcomeRejected:
		raw = w * config.Decrement
		res.Decision = Decision{Action: "decrease", Reason: fmt.Sprintf("rejected: x%.2f", config.Decrement)}
	default:
		res.After = w
		res.Decision = Decision{Action: "no_op", Reason: fmt.Sprintf("%s: no change", outcome)}
		return res
	}

	res.After = Clamp(raw, config.Min, config.Max)
	if res.After != raw {
		res.Clamped = true
		res.Decision.Reason += fmt.Sprintf(", clamped to %.4f", res.After)
	}
	return res
}

// #endregion update-function

// #region decay
// Decay pulls w toward DefaultWeight with the given half-life:
//
//	1 + (w - 1) * 0.5^(elapsed / halfLife)
//
// It never crosses 1.0 and depends only on (w, elapsed), so applying it from
// the same anchor with the same elapsed interval always gives the same value.
func Decay(w float64, elapsed, halfLife time.Duration) float64 {
	if halfLife <= 0 || elapsed <= 0 {
		return w
	}
	factor := math.Exp2(-float64(elapsed) / float64(halfLife))
	return DefaultWeight + (w-DefaultWeight)*factor
}

// #endregion decay

// #region helpers
// Clamp restricts w to [lo, hi].
func Clamp(w, lo, hi float64) float64 {
	if w < lo {
		return lo
	}
	if w > hi {
		return hi
	}
	return w
}

// #endregion helpers
