package update

import (
	"fmt"
	"strings"
	"time"
)

// #region outcome
// Outcome is the user's verdict on an executed action.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeNeutral  Outcome = "neutral"
)

// ParseOutcome accepts the three outcome names, case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeAccepted, OutcomeRejected, OutcomeNeutral:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// #endregion outcome

// #region decision
// Decision records what the update function decided.
type Decision struct {
	Action string // "increase" | "decrease" | "no_op"
	Reason string
}

// #endregion decision

// #region update-config
// UpdateConfig controls the multiplicative weight update.
type UpdateConfig struct {
	Increment     float64       // multiplier on accepted
	Decrement     float64       // multiplier on rejected
	Min           float64       // lower bound for any stored weight
	Max           float64       // upper bound for any stored weight
	DecayHalfLife time.Duration // 0 disables decay toward 1.0
}

// DefaultUpdateConfig returns the standard learning factors.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		Increment: 1.10,
		Decrement: 0.90,
		Min:       0.1,
		Max:       3.0,
	}
}

// Validate rejects factors that would break the bounds.
func (c UpdateConfig) Validate() error {
	switch {
	case c.Min <= 0 || c.Max < c.Min:
		return fmt.Errorf("update config: invalid bounds [%g, %g]", c.Min, c.Max)
	case c.Min > 1 || c.Max < 1:
		return fmt.Errorf("update config: bounds [%g, %g] must contain the default weight 1.0", c.Min, c.Max)
	case c.Increment < 1:
		return fmt.Errorf("update config: increment %g must be >= 1", c.Increment)
	case c.Decrement <= 0 || c.Decrement > 1:
		return fmt.Errorf("update config: decrement %g must be in (0, 1]", c.Decrement)
	case c.DecayHalfLife < 0:
		return fmt.Errorf("update config: negative decay half-life %s", c.DecayHalfLife)
	}
	return nil
}

// #endregion update-config

// #region update-result
// UpdateResult is the output of the pure update function.
type UpdateResult struct {
	Before   float64
	After    float64
	Decision Decision
	Clamped  bool // After was held at a bound
}

// #endregion update-result
