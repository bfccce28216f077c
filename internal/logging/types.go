package logging

import "time"

// #region turn-entry
// TurnEntry is a single row in the turn_log table.
type TurnEntry struct {
	TurnID     string
	SessionID  string
	Utterance  string
	Decision   string // "confident" | "ambiguous" | "no_match" | "selected" | "error"
	Situation  string
	BestScore  float64
	Reason     string
	RecordJSON string // serialized TurnRecord
	CreatedAt  time.Time
}

// #endregion turn-entry

// #region feedback-entry
// FeedbackEntry is a single row in the feedback_log table.
type FeedbackEntry struct {
	EventID      string
	TurnID       string
	SituationKey string
	ActionKey    string
	Outcome      string // "accepted" | "rejected" | "neutral"
	Source       string // "user" | "execution"
	Before       float64
	After        float64
	Persisted    bool
	CreatedAt    time.Time
}

// #endregion feedback-entry

// #region turn-record
// TurnRecord captures every input and output of one detection turn.
// Serialized as JSON into turn_log.record_json for deterministic replay.
type TurnRecord struct {
	TurnID    string `json:"turn_id"`
	Utterance string `json:"utterance"`

	// Context as captured at decision time
	Context TurnRecordContext `json:"context"`

	// Ranked matcher output
	Candidates []TurnRecordCandidate `json:"candidates"`

	// Resolver thresholds active at decision time
	Thresholds TurnRecordThresholds `json:"thresholds"`

	// Resolver output
	Decision  string `json:"decision"`
	Situation string `json:"situation,omitempty"`
	Reason    string `json:"reason"`

	// Planner output
	Actions     []string `json:"actions,omitempty"`
	Adjustments []string `json:"adjustments,omitempty"`

	// Executor output
	Results []TurnRecordResult `json:"results,omitempty"`
}

// TurnRecordContext is the context snapshot in flat form.
type TurnRecordContext struct {
	Battery      int      `json:"battery"`
	Hour         int      `json:"hour"`
	Connectivity []string `json:"connectivity,omitempty"`
}

// TurnRecordCandidate is one scored situation.
type TurnRecordCandidate struct {
	Key    string  `json:"key"`
	Score  float64 `json:"score"`
	Phrase string  `json:"phrase"`
}

// TurnRecordThresholds captures the resolver config.
type TurnRecordThresholds struct {
	ConfidentThreshold float64 `json:"confident_threshold"`
	AmbiguityMargin    float64 `json:"ambiguity_margin"`
	MaxCandidates      int     `json:"max_candidates"`
}

// TurnRecordResult is one executed action.
type TurnRecordResult struct {
	Action        string `json:"action"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// #endregion turn-record
