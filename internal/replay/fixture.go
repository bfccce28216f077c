package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"github.com/danielpatrickdp/situation-engine/internal/update"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Corpus          json.RawMessage         `json:"corpus"`
	Embedder        FixtureEmbedder         `json:"embedder"`
	Config          FixtureConfig           `json:"config"`
	StartWeights    []FixtureWeight         `json:"start_weights,omitempty"`
	Turns           []FixtureTurn           `json:"turns"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	ExpectedWeights []FixtureWeight         `json:"expected_weights,omitempty"`
}

// FixtureEmbedder selects the embedder. "table" (default) looks vectors up
// in Embeddings; "hashing" uses the offline hashing embedder with Dim.
type FixtureEmbedder struct {
	Kind       string               `json:"kind,omitempty"`
	Dim        int                  `json:"dim,omitempty"`
	Embeddings map[string][]float32 `json:"embeddings,omitempty"`
}

// FixtureConfig overrides component defaults. Zero values keep the default.
type FixtureConfig struct {
	Resolver FixtureResolverConfig `json:"resolver"`
	Learner  FixtureLearnerConfig  `json:"learner"`
	Policy   FixturePolicy         `json:"policy"`
}

// FixtureResolverConfig mirrors gate.GateConfig with JSON tags.
type FixtureResolverConfig struct {
	ConfidentThreshold float64 `json:"confident_threshold,omitempty"`
	AmbiguityMargin    float64 `json:"ambiguity_margin,omitempty"`
	MaxCandidates      int     `json:"max_candidates,omitempty"`
}

// FixtureLearnerConfig mirrors update.UpdateConfig with JSON tags.
type FixtureLearnerConfig struct {
	Increment float64 `json:"increment,omitempty"`
	Decrement float64 `json:"decrement,omitempty"`
	Min       float64 `json:"min,omitempty"`
	Max       float64 `json:"max,omitempty"`
}

// FixturePolicy mirrors session.Policy.
type FixturePolicy struct {
	OnSuccess string `json:"on_success,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`
}

// FixtureContext is the flat context snapshot for one turn.
type FixtureContext struct {
	Battery      *int     `json:"battery,omitempty"` // absent = unknown
	Hour         int      `json:"hour"`
	Connectivity []string `json:"connectivity,omitempty"`
}

// FixtureTurn is one recorded input. Feedback, when set, is applied to the
// turn's executed actions right after it runs.
type FixtureTurn struct {
	TurnID   string         `json:"turn_id"`
	Input    string         `json:"input"`
	Context  FixtureContext `json:"context"`
	Feedback string         `json:"feedback,omitempty"`
	Failures []string       `json:"failures,omitempty"` // action names the executor fails
}

// FixtureExpectedResult is what one turn should produce. Empty fields are
// not checked.
type FixtureExpectedResult struct {
	TurnID     string   `json:"turn_id"`
	Kind       string   `json:"kind"`
	Situation  string   `json:"situation,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Actions    []string `json:"actions,omitempty"`
}

// FixtureWeight is one weight table row.
type FixtureWeight struct {
	Situation string  `json:"situation"`
	Action    string  `json:"action"`
	Weight    float64 `json:"weight"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToCorpus parses the embedded corpus document.
func (f *Fixture) ToCorpus() (*situation.Corpus, error) {
	if len(f.Corpus) == 0 {
		return nil, situation.ErrCorpusEmpty
	}
	return situation.Parse(f.Corpus)
}

// ToEmbedder builds the fixture's embedder.
func (fe *FixtureEmbedder) ToEmbedder() (embedding.Embedder, error) {
	switch fe.Kind {
	case "", "table":
		return embedding.Table(fe.Embeddings), nil
	case "hashing":
		return embedding.NewHashing(fe.Dim), nil
	}
	return nil, fmt.Errorf("fixture embedder kind %q: want table or hashing", fe.Kind)
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() (ReplayConfig, error) {
	cfg := DefaultReplayConfig()

	r := fc.Resolver
	if r.ConfidentThreshold > 0 {
		cfg.GateConfig.ConfidentThreshold = r.ConfidentThreshold
	}
	if r.AmbiguityMargin > 0 {
		cfg.GateConfig.AmbiguityMargin = r.AmbiguityMargin
	}
	if r.MaxCandidates > 0 {
		cfg.GateConfig.MaxCandidates = r.MaxCandidates
	}

	l := fc.Learner
	if l.Increment > 0 {
		cfg.UpdateConfig.Increment = l.Increment
	}
	if l.Decrement > 0 {
		cfg.UpdateConfig.Decrement = l.Decrement
	}
	if l.Min > 0 {
		cfg.UpdateConfig.Min = l.Min
	}
	if l.Max > 0 {
		cfg.UpdateConfig.Max = l.Max
	}
	if err := cfg.UpdateConfig.Validate(); err != nil {
		return cfg, err
	}

	var err error
	if fc.Policy.OnSuccess != "" {
		if cfg.Policy.OnSuccess, err = update.ParseOutcome(fc.Policy.OnSuccess); err != nil {
			return cfg, fmt.Errorf("policy.on_success: %w", err)
		}
	}
	if fc.Policy.OnFailure != "" {
		if cfg.Policy.OnFailure, err = update.ParseOutcome(fc.Policy.OnFailure); err != nil {
			return cfg, fmt.Errorf("policy.on_failure: %w", err)
		}
	}
	return cfg, nil
}

// ToSnapshot converts a FixtureContext to a signals.Snapshot.
func (fc *FixtureContext) ToSnapshot() signals.Snapshot {
	battery := signals.BatteryUnknown
	if fc.Battery != nil {
		battery = *fc.Battery
	}
	conns := make([]signals.Connectivity, len(fc.Connectivity))
	for i, c := range fc.Connectivity {
		conns[i] = signals.Connectivity(c)
	}
	return signals.NewSnapshot(battery, fc.Hour, conns...)
}

// ToInteraction converts a FixtureTurn to a domain Interaction.
func (ft *FixtureTurn) ToInteraction() (Interaction, error) {
	in := Interaction{
		TurnID:   ft.TurnID,
		Input:    ft.Input,
		Context:  ft.Context.ToSnapshot(),
		Failures: ft.Failures,
	}
	if ft.Feedback != "" {
		o, err := update.ParseOutcome(ft.Feedback)
		if err != nil {
			return in, fmt.Errorf("turn %s: %w", ft.TurnID, err)
		}
		in.Feedback = o
	}
	return in, nil
}

// ToWeightRecords converts fixture weights to store records.
func ToWeightRecords(ws []FixtureWeight) []state.WeightRecord {
	out := make([]state.WeightRecord, len(ws))
	for i, w := range ws {
		out[i] = state.WeightRecord{
			SituationKey: w.Situation,
			ActionKey:    w.Action,
			Weight:       w.Weight,
			UpdatedAt:    time.Time{},
		}
	}
	return out
}

// #endregion fixture-loader

// #region defaults

// DefaultReplayConfig returns the component defaults.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		GateConfig:    gate.DefaultGateConfig(),
		UpdateConfig:  update.DefaultUpdateConfig(),
		PlannerConfig: planner.DefaultConfig(),
		Policy:        session.DefaultPolicy(),
	}
}

// #endregion defaults
