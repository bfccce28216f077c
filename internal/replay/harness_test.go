package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"github.com/danielpatrickdp/situation-engine/internal/update"
)

// helper: two-situation corpus.
func testCorpus(t *testing.T) *situation.Corpus {
	t.Helper()
	c, err := situation.Parse([]byte(`
network_slow:
  phrases: ["internet sucks"]
  actions: [{tool: wifi, operation: reconnect}]
sick:
  phrases: ["i feel sick"]
  actions:
    - {tool: web, operation: search}
    - {tool: media, operation: play}
  domain: comfort
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

var testVectors = embedding.Table{
	"internet sucks": {1, 0},
	"i feel sick":    {0, 1},
}

var day = signals.NewSnapshot(80, 14)

// 1. Confident path: executes and records no weights under the default policy.
func TestReplay_ConfidentPath(t *testing.T) {
	results, summary, err := Replay(context.Background(), testCorpus(t), testVectors, nil,
		[]Interaction{{TurnID: "t1", Input: "internet sucks", Context: day}},
		DefaultReplayConfig(), nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Kind != "executed" || r.Decision != "confident" || r.Situation != "network_slow" {
		t.Errorf("unexpected result %+v", r)
	}
	if len(r.Actions) != 1 || r.Actions[0] != "wifi.reconnect" {
		t.Errorf("unexpected actions %v", r.Actions)
	}
	if len(summary.FinalWeights) != 0 {
		t.Errorf("expected no learned weights, got %+v", summary.FinalWeights)
	}
}

// 2. Start weights reorder the plan.
func TestReplay_StartWeightsReorder(t *testing.T) {
	start := []state.WeightRecord{{SituationKey: "sick", ActionKey: "media.play", Weight: 2}}
	results, _, err := Replay(context.Background(), testCorpus(t), testVectors, start,
		[]Interaction{{TurnID: "t1", Input: "i feel sick", Context: day}},
		DefaultReplayConfig(), nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got := results[0].Actions
	if len(got) != 2 || got[0] != "media.play" || got[1] != "web.search" {
		t.Errorf("expected media.play first, got %v", got)
	}
}

// 3. Failure policy: a scripted failure with on_failure=rejected lowers only that action.
func TestReplay_FailurePolicy(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.Policy.OnFailure = update.OutcomeRejected

	results, summary, err := Replay(context.Background(), testCorpus(t), testVectors, nil,
		[]Interaction{{TurnID: "t1", Input: "i feel sick", Context: day, Failures: []string{"media.play"}}},
		cfg, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results[0].Failed) != 1 || results[0].Failed[0] != "media.play" {
		t.Errorf("expected media.play to fail, got %v", results[0].Failed)
	}
	if len(summary.FinalWeights) != 1 {
		t.Fatalf("expected one learned weight, got %+v", summary.FinalWeights)
	}
	w := summary.FinalWeights[0]
	if w.ActionKey != "media.play" || w.Weight != 0.9 {
		t.Errorf("unexpected weight %+v", w)
	}
}

// 4. Embedding failure is recorded per turn and does not stop the run.
func TestReplay_EmbeddingFailureContinues(t *testing.T) {
	results, summary, err := Replay(context.Background(), testCorpus(t), testVectors, nil,
		[]Interaction{
			{TurnID: "t1", Input: "unknown text", Context: day},
			{TurnID: "t2", Input: "internet sucks", Context: day},
		},
		DefaultReplayConfig(), nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Err == "" || summary.Errors != 1 {
		t.Errorf("expected a recorded error, got %+v", results[0])
	}
	if results[1].Kind != "executed" {
		t.Errorf("run should continue after a failed turn, got %+v", results[1])
	}
}

// 5. Index build failure aborts before any turn.
func TestReplay_IndexFailure(t *testing.T) {
	_, _, err := Replay(context.Background(), testCorpus(t), embedding.Table{}, nil, nil, DefaultReplayConfig(), nil)
	if !errors.Is(err, matcher.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

// 6. Feedback on a non-executed turn is ignored.
func TestReplay_FeedbackOnFallbackIgnored(t *testing.T) {
	vectors := embedding.Table{"internet sucks": {1, 0}, "i feel sick": {0, 1}, "hmm": {-1, -1}}
	_, summary, err := Replay(context.Background(), testCorpus(t), vectors, nil,
		[]Interaction{{TurnID: "t1", Input: "hmm", Context: day, Feedback: update.OutcomeRejected}},
		DefaultReplayConfig(), nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if summary.Fallbacks != 1 || summary.FeedbackEvents != 0 || summary.Errors != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

// 7. Verify reports every kind of drift.
func TestVerify_ReportsMismatches(t *testing.T) {
	f := &Fixture{
		ExpectedResults: []FixtureExpectedResult{
			{TurnID: "t1", Kind: "executed", Situation: "sick", Actions: []string{"web.search"}},
		},
		ExpectedWeights: []FixtureWeight{{Situation: "sick", Action: "web.search", Weight: 0.9}},
	}
	results := []ReplayResult{{TurnID: "t1", Kind: "fallback"}}
	diffs := Verify(f, results, ReplaySummary{})
	if len(diffs) != 4 {
		t.Fatalf("expected 4 mismatches (kind, situation, actions, weight), got %d: %v", len(diffs), diffs)
	}
}
