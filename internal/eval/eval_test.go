package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
)

// realDetector wires a matcher and a gate the way the engine does.
type realDetector struct {
	m *matcher.Matcher
	g *gate.Gate
}

func (d realDetector) Detect(ctx context.Context, u string) (matcher.Result, gate.GateDecision, error) {
	res, err := d.m.Match(ctx, u)
	if err != nil {
		return res, gate.GateDecision{}, err
	}
	return res, d.g.Resolve(res), nil
}

func newDetector(t *testing.T) realDetector {
	t.Helper()
	c, err := situation.Parse([]byte(`
network_slow:
  phrases: ["internet sucks"]
  actions: [{tool: wifi, operation: reconnect}]
sick:
  phrases: ["i feel sick"]
  actions: [{tool: web, operation: search}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	emb := embedding.Table{
		"internet sucks": {1, 0, 0},
		"i feel sick":    {0, 1, 0},
		"wifi is dead":   {0.9, 0.1, 0},
		"feeling off":    {1, 1, 0},
		"hello":          {0, 0, 1},
		"head hurts":     {0.2, 0.8, 0},
	}
	m := matcher.New(emb, matcher.DefaultConfig(), nil)
	if err := m.Reload(context.Background(), c); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return realDetector{m: m, g: gate.NewGate(gate.DefaultGateConfig())}
}

func TestEvalAllCorrect(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig(), newDetector(t))
	res, err := h.Run(context.Background(), []Case{
		{Query: "wifi is dead", Expect: "network_slow"},
		{Query: "head hurts", Expect: "sick"},
		{Query: "hello"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %s", res.Reason)
	}
	if acc, _ := res.Metric("accuracy"); acc != 1 {
		t.Errorf("expected accuracy 1, got %f", acc)
	}
	if res.Confusion[NoMatch][NoMatch] != 1 {
		t.Errorf("confusion missing none→none: %+v", res.Confusion)
	}
}

func TestEvalAmbiguousCountsAsMiss(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig(), newDetector(t))
	res, err := h.Run(context.Background(), []Case{
		{Query: "feeling off", Expect: "sick"},
		{Query: "internet sucks", Expect: "network_slow"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed {
		t.Fatal("accuracy 0.5 should fail the default 0.8 threshold")
	}
	if v, _ := res.Metric("ambiguity_rate"); v != 0.5 {
		t.Errorf("expected ambiguity_rate 0.5, got %f", v)
	}
	if v, _ := res.Metric("ambiguous_hit_rate"); v != 0.5 {
		t.Errorf("expected ambiguous_hit_rate 0.5, got %f", v)
	}
	if res.Confusion["sick"]["ambiguous"] != 1 {
		t.Errorf("confusion missing sick→ambiguous: %+v", res.Confusion)
	}
	// results keep input order
	if res.Cases[0].Case.Query != "feeling off" {
		t.Errorf("case order changed: %+v", res.Cases)
	}
}

func TestEvalWrongConfident(t *testing.T) {
	h := NewEvalHarness(EvalConfig{MinAccuracy: 0.5, Parallelism: 1}, newDetector(t))
	res, err := h.Run(context.Background(), []Case{
		{Query: "wifi is dead", Expect: "sick"},
		{Query: "i feel sick", Expect: "sick"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := res.Metric("wrong_confident"); v != 1 {
		t.Errorf("expected 1 wrong confident, got %f", v)
	}
	if !res.Passed {
		t.Errorf("0.5 accuracy meets a 0.5 threshold: %s", res.Reason)
	}
}

func TestEvalDetectionErrorFails(t *testing.T) {
	h := NewEvalHarness(EvalConfig{MinAccuracy: 0, Parallelism: 2}, newDetector(t))
	res, err := h.Run(context.Background(), []Case{{Query: "never embedded", Expect: "sick"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed {
		t.Fatal("detection errors should fail the run")
	}
	if res.Cases[0].Err == "" || res.Cases[0].Decision != "error" {
		t.Errorf("expected recorded error, got %+v", res.Cases[0])
	}
}

func TestEvalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewEvalHarness(DefaultEvalConfig(), newDetector(t))
	_, err := h.Run(ctx, []Case{{Query: "hello"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadCases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.yaml")
	body := "cases:\n  - query: internet sucks\n    expect: network_slow\n  - query: hello\n    tags: [negative]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cases, err := LoadCases(path)
	if err != nil {
		t.Fatalf("LoadCases: %v", err)
	}
	if len(cases) != 2 || cases[1].label() != NoMatch || cases[1].Tags[0] != "negative" {
		t.Fatalf("unexpected cases %+v", cases)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("cases: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCases(empty); err == nil {
		t.Fatal("expected error for empty case list")
	}
}

// The shipped cases must label real situations, and every exact phrase must
// resolve under the offline embedder.
func TestShippedCases(t *testing.T) {
	root := filepath.Join("..", "..", "configs")
	corpus, err := situation.LoadFile(filepath.Join(root, "situations.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cases, err := LoadCases(filepath.Join(root, "eval_cases.yaml"))
	if err != nil {
		t.Fatalf("LoadCases: %v", err)
	}
	for _, c := range cases {
		if l := c.label(); l != NoMatch {
			if _, ok := corpus.Get(l); !ok {
				t.Errorf("case %q expects unknown situation %q", c.Query, l)
			}
		}
	}

	m := matcher.New(embedding.NewHashing(256), matcher.DefaultConfig(), nil)
	if err := m.Reload(context.Background(), corpus); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	h := NewEvalHarness(DefaultEvalConfig(), realDetector{m: m, g: gate.NewGate(gate.DefaultGateConfig())})
	res, err := h.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, cr := range res.Cases {
		if slices.Contains(cr.Case.Tags, "exact") && !cr.Correct {
			t.Errorf("exact case %q: predicted %s (%s)", cr.Case.Query, cr.Predicted, cr.Decision)
		}
	}
}
