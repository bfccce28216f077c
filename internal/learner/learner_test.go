package learner

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	wifi   = situation.Action{Tool: "wifi", Operation: "reconnect"}
	search = situation.Action{Tool: "web", Operation: "search", Params: map[string]string{"query": "home remedies"}}
)

// #region helpers
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLearner(t *testing.T, store Store, cfg update.UpdateConfig) (*Learner, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(store, cfg, nil, WithClock(clk.Now), WithWriteTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	return l, clk
}

func ev(sit string, a situation.Action, o update.Outcome) Event {
	return Event{SituationKey: sit, Action: a, Outcome: o, TurnID: "t1"}
}

// #endregion helpers

// #region record-tests

func TestUnseenPairDefaultsToOne(t *testing.T) {
	l, _ := newLearner(t, state.NewMemoryStore(), update.DefaultUpdateConfig())
	assert.Equal(t, 1.0, l.WeightOf("network_slow", "wifi.reconnect"))
}

func TestAcceptThenRejectTwice(t *testing.T) {
	store := state.NewMemoryStore()
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())
	ctx := context.Background()

	adj, err := l.Record(ctx, ev("network_slow", wifi, update.OutcomeAccepted))
	require.NoError(t, err)
	assert.True(t, adj.Persisted)
	assert.InDelta(t, 1.10, l.WeightOf("network_slow", wifi.Key()), 1e-9)

	_, err = l.Record(ctx, ev("sick", search, update.OutcomeRejected))
	require.NoError(t, err)
	_, err = l.Record(ctx, ev("sick", search, update.OutcomeRejected))
	require.NoError(t, err)
	assert.InDelta(t, 0.81, l.WeightOf("sick", search.Key()), 1e-9)

	// other pairs are independent
	assert.Equal(t, 1.0, l.WeightOf("sick", wifi.Key()))
	assert.Len(t, store.Changes(), 3)
	assert.Equal(t, "web.search.query=home+remedies", store.Changes()[1].ActionKey)
}

func TestFeedbackSequences(t *testing.T) {
	webSearch := situation.Action{Tool: "web", Operation: "search"}
	tests := []struct {
		name     string
		outcomes []update.Outcome
		want     []float64
	}{
		{
			name:     "reject then accept",
			outcomes: []update.Outcome{update.OutcomeRejected, update.OutcomeAccepted},
			want:     []float64{0.90, 0.99},
		},
		{
			name:     "accept then reject",
			outcomes: []update.Outcome{update.OutcomeAccepted, update.OutcomeRejected},
			want:     []float64{1.10, 0.99},
		},
		{
			name:     "neutral between",
			outcomes: []update.Outcome{update.OutcomeRejected, update.OutcomeNeutral, update.OutcomeAccepted},
			want:     []float64{0.90, 0.90, 0.99},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "weights.db")
			store, err := state.NewStore(path)
			require.NoError(t, err)
			l, _ := newLearner(t, store, update.DefaultUpdateConfig())

			for i, o := range tt.outcomes {
				_, err := l.Record(ctx, ev("sick", webSearch, o))
				require.NoError(t, err)
				assert.InDelta(t, tt.want[i], l.WeightOf("sick", "web.search"), 1e-9, "after event %d (%s)", i, o)
			}
			require.NoError(t, store.Close())

			reopened, err := state.NewStore(path)
			require.NoError(t, err)
			defer reopened.Close()
			l2, _ := newLearner(t, reopened, update.DefaultUpdateConfig())
			assert.InDelta(t, tt.want[len(tt.want)-1], l2.WeightOf("sick", "web.search"), 1e-9)
		})
	}
}

func TestNeutralIsNoOpWithoutWrite(t *testing.T) {
	store := state.NewMemoryStore()
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())

	adj, err := l.Record(context.Background(), ev("sick", search, update.OutcomeNeutral))
	require.NoError(t, err)
	assert.Equal(t, "no_op", adj.Decision.Action)
	assert.Empty(t, store.Changes())
	assert.Equal(t, 1.0, l.WeightOf("sick", search.Key()))
}

func TestPersistenceFailureKeepsInMemoryWeight(t *testing.T) {
	store := state.NewMemoryStore()
	store.FailWith = errors.New("disk full")
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())

	adj, err := l.Record(context.Background(), ev("network_slow", wifi, update.OutcomeAccepted))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, adj.Persisted)
	assert.InDelta(t, 1.10, adj.After, 1e-9)
	assert.InDelta(t, 1.10, l.WeightOf("network_slow", wifi.Key()), 1e-9)
}

func TestBoundsHold(t *testing.T) {
	cfg := update.DefaultUpdateConfig()
	l, _ := newLearner(t, nil, cfg)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		l.Record(ctx, ev("a", wifi, update.OutcomeAccepted))
		l.Record(ctx, ev("b", wifi, update.OutcomeRejected))
	}
	assert.Equal(t, cfg.Max, l.WeightOf("a", wifi.Key()))
	assert.Equal(t, cfg.Min, l.WeightOf("b", wifi.Key()))
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := New(nil, update.UpdateConfig{Increment: 1.1, Decrement: 0.9}, nil)
	assert.Error(t, err)
}

// #endregion record-tests

// #region decay-tests

func TestDecayOnRead(t *testing.T) {
	cfg := update.DefaultUpdateConfig()
	cfg.DecayHalfLife = 24 * time.Hour
	store := state.NewMemoryStore()
	l, clk := newLearner(t, store, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(ctx, ev("a", wifi, update.OutcomeAccepted))
	}
	peak := l.WeightOf("a", wifi.Key())
	assert.InDelta(t, math.Pow(1.1, 5), peak, 1e-9)

	clk.Advance(24 * time.Hour)
	first := l.WeightOf("a", wifi.Key())
	second := l.WeightOf("a", wifi.Key())
	assert.InDelta(t, 1+(peak-1)/2, first, 1e-9)
	assert.Equal(t, first, second, "repeated reads at the same time must agree")

	// the next update starts from the decayed value
	adj, err := l.Record(ctx, ev("a", wifi, update.OutcomeRejected))
	require.NoError(t, err)
	assert.InDelta(t, first, adj.Before, 1e-9)
	assert.InDelta(t, first*0.9, adj.After, 1e-9)
}

// #endregion decay-tests

// #region load-tests

func TestLoadClampsAndRestores(t *testing.T) {
	anchor := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := state.NewMemoryStore(
		state.WeightRecord{SituationKey: "sick", ActionKey: "web.search", Weight: 9, UpdatedAt: anchor},
		state.WeightRecord{SituationKey: "tired", ActionKey: "music.play", Weight: 0.5, UpdatedAt: anchor},
	)
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())
	assert.Equal(t, 3.0, l.WeightOf("sick", "web.search"))
	assert.Equal(t, 0.5, l.WeightOf("tired", "music.play"))
	assert.Len(t, l.Snapshot(), 2)
}

func TestSurvivesRestartWithSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.db")
	store, err := state.NewStore(path)
	require.NoError(t, err)
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())
	_, err = l.Record(context.Background(), ev("network_slow", wifi, update.OutcomeAccepted))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store2, err := state.NewStore(path)
	require.NoError(t, err)
	defer store2.Close()
	l2, _ := newLearner(t, store2, update.DefaultUpdateConfig())
	assert.InDelta(t, 1.10, l2.WeightOf("network_slow", wifi.Key()), 1e-9)
}

// #endregion load-tests

// #region reset-tests

func TestReset(t *testing.T) {
	store := state.NewMemoryStore()
	l, _ := newLearner(t, store, update.DefaultUpdateConfig())
	ctx := context.Background()
	l.Record(ctx, ev("sick", search, update.OutcomeRejected))
	l.Record(ctx, ev("sick", wifi, update.OutcomeRejected))
	l.Record(ctx, ev("network_slow", wifi, update.OutcomeAccepted))

	n, err := l.Reset(ctx, "sick")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1.0, l.WeightOf("sick", search.Key()))
	assert.InDelta(t, 1.10, l.WeightOf("network_slow", wifi.Key()), 1e-9)

	records, _ := store.LoadWeights(ctx)
	assert.Len(t, records, 1)
}

// #endregion reset-tests

// #region concurrency-tests

func TestConcurrentRecordsSerialize(t *testing.T) {
	cfg := update.DefaultUpdateConfig()
	cfg.Max = 1000
	store := state.NewMemoryStore()
	l, _ := newLearner(t, store, cfg)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := l.Record(context.Background(), ev("a", wifi, update.OutcomeAccepted))
			return err
		})
		g.Go(func() error {
			_ = l.WeightOf("a", wifi.Key())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// no lost updates: 20 serialized multiplications
	assert.InDelta(t, math.Pow(1.1, 20), l.WeightOf("a", wifi.Key()), 1e-6)
	changes := store.Changes()
	require.Len(t, changes, 20)
	for i := 1; i < len(changes); i++ {
		assert.InDelta(t, changes[i-1].Weight, changes[i].Before, 1e-9, "write %d saw a stale weight", i)
	}
}

// #endregion concurrency-tests
