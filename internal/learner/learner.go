package learner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"go.uber.org/zap"
)

// #region errors
// ErrPersistence marks a weight change that was applied in memory but could
// not be made durable. Learning continues; only durability is degraded.
var ErrPersistence = errors.New("weight persistence failed")

// #endregion errors

// #region store-interface
// Store is the durable side of the weight table.
type Store interface {
	LoadWeights(ctx context.Context) ([]state.WeightRecord, error)
	SaveWeight(ctx context.Context, ch state.WeightChange) error
	DeleteSituation(ctx context.Context, situationKey string) (int, error)
}

// #endregion store-interface

// #region event
// Event is one piece of feedback about an action taken for a situation.
type Event struct {
	SituationKey string
	Action       situation.Action
	Outcome      update.Outcome
	TurnID       string
}

// Adjustment reports what Record did.
type Adjustment struct {
	SituationKey string
	ActionKey    string
	Before       float64
	After        float64
	Decision     update.Decision
	Persisted    bool
}

// #endregion event

// #region learner
type pairKey struct {
	situation string
	action    string
}

type entry struct {
	weight float64
	anchor time.Time // decay is measured from here
}

// Learner owns the in-memory weight table. Reads run concurrently; every
// mutation and its persistence write are serialized by writeMu.
type Learner struct {
	store        Store
	config       update.UpdateConfig
	writeTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	weights map[pairKey]entry
}

// Option configures a Learner.
type Option func(*Learner)

// WithWriteTimeout bounds each persistence write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Learner) { l.writeTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// New creates a Learner with an empty table. Call Load to read the store.
func New(store Store, config update.UpdateConfig, logger *zap.Logger, opts ...Option) (*Learner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Learner{
		store:   store,
		config:  config,
		now:     time.Now,
		logger:  logger.Named("learner"),
		weights: map[pairKey]entry{},
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Config returns the update factors in use.
func (l *Learner) Config() update.UpdateConfig {
	return l.config
}

// #endregion learner

// #region load
// Load replaces the in-memory table with the store's contents. Stored
// weights outside the configured bounds are clamped.
func (l *Learner) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.LoadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}

	weights := make(map[pairKey]entry, len(records))
	for _, r := range records {
		w := update.Clamp(r.Weight, l.config.Min, l.config.Max)
		if w != r.Weight {
			l.logger.Warn("stored weight out of bounds, clamped",
				zap.String("situation", r.SituationKey),
				zap.String("action", r.ActionKey),
				zap.Float64("stored", r.Weight),
				zap.Float64("clamped", w))
		}
		weights[pairKey{r.SituationKey, r.ActionKey}] = entry{weight: w, anchor: r.UpdatedAt}
	}

	l.mu.Lock()
	l.weights = weights
	l.mu.Unlock()
	l.logger.Info("weights loaded", zap.Int("count", len(weights)))
	return nil
}

// #endregion load

// #region weight-of
// WeightOf returns the effective weight for a pair, 1.0 if never adjusted.
func (l *Learner) WeightOf(situationKey, actionKey string) float64 {
	l.mu.RLock()
	e, ok := l.weights[pairKey{situationKey, actionKey}]
	l.mu.RUnlock()
	if !ok {
		return update.DefaultWeight
	}
	return l.effective(e, l.now())
}

func (l *Learner) effective(e entry, now time.Time) float64 {
	if e.anchor.IsZero() {
		return e.weight
	}
	return update.Decay(e.weight, now.Sub(e.anchor), l.config.DecayHalfLife)
}

// #endregion weight-of

// #region record
// Record applies one feedback event. The in-memory weight always changes;
// a failed write returns the adjustment with Persisted=false and an error
// wrapping ErrPersistence.
func (l *Learner) Record(ctx context.Context, ev Event) (Adjustment, error) {
	key := pairKey{ev.SituationKey, ev.Action.Key()}
	adj := Adjustment{SituationKey: key.situation, ActionKey: key.action}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	now := l.now()
	l.mu.Lock()
	current := update.DefaultWeight
	if e, ok := l.weights[key]; ok {
		current = l.effective(e, now)
	}
	res := update.Update(current, ev.Outcome, l.config)
	adj.Before, adj.After, adj.Decision = res.Before, res.After, res.Decision
	if res.Decision.Action == "no_op" {
		l.mu.Unlock()
		adj.Persisted = true
		return adj, nil
	}
	l.weights[key] = entry{weight: res.After, anchor: now}
	l.mu.Unlock()

	if l.store == nil {
		return adj, nil
	}

	writeCtx := ctx
	if l.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, l.writeTimeout)
		defer cancel()
	}
	err := l.store.SaveWeight(writeCtx, state.WeightChange{
		WeightRecord: state.WeightRecord{
			SituationKey: key.situation,
			ActionKey:    key.action,
			Weight:       res.After,
			UpdatedAt:    now,
		},
		Before:  res.Before,
		Outcome: string(ev.Outcome),
		TurnID:  ev.TurnID,
	})
	if err != nil {
		l.logger.Warn("weight not persisted, continuing in memory",
			zap.String("situation", key.situation),
			zap.String("action", key.action),
			zap.Float64("weight", res.After),
			zap.Error(err))
		return adj, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	adj.Persisted = true

	l.logger.Debug("weight updated",
		zap.String("situation", key.situation),
		zap.String("action", key.action),
		zap.Float64("before", res.Before),
		zap.Float64("after", res.After),
		zap.String("outcome", string(ev.Outcome)))
	return adj, nil
}

// #endregion record

// #region reset
// Reset forgets every learned weight for a situation. The store is cleared
// first; on failure memory is left untouched.
func (l *Learner) Reset(ctx context.Context, situationKey string) (int, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.store != nil {
		if _, err := l.store.DeleteSituation(ctx, situationKey); err != nil {
			return 0, fmt.Errorf("%w: reset %s: %w", ErrPersistence, situationKey, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.weights {
		if k.situation == situationKey {
			delete(l.weights, k)
			n++
		}
	}
	l.logger.Info("weights reset", zap.String("situation", situationKey), zap.Int("count", n))
	return n, nil
}

// #endregion reset

// #region snapshot
// Snapshot returns every learned pair with its effective weight, sorted by key.
func (l *Learner) Snapshot() []state.WeightRecord {
	now := l.now()
	l.mu.RLock()
	out := make([]state.WeightRecord, 0, len(l.weights))
	for k, e := range l.weights {
		out = append(out, state.WeightRecord{
			SituationKey: k.situation,
			ActionKey:    k.action,
			Weight:       l.effective(e, now),
			UpdatedAt:    e.anchor,
		})
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SituationKey != out[j].SituationKey {
			return out[i].SituationKey < out[j].SituationKey
		}
		return out[i].ActionKey < out[j].ActionKey
	})
	return out
}

// #endregion snapshot
