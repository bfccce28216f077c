package app

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/situation-engine/internal/codec"
	"github.com/danielpatrickdp/situation-engine/internal/config"
	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/learner"
	"github.com/danielpatrickdp/situation-engine/internal/logging"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/replay"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/state"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// #endregion

// #region bootstrap

// Bootstrap loads configuration and builds the process logger. verbose forces
// debug level.
func Bootstrap(configPath string, verbose bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// #endregion

// #region stores

// Stores is the durable side of the engine: the weight table and the
// turn/feedback journal. With the sqlite backend both live in one database.
type Stores struct {
	Weights state.WeightStore
	SQLite  *state.Store // nil for the file backend
	Journal *sql.DB

	closers []func() error
}

// OpenStores opens the configured weight backend and the journal, and runs
// journal migrations.
func OpenStores(cfg *config.Config) (*Stores, error) {
	s := &Stores{}
	switch cfg.Weights.Backend {
	case "file":
		fs, err := state.NewFileStore(cfg.Weights.File)
		if err != nil {
			return nil, err
		}
		s.Weights = fs
		s.closers = append(s.closers, fs.Close)

		db, err := sql.Open("sqlite", cfg.DBPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.Journal = db
		s.closers = append(s.closers, db.Close)
	default:
		st, err := state.NewStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.Weights = st
		s.SQLite = st
		s.Journal = st.DB()
		s.closers = append(s.closers, st.Close)
	}
	if err := logging.Migrate(s.Journal); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return s, nil
}

// Close releases every store, newest first.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// #endregion

// #region runtime

// Runtime is a fully wired engine built from configuration.
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Stores   *Stores
	Matcher  *matcher.Matcher
	Learner  *learner.Learner
	Executor executor.Executor
	Engine   *session.Engine
	Signals  *signals.Producer

	client  *codec.CodecClient
	watcher *situation.Watcher
}

// Option adjusts a Runtime before it is wired.
type Option func(*options)

type options struct {
	embedder embedding.Embedder
	executor executor.Executor
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithExecutor replaces the configured executor.
func WithExecutor(ex executor.Executor) Option {
	return func(o *options) { o.executor = ex }
}

// New wires every component from cfg: stores, embedder, matcher (indexed
// against the corpus file), learner (loaded), planner, executor and engine.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.Stores, err = OpenStores(cfg); err != nil {
		return nil, err
	}

	emb := o.embedder
	if emb == nil {
		if emb, err = rt.embedder(); err != nil {
			return nil, err
		}
	}

	corpus, err := situation.LoadFile(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	rt.Matcher = matcher.New(emb, cfg.MatcherConfig(), logger)
	if err = rt.Matcher.Reload(ctx, corpus); err != nil {
		return nil, err
	}

	rt.Learner, err = learner.New(rt.Stores.Weights, cfg.UpdateConfig(), logger,
		learner.WithWriteTimeout(cfg.Learner.WriteTimeout))
	if err != nil {
		return nil, err
	}
	if err = rt.Learner.Load(ctx); err != nil {
		return nil, err
	}

	pc, err := cfg.PlannerConfig()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	rt.Executor = o.executor
	if rt.Executor == nil {
		if rt.Executor, err = rt.executor(); err != nil {
			return nil, err
		}
	}

	rt.Engine = session.NewEngine(
		rt.Matcher,
		gate.NewGate(cfg.GateConfig()),
		planner.New(pc, rt.Learner, logger),
		rt.Executor,
		rt.Learner,
		session.WithJournal(rt.Stores.Journal),
		session.WithPolicy(policy),
		session.WithLogger(logger),
	)
	rt.Signals = signals.NewSysfsProducer(cfg.ProducerConfig(), logger)

	logger.Info("engine ready",
		zap.String("corpus", cfg.CorpusPath),
		zap.Int("situations", corpus.Len()),
		zap.String("weights", cfg.Weights.Backend),
		zap.String("embedder", cfg.Embedder.Kind),
		zap.String("executor", cfg.Executor.Kind))
	return rt, nil
}

// #endregion

// #region providers

func (rt *Runtime) codecClient() (*codec.CodecClient, error) {
	if rt.client != nil {
		return rt.client, nil
	}
	c, err := codec.NewCodecClient(rt.Config.Embedder.Addr)
	if err != nil {
		return nil, err
	}
	rt.client = c
	return c, nil
}

// embedder builds the provider chain: source → retry/breaker → cache.
func (rt *Runtime) embedder() (embedding.Embedder, error) {
	cfg := rt.Config.Embedder
	var emb embedding.Embedder
	switch cfg.Kind {
	case "grpc":
		c, err := rt.codecClient()
		if err != nil {
			return nil, err
		}
		emb = embedding.NewResilient(c, rt.Config.RetryConfig(), rt.Logger)
	default:
		emb = embedding.NewHashing(cfg.Dim)
	}
	if cfg.CacheSize > 0 {
		cache, err := embedding.NewCache(emb, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		emb = cache
	}
	return emb, nil
}

func (rt *Runtime) executor() (executor.Executor, error) {
	if rt.Config.Executor.Kind != "grpc" {
		return executor.NewDryRun(rt.Logger), nil
	}
	if rt.client != nil && rt.Config.Executor.Addr == rt.Config.Embedder.Addr {
		return rt.client, nil
	}
	c, err := codec.NewCodecClient(rt.Config.Executor.Addr)
	if err != nil {
		return nil, err
	}
	if rt.client == nil {
		rt.client = c
	}
	return c, nil
}

// #endregion

// #region watch

// WatchCorpus hot-reloads the corpus file into the matcher until ctx ends or
// Close is called. A no-op unless watch_corpus is set.
func (rt *Runtime) WatchCorpus(ctx context.Context) error {
	if !rt.Config.WatchCorpus || rt.watcher != nil {
		return nil
	}
	w, err := situation.NewWatcher(rt.Config.CorpusPath, func(c *situation.Corpus) error {
		return rt.Matcher.Reload(ctx, c)
	}, rt.Logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	rt.watcher = w
	return nil
}

// #endregion

// #region close

// Close stops the watcher and releases connections and stores.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.watcher != nil {
		rt.watcher.Stop()
		rt.watcher = nil
	}
	if c, ok := rt.Executor.(*codec.CodecClient); ok && c != rt.client {
		errs = append(errs, c.Close())
	}
	if rt.client != nil {
		errs = append(errs, rt.client.Close())
		rt.client = nil
	}
	if rt.Stores != nil {
		errs = append(errs, rt.Stores.Close())
	}
	return errors.Join(errs...)
}

// #endregion

// #region export

// ReplayConfig is the live component configuration in replay form.
func ReplayConfig(cfg *config.Config) (replay.ReplayConfig, error) {
	pc, err := cfg.PlannerConfig()
	if err != nil {
		return replay.ReplayConfig{}, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return replay.ReplayConfig{}, err
	}
	return replay.ReplayConfig{
		GateConfig:    cfg.GateConfig(),
		UpdateConfig:  cfg.UpdateConfig(),
		PlannerConfig: pc,
		Policy:        policy,
	}, nil
}

// ExportFixture turns one journaled session into a replay fixture against the
// configured corpus. The local embedder is recorded by kind and dimension;
// a remote provider is materialized into a vector table.
func ExportFixture(ctx context.Context, cfg *config.Config, logger *zap.Logger, sessionID string, limit int) (*replay.Fixture, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	corpus, err := situation.LoadFile(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	f, err := replay.ExportSession(st.Journal, corpus,
		replay.FixtureEmbedder{Kind: "hashing", Dim: cfg.Embedder.Dim}, sessionID, limit)
	if err != nil {
		return nil, err
	}
	f.Config = replay.FixtureConfig{
		Resolver: replay.FixtureResolverConfig{
			ConfidentThreshold: cfg.Resolver.ConfidentThreshold,
			AmbiguityMargin:    cfg.Resolver.AmbiguityMargin,
			MaxCandidates:      cfg.Resolver.MaxCandidates,
		},
		Learner: replay.FixtureLearnerConfig{
			Increment: cfg.Learner.Increment,
			Decrement: cfg.Learner.Decrement,
			Min:       cfg.Learner.Min,
			Max:       cfg.Learner.Max,
		},
		Policy: replay.FixturePolicy{
			OnSuccess: cfg.Feedback.OnSuccess,
			OnFailure: cfg.Feedback.OnFailure,
		},
	}

	if cfg.Embedder.Kind == "grpc" {
		client, err := codec.NewCodecClient(cfg.Embedder.Addr)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		if err := f.Materialize(ctx, embedding.NewResilient(client, cfg.RetryConfig(), logger)); err != nil {
			return nil, err
		}
	}
	logger.Info("exported session",
		zap.String("session", sessionID),
		zap.Int("turns", len(f.Turns)),
		zap.String("embedder", f.Embedder.Kind))
	return f, nil
}

// #endregion
