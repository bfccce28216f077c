package matcher

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"go.uber.org/zap"
)

// #region config
// Config controls index building.
type Config struct {
	Parallelism int // max concurrent phrase embeddings during BuildIndex
}

// DefaultConfig returns sensible defaults for index building.
func DefaultConfig() Config {
	return Config{Parallelism: 4}
}

// #endregion config

// #region matcher
// Matcher scores utterances against the active Index. The index pointer is
// swapped atomically on reload, so a Match in flight keeps the version it
// loaded.
type Matcher struct {
	embedder embedding.Embedder
	config   Config
	index    atomic.Pointer[Index]
	logger   *zap.Logger
}

// New creates a Matcher with an empty index. Call Reload to install a corpus.
func New(emb embedding.Embedder, cfg Config, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{embedder: emb, config: cfg, logger: logger.Named("matcher")}
	m.index.Store(&Index{})
	return m
}

// Index returns the active index.
func (m *Matcher) Index() *Index {
	return m.index.Load()
}

// Corpus returns the active corpus.
func (m *Matcher) Corpus() *situation.Corpus {
	return m.index.Load().Corpus()
}

// #endregion matcher

// #region reload
// Reload builds an index for corpus and swaps it in. On error the previous
// index stays active.
func (m *Matcher) Reload(ctx context.Context, corpus *situation.Corpus) error {
	ix, err := BuildIndex(ctx, corpus, m.embedder, m.config.Parallelism)
	if err != nil {
		return fmt.Errorf("reload index: %w", err)
	}
	m.index.Store(ix)
	m.logger.Info("index swapped",
		zap.Int("situations", ix.Len()),
		zap.Int("dim", ix.Dim()))
	return nil
}

// #endregion reload

// #region match
// Match embeds utterance and scores every situation by its best-matching
// phrase. Situations scoring 0 or below are omitted. An empty index returns
// an empty Result without calling the embedder.
func (m *Matcher) Match(ctx context.Context, utterance string) (Result, error) {
	ix := m.index.Load()
	res := Result{Corpus: ix.Corpus()}
	if ix.Len() == 0 {
		return res, nil
	}

	raw, err := m.embedder.Embed(ctx, utterance)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(raw) != ix.dim {
		return res, fmt.Errorf("%w: utterance has dimension %d, index has %d", ErrEmbeddingFailure, len(raw), ix.dim)
	}
	q, err := unit(raw)
	if err != nil {
		return res, fmt.Errorf("%w: utterance: %v", ErrEmbeddingFailure, err)
	}

	for i, vecs := range ix.phrases {
		best, bestPhrase := 0.0, -1
		for j, p := range vecs {
			if s := cosine(q, p); s > best {
				best, bestPhrase = s, j
			}
		}
		if bestPhrase < 0 {
			continue
		}
		s := ix.corpus.At(i)
		res.Candidates = append(res.Candidates, Candidate{
			Key:    s.Key,
			Score:  best,
			Phrase: s.Phrases[bestPhrase],
			Order:  i,
		})
	}

	// Candidates are appended in corpus order; a stable sort keeps that as
	// the tie-break.
	sort.SliceStable(res.Candidates, func(a, b int) bool {
		return res.Candidates[a].Score > res.Candidates[b].Score
	})

	if best, ok := res.Best(); ok {
		m.logger.Debug("matched",
			zap.String("top", best.Key),
			zap.Float64("score", best.Score),
			zap.Int("candidates", len(res.Candidates)))
	}
	return res, nil
}

// #endregion match
