package matcher

import (
	"context"
	"fmt"
	"math"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"golang.org/x/sync/errgroup"
)

// #region index
// Index pairs a corpus with its precomputed, unit-normalized phrase
// embeddings. It is immutable; a corpus change builds a new Index.
type Index struct {
	corpus  *situation.Corpus
	phrases [][][]float64 // [situation][phrase] unit vector
	dim     int
}

// Corpus returns the indexed corpus.
func (ix *Index) Corpus() *situation.Corpus {
	if ix == nil {
		return nil
	}
	return ix.corpus
}

// Dim returns the embedding dimensionality, 0 for an empty index.
func (ix *Index) Dim() int {
	if ix == nil {
		return 0
	}
	return ix.dim
}

// Len returns the number of indexed situations.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.phrases)
}

// #endregion index

// #region build
// BuildIndex embeds every phrase in the corpus, at most parallelism requests
// in flight. All vectors must share one dimensionality.
func BuildIndex(ctx context.Context, corpus *situation.Corpus, emb embedding.Embedder, parallelism int) (*Index, error) {
	ix := &Index{corpus: corpus}
	n := corpus.Len()
	if n == 0 {
		return ix, nil
	}
	if parallelism < 1 {
		parallelism = 1
	}

	raw := make([][][]float32, n)
	for i := 0; i < n; i++ {
		raw[i] = make([][]float32, len(corpus.At(i).Phrases))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := 0; i < n; i++ {
		s := corpus.At(i)
		for j, phrase := range s.Phrases {
			g.Go(func() error {
				v, err := emb.Embed(gctx, phrase)
				if err != nil {
					return fmt.Errorf("%w: situation %q phrase %q: %w", ErrEmbeddingFailure, s.Key, phrase, err)
				}
				raw[i][j] = v
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ix.phrases = make([][][]float64, n)
	for i := range raw {
		ix.phrases[i] = make([][]float64, len(raw[i]))
		for j, v := range raw[i] {
			if ix.dim == 0 {
				ix.dim = len(v)
			}
			if len(v) == 0 || len(v) != ix.dim {
				return nil, fmt.Errorf("%w: phrase %q has dimension %d, expected %d",
					ErrEmbeddingFailure, corpus.At(i).Phrases[j], len(v), ix.dim)
			}
			u, err := unit(v)
			if err != nil {
				return nil, fmt.Errorf("%w: phrase %q: %v", ErrEmbeddingFailure, corpus.At(i).Phrases[j], err)
			}
			ix.phrases[i][j] = u
		}
	}
	return ix, nil
}

// #endregion build

// #region vector-math
// unit returns v scaled to L2 norm 1. A zero vector stays zero (it scores 0
// against everything); non-finite components are rejected.
func unit(v []float32) ([]float64, error) {
	out := make([]float64, len(v))
	var sumSq float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite component at index %d", i)
		}
		out[i] = f
		sumSq += f * f
	}
	if sumSq == 0 {
		return out, nil
	}
	norm := math.Sqrt(sumSq)
	for i := range out {
		out[i] /= norm
	}
	return out, nil
}

// cosine computes the dot product of two unit vectors, clamped to [-1, 1].
func cosine(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return dot
}

// #endregion vector-math
