package matcher

import (
	"errors"

	"github.com/danielpatrickdp/situation-engine/internal/situation"
)

// #region errors
// ErrEmbeddingFailure is returned when the embedding provider fails or
// returns a malformed vector. It is never retried inside the matcher.
var ErrEmbeddingFailure = errors.New("embedding failure")

// #endregion errors

// #region candidate
// Candidate is one situation's score for an utterance.
type Candidate struct {
	Key    string
	Score  float64 // best phrase cosine similarity, in (0, 1]
	Phrase string  // the example phrase that scored best
	Order  int     // declaration index in the corpus
}

// #endregion candidate

// #region result
// Result is a ranked match list: descending score, ties in corpus order.
// Corpus is the exact corpus version the scores were computed against.
type Result struct {
	Candidates []Candidate
	Corpus     *situation.Corpus
}

// Best returns the top candidate, if any.
func (r Result) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// #endregion result
