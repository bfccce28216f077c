package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// #region stopwords
// stopwords are dropped before hashing. Negations stay: "not working" and
// "working" should not collapse onto the same vector.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"be": true, "been": true, "will": true, "would": true, "could": true,
	"should": true, "and": true, "or": true, "but": true, "so": true,
	"at": true, "by": true, "for": true, "from": true, "in": true,
	"of": true, "on": true, "to": true, "with": true, "it": true,
	"its": true, "this": true, "that": true, "i": true, "me": true,
	"my": true, "you": true, "your": true, "am": true, "im": true,
	"hai": true, "ho": true, "ka": true, "ki": true, "ke": true,
}

// #endregion stopwords

// #region hashing
// Hashing is an offline, deterministic bag-of-features embedder: word tokens
// and character trigrams are hashed into Dim signed buckets. It needs no
// model service and is stable across processes, which makes it suitable for
// demos and for running the pipeline without the inference sidecar.
type Hashing struct {
	Dim int
}

// NewHashing returns a hashing embedder with the given dimensionality.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 256
	}
	return &Hashing{Dim: dim}
}

// Embed hashes text into a Dim-length vector. Text with no features yields a
// zero vector, which scores 0 against everything.
func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dim)
	for _, tok := range tokenize(text) {
		h.add(vec, "w:"+tok, 1.0)
		padded := "#" + tok + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "c:"+string(runes[i:i+3]), 0.5)
		}
	}
	return vec, nil
}

func (h *Hashing) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.Dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize splits text into lowercase non-stopword tokens.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// #endregion hashing
