package embedding

import (
	"context"
	"errors"
	"fmt"
)

// #region embedder-interface
// Embedder maps text to a fixed-length vector. Implementations must be
// deterministic for a given model version and keep one dimensionality for
// the lifetime of the process.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts an ordinary function to the Embedder interface.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// #endregion embedder-interface

// #region table
// ErrUnknownText is returned by Table for text it has no vector for.
var ErrUnknownText = errors.New("no embedding for text")

// Table is a static text → vector embedder, used by replay fixtures and tests.
type Table map[string][]float32

// Embed returns a copy of the stored vector for text.
func (t Table) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := t[text]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownText, text)
	}
	return clone(v), nil
}

// #endregion table

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
