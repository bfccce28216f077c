package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// #region cache
// Cache memoizes successful embeddings in a bounded LRU. Errors are never cached.
type Cache struct {
	next Embedder
	lru  *lru.Cache[string, []float32]
}

// NewCache wraps next with an LRU of the given size.
func NewCache(next Embedder, size int) (*Cache, error) {
	l, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cache{next: next, lru: l}, nil
}

// Embed returns the cached vector for text or delegates and stores the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lru.Get(text); ok {
		return clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Add(text, clone(v))
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached entry. Call after switching model versions.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// #endregion cache
