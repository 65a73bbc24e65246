package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoizes query embeddings in an expiring LRU. Document
// embeddings pass straight through since each ingestion embeds new text.
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbedder wraps next with a query cache. A non-positive size or
// ttl disables caching and returns next unchanged.
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration) Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &CachedEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *CachedEmbedder) Name() string    { return c.next.Name() }
func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.Embed(ctx, texts)
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.Name(), text)
	if cached, ok := c.cache.Get(key); ok {
		return cloneVector(cached), nil
	}

	var vec []float32
	if qe, ok := c.next.(QueryEmbedder); ok {
		v, err := qe.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vec = v
	} else {
		vecs, err := c.next.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, errors.New("provider returned no vector for query")
		}
		vec = vecs[0]
	}

	c.cache.Add(key, cloneVector(vec))
	return vec, nil
}

// Purge drops all cached query vectors.
func (c *CachedEmbedder) Purge() { c.cache.Purge() }

// Len returns the number of cached query vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
