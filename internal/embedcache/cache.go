// Package embedcache memoises embedding requests.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lynassistant/lyn/internal/metrics"
	"github.com/lynassistant/lyn/internal/schema"
)

// Cache stores embeddings by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}

// flightTimeout bounds a shared backend call. The call runs detached from
// every caller, so one caller giving up does not fail the others.
const flightTimeout = 2 * time.Minute

// CachedEmbedder wraps an Embedder with a Cache. Cache failures are logged
// and fall through to the wrapped embedder; concurrent requests for the same
// text share one backend call.
type CachedEmbedder struct {
	next          schema.Embedder
	cache         Cache
	ttl           time.Duration
	flightTimeout time.Duration
	group         singleflight.Group
}

// Compile-time check
var _ schema.Embedder = (*CachedEmbedder)(nil)

func New(next schema.Embedder, cache Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl, flightTimeout: flightTimeout}
}

func (c *CachedEmbedder) Model() string { return c.next.Model() }

// Key is the cache key for text under model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "lyn:embed:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(c.next.Model(), text)

	vec, ok, err := c.cache.Get(ctx, key)
	cacheUp := err == nil
	switch {
	case err != nil:
		metrics.EmbeddingCache.WithLabelValues("error").Inc()
		slog.Warn("embedding cache get failed", "err", err)
	case ok:
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return vec, nil
	default:
		metrics.EmbeddingCache.WithLabelValues("miss").Inc()
	}

	flight := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		vec, err := c.next.Embed(fctx, text)
		if err != nil {
			return nil, err
		}
		if cacheUp {
			if err := c.cache.Set(fctx, key, vec, c.ttl); err != nil {
				slog.Warn("embedding cache set failed", "err", err)
			}
		}
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]float32)), nil
	}
}
