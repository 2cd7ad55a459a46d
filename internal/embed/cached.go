package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codelens/codelens/internal/store"
)

// DefaultMemoryCacheSize is the in-memory LRU layer size. At 256
// dimensions * 4 bytes * 1000 entries that is about 1 MB.
const DefaultMemoryCacheSize = 1000

// CachedEmbedder wraps an Embedder with two cache layers: an in-memory
// LRU for repeated queries within a process, and the store's persistent
// content-addressed cache so re-indexing unchanged chunks never calls
// the model again. Keys are sha256(text + model), so a model change
// naturally misses.
type CachedEmbedder struct {
	inner  Embedder
	meta   store.MetadataStore
	memory *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder. meta may be nil, leaving
// only the in-memory layer active.
func NewCachedEmbedder(inner Embedder, meta store.MetadataStore, memorySize int) *CachedEmbedder {
	if memorySize <= 0 {
		memorySize = DefaultMemoryCacheSize
	}
	memory, _ := lru.New[string, []float32](memorySize)
	return &CachedEmbedder{inner: inner, meta: meta, memory: memory}
}

// cacheKey derives the content-addressed cache key for a text.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns a cached embedding when available, otherwise computes
// and stores one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.memory.Get(key); ok {
		return vec, nil
	}
	if vec, ok := c.lookupStore(ctx, key); ok {
		c.memory.Add(key, vec)
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, vec)
	return vec, nil
}

// EmbedBatch embeds texts, consulting both cache layers per text and
// batching only the misses to the inner embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.memory.Get(key); ok {
			results[i] = vec
			continue
		}
		if vec, ok := c.lookupStore(ctx, key); ok {
			c.memory.Add(key, vec)
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		results[idx] = computed[j]
		c.save(ctx, c.cacheKey(texts[idx]), computed[j])
	}
	return results, nil
}

func (c *CachedEmbedder) lookupStore(ctx context.Context, key string) ([]float32, bool) {
	if c.meta == nil {
		return nil, false
	}
	vec, found, err := c.meta.GetEmbedding(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	return vec, true
}

// save writes to both layers. A failed persistent write is not fatal:
// the embedding is still correct, just not cached across runs.
func (c *CachedEmbedder) save(ctx context.Context, key string, vec []float32) {
	c.memory.Add(key, vec)
	if c.meta != nil {
		_ = c.meta.PutEmbedding(ctx, key, vec)
	}
}

// Dimensions passes through to the inner embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available passes through to the inner embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
