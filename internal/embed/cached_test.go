package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/store"
)

// countingEmbedder wraps the static embedder and counts model calls.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.StaticEmbedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func newCachedTestEmbedder(t *testing.T) (*CachedEmbedder, *countingEmbedder, store.MetadataStore) {
	t.Helper()
	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	return NewCachedEmbedder(inner, meta, 10), inner, meta
}

func TestCachedEmbedMemoryHit(t *testing.T) {
	cached, inner, _ := newCachedTestEmbedder(t)
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), inner.calls.Load(), "second call must hit the memory cache")
}

func TestCachedEmbedPersistentHit(t *testing.T) {
	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	ctx := context.Background()

	first := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c1 := NewCachedEmbedder(first, meta, 10)
	want, err := c1.Embed(ctx, "persisted text")
	require.NoError(t, err)

	// A fresh embedder with an empty memory layer finds the store entry.
	second := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c2 := NewCachedEmbedder(second, meta, 10)
	got, err := c2.Embed(ctx, "persisted text")
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, int64(0), second.calls.Load())
}

func TestCachedEmbedBatchOnlyComputesMisses(t *testing.T) {
	cached, inner, _ := newCachedTestEmbedder(t)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)
	require.Equal(t, int64(1), inner.calls.Load())

	results, err := cached.EmbedBatch(ctx, []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, v := range results {
		assert.Len(t, v, StaticDimensions)
	}
	assert.Equal(t, int64(3), inner.calls.Load(), "only the two misses go to the model")
}

func TestCachedEmbedKeyIncludesModelName(t *testing.T) {
	c := NewCachedEmbedder(NewStaticEmbedder(), nil, 10)

	k1 := c.cacheKey("same text")
	k2 := c.cacheKey("other text")
	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestCachedEmbedderNilStore(t *testing.T) {
	c := NewCachedEmbedder(NewStaticEmbedder(), nil, 10)

	v, err := c.Embed(context.Background(), "no persistent layer")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	assert.Equal(t, "static", c.ModelName())
	assert.Equal(t, StaticDimensions, c.Dimensions())
}
