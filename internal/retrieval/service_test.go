package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/store"
)

// retrievalHarness wires a Service against real in-memory stores.
type retrievalHarness struct {
	meta     *store.SQLiteStore
	vecs     *store.HNSWStore
	graph    *store.MemoryGraph
	embedder *embed.StaticEmbedder
}

func newRetrievalHarness(t *testing.T) *retrievalHarness {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vecs, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	return &retrievalHarness{
		meta:     meta,
		vecs:     vecs,
		graph:    store.NewMemoryGraph(),
		embedder: embed.NewStaticEmbedder(),
	}
}

func (h *retrievalHarness) service(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return NewService(h.meta, h.vecs, h.graph, h.embedder, opts...)
}

// seed indexes one single-chunk file with the given content.
func (h *retrievalHarness) seed(t *testing.T, id, path, content string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.meta.InsertFileMeta(ctx, []*store.FileMeta{{
		Path:         path,
		ContentHash:  "h-" + id,
		LastModified: time.Now(),
		Size:         int64(len(content)),
		Language:     "go",
	}}))
	require.NoError(t, h.meta.InsertChunks(ctx, []*store.Chunk{{
		ID:          id,
		FilePath:    path,
		Content:     content,
		StartLine:   1,
		EndLine:     10,
		ContentHash: "h-" + id,
		Type:        store.ChunkTypeCode,
	}}))

	vec, err := h.embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, h.vecs.Add(ctx, []string{id}, [][]float32{vec}))
}

func (h *retrievalHarness) seedDefaults(t *testing.T) {
	h.seed(t, "c-auth", "internal/auth.go",
		"func Authenticate validates the user session token before granting access")
	h.seed(t, "c-db", "internal/db.go",
		"func OpenDatabase connects to the sqlite database and applies migrations")
	h.seed(t, "c-auth-test", "internal/auth_test.go",
		"func TestAuthenticate is a unit test covering the session token check")
}

func chunkPaths(results []*store.FusedChunk) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.Chunk.FilePath
	}
	return paths
}

func pathIndex(paths []string, want string) int {
	for i, p := range paths {
		if p == want {
			return i
		}
	}
	return -1
}

func TestRetrieveEmptyQuery(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Nil(t, result.SymbolExpansion)
	assert.Empty(t, result.TextView)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	h := newRetrievalHarness(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "authenticate session", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestRetrieveRanksRelevantChunkFirst(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "authenticate user session token", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)

	top := result.Chunks[0]
	assert.Equal(t, "internal/auth.go", top.Chunk.FilePath)
	assert.True(t, top.HasSource(store.SourceBM25))
	assert.Contains(t, result.TextView, "internal/auth.go")
}

func TestRetrieveTestFileRanksBelowProduction(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "authenticate session token", Options{})
	require.NoError(t, err)

	paths := chunkPaths(result.Chunks)
	prod := pathIndex(paths, "internal/auth.go")
	test := pathIndex(paths, "internal/auth_test.go")
	require.GreaterOrEqual(t, prod, 0)
	require.GreaterOrEqual(t, test, 0)
	assert.Less(t, prod, test)
}

func TestRetrieveTestRelatedQuerySkipsPenalty(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "unit test covering the session token", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "internal/auth_test.go", result.Chunks[0].Chunk.FilePath)
}

func TestRetrieveMinScoreThresholdFiltersAll(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	// Raw RRF scores sit far below 0.9.
	result, err := s.Retrieve(context.Background(), "authenticate session",
		Options{MinScoreThreshold: 0.9})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestRetrieveTopKLimitsResults(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "authenticate session", Options{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 1)
}

func TestRetrieveGraphExpansion(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	require.NoError(t, h.graph.AddEdges(context.Background(), []store.GraphEdge{
		{From: "c-auth", To: "c-db", Kind: "calls"},
	}))
	s := h.service(t)

	result, err := s.Retrieve(context.Background(), "authenticate user session token",
		Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	require.NotNil(t, result.SymbolExpansion)
	require.NotEmpty(t, result.SymbolExpansion.Chunks)

	expanded := result.SymbolExpansion.Chunks[0]
	assert.Equal(t, "internal/db.go", expanded.Chunk.FilePath)
	assert.NotEmpty(t, result.SymbolExpansion.Edges)

	// Expansion always ranks strictly below every primary result.
	minPrimary := result.Chunks[len(result.Chunks)-1].FusedScore
	for _, e := range result.SymbolExpansion.Chunks {
		assert.Less(t, e.FusedScore, minPrimary)
	}
	assert.Contains(t, result.TextView, "internal/db.go")
}

func TestRetrieveGraphDisabled(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	require.NoError(t, h.graph.AddEdges(context.Background(), []store.GraphEdge{
		{From: "c-auth", To: "c-db", Kind: "calls"},
	}))
	s := h.service(t)

	off := false
	result, err := s.Retrieve(context.Background(), "authenticate user session token",
		Options{TopK: 1, EnableGraph: &off})
	require.NoError(t, err)
	assert.Nil(t, result.SymbolExpansion)
}

// failingVectorStore errors on every search.
type failingVectorStore struct{}

func (f *failingVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (f *failingVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorHit, error) {
	return nil, fmt.Errorf("index unavailable")
}

func (f *failingVectorStore) Delete(ctx context.Context, ids []string) error { return nil }
func (f *failingVectorStore) Count() int                                     { return 0 }
func (f *failingVectorStore) Save(path string) error                         { return nil }
func (f *failingVectorStore) Load(path string) error                         { return nil }
func (f *failingVectorStore) Close() error                                   { return nil }

func TestRetrieveDegradesWhenVectorSearchFails(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)
	s := NewService(h.meta, &failingVectorStore{}, h.graph, h.embedder,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	result, err := s.Retrieve(context.Background(), "authenticate user session token", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "internal/auth.go", result.Chunks[0].Chunk.FilePath)
	assert.False(t, result.Chunks[0].HasSource(store.SourceVector))
}

// fakeEnhancer returns a canned enhancement and records its input.
type fakeEnhancer struct {
	enh *Enhancement
	err error

	gotQuery string
	gotLangs []string
}

func (e *fakeEnhancer) Enhance(ctx context.Context, query string, primaryLanguages []string) (*Enhancement, error) {
	e.gotQuery = query
	e.gotLangs = primaryLanguages
	return e.enh, e.err
}

func TestRetrieveEnhancerFanout(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)

	enh := &fakeEnhancer{enh: &Enhancement{
		BM25Queries:   []string{"sqlite database migrations"},
		VectorQueries: []string{"connect to the database"},
	}}
	s := h.service(t, WithEnhancer(enh))

	result, err := s.Retrieve(context.Background(), "authenticate session token", Options{})
	require.NoError(t, err)

	assert.Equal(t, "authenticate session token", enh.gotQuery)
	assert.Contains(t, enh.gotLangs, "go")

	paths := chunkPaths(result.Chunks)
	assert.GreaterOrEqual(t, pathIndex(paths, "internal/auth.go"), 0, "raw query still participates")
	assert.GreaterOrEqual(t, pathIndex(paths, "internal/db.go"), 0, "enhanced query found its chunk")
}

func TestRetrieveEnhancerFailureFallsBack(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)

	enh := &fakeEnhancer{err: fmt.Errorf("model offline")}
	s := h.service(t, WithEnhancer(enh))

	result, err := s.Retrieve(context.Background(), "authenticate user session token", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "internal/auth.go", result.Chunks[0].Chunk.FilePath)
}

func TestRetrieveTagsExtraVectorQueriesAsHyDE(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)

	enh := &fakeEnhancer{enh: &Enhancement{
		VectorQueries: []string{"session token validation logic in the auth layer"},
	}}
	s := h.service(t, WithEnhancer(enh))

	result, err := s.Retrieve(context.Background(), "authenticate session token", Options{})
	require.NoError(t, err)

	var sawHyde bool
	for _, r := range result.Chunks {
		if r.HasSource(store.SourceHyDE) {
			sawHyde = true
		}
	}
	assert.True(t, sawHyde, "hypothetical-document formulation should tag results as hyde")
}

func TestRetrieveRerankerReorders(t *testing.T) {
	h := newRetrievalHarness(t)
	h.seedDefaults(t)

	off := false
	fusedOnly, err := h.service(t).Retrieve(context.Background(),
		"authenticate session token", Options{EnableRerank: &off})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(fusedOnly.Chunks), 2)

	reranked, err := h.service(t, WithReranker(&fakeReranker{})).Retrieve(context.Background(),
		"authenticate session token", Options{})
	require.NoError(t, err)
	require.Len(t, reranked.Chunks, len(fusedOnly.Chunks))

	// The fake scores documents in reverse, so the orders mirror.
	n := len(fusedOnly.Chunks)
	for i, r := range reranked.Chunks {
		assert.Equal(t, fusedOnly.Chunks[n-1-i].Chunk.ID, r.Chunk.ID)
	}
}
