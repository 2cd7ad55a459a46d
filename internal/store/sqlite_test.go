package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id, path string, index int, content string) *Chunk {
	return &Chunk{
		ID:          id,
		FilePath:    path,
		Content:     content,
		StartLine:   index*10 + 1,
		EndLine:     index*10 + 10,
		Index:       index,
		ContentHash: "hash-" + id,
		Type:        ChunkTypeCode,
	}
}

func testFileMeta(path, hash, lang string, mod time.Time) *FileMeta {
	return &FileMeta{
		Path:         path,
		ContentHash:  hash,
		LastModified: mod,
		Size:         100,
		Language:     lang,
	}
}

func TestFileMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mod := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
		testFileMeta("a.go", "h1", "go", mod),
	}))

	got, err := s.GetFileMeta(ctx, "a.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.ContentHash)
	assert.Equal(t, "go", got.Language)
	assert.True(t, got.LastModified.Equal(mod))
}

func TestFileMetaUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
		testFileMeta("a.go", "h1", "go", time.Now()),
	}))
	require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
		testFileMeta("a.go", "h2", "go", time.Now()),
	}))

	got, err := s.GetFileMeta(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)

	all, err := s.GetAllFileMeta(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetFileMetaMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetFileMeta(context.Background(), "nope.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteFileMetaCascadesToChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
		testFileMeta("a.go", "h1", "go", time.Now()),
	}))
	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "func main() {}"),
		testChunk("c2", "a.go", 1, "func helper() {}"),
	}))

	require.NoError(t, s.DeleteFileMeta(ctx, []string{"a.go"}))

	chunks, err := s.GetChunksByFilePath(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// The FTS index moves in lock-step with the chunk table.
	hits, err := s.SearchFTS(ctx, "helper", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetChunksPreservesInputOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "alpha"),
		testChunk("c2", "a.go", 1, "beta"),
		testChunk("c3", "b.go", 0, "gamma"),
	}))

	got, err := s.GetChunks(ctx, []string{"c3", "missing", "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
}

func TestGetChunksByFilePathOrdersByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c2", "a.go", 2, "third"),
		testChunk("c0", "a.go", 0, "first"),
		testChunk("c1", "a.go", 1, "second"),
	}))

	got, err := s.GetChunksByFilePath(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c0", "c1", "c2"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestInsertChunksReplacesAndReindexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{testChunk("c1", "a.go", 0, "oldcontent")}))
	replaced := testChunk("c1", "a.go", 0, "newcontent")
	require.NoError(t, s.InsertChunks(ctx, []*Chunk{replaced}))

	hits, err := s.SearchFTS(ctx, "oldcontent", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "stale FTS rows must be removed on replace")

	hits, err = s.SearchFTS(ctx, "newcontent", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
}

func TestChunkMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testChunk("c1", "a.go", 0, "content")
	c.Metadata = map[string]string{"symbol": "main"}
	require.NoError(t, s.InsertChunks(ctx, []*Chunk{c}))

	got, err := s.GetChunks(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "main", got[0].Metadata["symbol"])
}

func TestRecentChunksScoring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 4; i++ {
		path := fmt.Sprintf("f%d.go", i)
		require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
			testFileMeta(path, "h", "go", base.Add(time.Duration(i)*time.Minute)),
		}))
		require.NoError(t, s.InsertChunks(ctx, []*Chunk{
			testChunk("chunk-"+path, path, 0, "content "+path),
			testChunk("chunk2-"+path, path, 1, "more "+path),
		}))
	}

	got, err := s.RecentChunks(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Most recently modified file first, one chunk per file.
	assert.Equal(t, "chunk-f3.go", got[0].Chunk.ID)
	assert.Equal(t, "chunk-f2.go", got[1].Chunk.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, 0.95, got[1].Score, 1e-9)
	assert.InDelta(t, 0.90, got[2].Score, 1e-9)
	assert.Equal(t, SourceRecent, got[0].Source)
	assert.Equal(t, 1, got[0].Rank)
}

func TestRecentChunksScoreFloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("f%02d.go", i)
		require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
			testFileMeta(path, "h", "go", base.Add(time.Duration(i)*time.Second)),
		}))
		require.NoError(t, s.InsertChunks(ctx, []*Chunk{
			testChunk("chunk-"+path, path, 0, "content"),
		}))
	}

	got, err := s.RecentChunks(ctx, 25)
	require.NoError(t, err)
	require.Len(t, got, 25)
	assert.Equal(t, 0.0, got[24].Score, "rank 25 decays past zero and clamps")
}

func TestPrimaryLanguages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 6 go, 3 python, 1 ruby out of 10: ruby is under the 20% floor.
	files := []*FileMeta{}
	for i := 0; i < 6; i++ {
		files = append(files, testFileMeta(fmt.Sprintf("g%d.go", i), "h", "go", time.Now()))
	}
	for i := 0; i < 3; i++ {
		files = append(files, testFileMeta(fmt.Sprintf("p%d.py", i), "h", "python", time.Now()))
	}
	files = append(files, testFileMeta("r.rb", "h", "ruby", time.Now()))
	require.NoError(t, s.InsertFileMeta(ctx, files))

	langs, err := s.PrimaryLanguages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python"}, langs)
}

func TestPrimaryLanguagesEmptyStore(t *testing.T) {
	s := newTestStore(t)

	langs, err := s.PrimaryLanguages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, langs)
}

func TestSearchFTSRanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "parse config file and reload config on change"),
		testChunk("c2", "b.go", 0, "config"),
		testChunk("c3", "c.go", 0, "completely unrelated content"),
	}))

	hits, err := s.SearchFTS(ctx, "config", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Greater(t, hits[0].Score, 0.0, "scores are negated bm25, higher is better")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 2, hits[1].Rank)
	assert.Equal(t, SourceBM25, hits[0].Source)
}

func TestSearchFTSEmptyAndDegenerateQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "some indexed content"),
	}))

	for _, q := range []string{"", "   ", "a", `"*()`, "! @ # $"} {
		hits, err := s.SearchFTS(ctx, q, 10)
		require.NoError(t, err, "query %q must not error", q)
		assert.Empty(t, hits, "query %q", q)
	}
}

func TestSearchFTSOperatorQueryMatchesLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "http handler registration"),
	}))

	hits, err := s.SearchFTS(ctx, `http AND "handler*`, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a", ""},
		{"hello", `"hello"`},
		{"hello world", `"hello" OR "world"`},
		{`c* (x) "y"`, ""},
		{"err-handling", `"err" OR "handling"`},
		{"résumé parser", `"résumé" OR "parser"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFTSQuery(tt.in), "input %q", tt.in)
	}
}

func TestEmbeddingCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetEmbedding(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	vec := []float32{0.1, -0.5, 2.25}
	require.NoError(t, s.PutEmbedding(ctx, "k1", vec))

	got, found, err := s.GetEmbedding(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec, got)
}

func TestEmbeddingCacheWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutEmbedding(ctx, "k1", []float32{1, 2}))
	require.NoError(t, s.PutEmbedding(ctx, "k1", []float32{9, 9}))

	got, found, err := s.GetEmbedding(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float32{1, 2}, got, "content-addressed keys never change value")
}

func TestIndexStatusSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetIndexStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, got.Status)

	require.NoError(t, s.SetIndexStatus(ctx, &IndexingProgress{
		Status:       StatusBuilding,
		Phase:        PhaseEmbedding,
		TotalFiles:   10,
		ChunkedFiles: 4,
	}))
	require.NoError(t, s.SetIndexStatus(ctx, &IndexingProgress{
		Status: StatusDone,
		Phase:  PhasePersisting,
	}))

	got, err = s.GetIndexStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, PhasePersisting, got.Phase)
}

func TestCheckpointLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "absent checkpoint reads as nil, not an error")

	require.NoError(t, s.SaveCheckpoint(ctx, &BuildCheckpoint{
		Phase:             PhaseChunking,
		LastProcessedPath: "internal/a.go",
	}))

	got, err = s.GetCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "internal/a.go", got.LastProcessedPath)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, s.ClearCheckpoint(ctx))
	got, err = s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.ClearCheckpoint(ctx), "clearing an absent checkpoint is a no-op")
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFileMeta(ctx, []*FileMeta{
		testFileMeta("a.go", "h", "go", time.Now()),
	}))
	require.NoError(t, s.InsertChunks(ctx, []*Chunk{
		testChunk("c1", "a.go", 0, "x"),
		testChunk("c2", "a.go", 1, "y"),
	}))
	require.NoError(t, s.PutEmbedding(ctx, "k", []float32{1}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 1, stats.CachedEmbeddings)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetFileMeta(context.Background(), "a.go")
	assert.Error(t, err)
}
