package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/store"
)

func scored(id string, rank int, src store.Source) *store.ScoredChunk {
	return &store.ScoredChunk{
		Chunk:  &store.Chunk{ID: id, FilePath: id + ".go", Content: "content " + id},
		Score:  1.0 / float64(rank),
		Rank:   rank,
		Source: src,
	}
}

func fusedChunk(id string, score float64, sources ...store.Source) *store.FusedChunk {
	return &store.FusedChunk{
		Chunk:      &store.Chunk{ID: id, FilePath: id + ".go"},
		FusedScore: score,
		Sources:    sources,
	}
}

func TestFuseRankOneInBothPrimaryPaths(t *testing.T) {
	f := newFuser(60, Weights{BM25: 1.0, Vector: 1.0, Recent: 0.5})

	results := f.fuse(
		[]*store.ScoredChunk{scored("c1", 1, store.SourceBM25)},
		[]*store.ScoredChunk{scored("c1", 1, store.SourceVector)},
	)
	require.Len(t, results, 1)

	// Two paths at rank 1: 2 * 1/(60+1).
	assert.InDelta(t, 0.032787, results[0].FusedScore, 1e-5)
	assert.ElementsMatch(t, []store.Source{store.SourceBM25, store.SourceVector}, results[0].Sources)

	applyMultiSourceBoost(results, 1.3)
	assert.InDelta(t, 0.042623, results[0].FusedScore, 1e-5)
}

func TestFuseSumsContributionsAcrossRanks(t *testing.T) {
	f := newFuser(60, DefaultWeights())

	results := f.fuse(
		[]*store.ScoredChunk{scored("c1", 1, store.SourceBM25)},
		[]*store.ScoredChunk{
			scored("c2", 1, store.SourceVector),
			scored("c1", 2, store.SourceVector),
		},
	)
	require.Len(t, results, 2)

	byID := map[string]*store.FusedChunk{}
	for _, r := range results {
		byID[r.Chunk.ID] = r
	}
	assert.InDelta(t, 1.0/61+1.0/62, byID["c1"].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/61, byID["c2"].FusedScore, 1e-9)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestFuseWeightScalesPathContribution(t *testing.T) {
	heavy := newFuser(60, Weights{BM25: 2.0, Vector: 1.0})
	light := newFuser(60, Weights{BM25: 1.0, Vector: 1.0})

	list := []*store.ScoredChunk{scored("c1", 3, store.SourceBM25)}
	h := heavy.fuse(list)
	l := light.fuse(list)
	require.Len(t, h, 1)
	require.Len(t, l, 1)
	assert.InDelta(t, 2*l[0].FusedScore, h[0].FusedScore, 1e-9)
}

func TestFuseHyDESharesVectorWeight(t *testing.T) {
	f := newFuser(60, Weights{BM25: 1.0, Vector: 0.8, Recent: 0.5})

	assert.Equal(t, 0.8, f.sourceWeight(store.SourceHyDE))
	assert.Equal(t, 0.8, f.sourceWeight(store.SourceVector))
	assert.Equal(t, 1.0, f.sourceWeight(store.SourceBM25))
	assert.Equal(t, 0.5, f.sourceWeight(store.SourceRecent))
	assert.Equal(t, 0.0, f.sourceWeight(store.Source("unknown")))
}

func TestFuseDeduplicatesSources(t *testing.T) {
	f := newFuser(60, DefaultWeights())

	// Two bm25 formulations finding the same chunk sum scores but record
	// the source once.
	results := f.fuse(
		[]*store.ScoredChunk{scored("c1", 1, store.SourceBM25)},
		[]*store.ScoredChunk{scored("c1", 4, store.SourceBM25)},
	)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61+1.0/64, results[0].FusedScore, 1e-9)
	assert.Equal(t, []store.Source{store.SourceBM25}, results[0].Sources)
}

func TestFuseTreatsNonPositiveRankAsOne(t *testing.T) {
	f := newFuser(60, DefaultWeights())

	results := f.fuse([]*store.ScoredChunk{scored("c1", 0, store.SourceBM25)})
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61, results[0].FusedScore, 1e-9)
}

func TestFuseSkipsNilEntries(t *testing.T) {
	f := newFuser(60, DefaultWeights())

	results := f.fuse([]*store.ScoredChunk{
		nil,
		{Chunk: nil, Rank: 1, Source: store.SourceBM25},
		scored("c1", 1, store.SourceBM25),
	})
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestFuseEmptyInput(t *testing.T) {
	f := newFuser(60, DefaultWeights())
	assert.Empty(t, f.fuse())
	assert.Empty(t, f.fuse(nil, []*store.ScoredChunk{}))
}

func TestNewFuserDefaultsSmoothingConstant(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, newFuser(0, DefaultWeights()).k)
	assert.Equal(t, 10, newFuser(10, DefaultWeights()).k)
}

func TestSortFusedTieBreaks(t *testing.T) {
	results := []*store.FusedChunk{
		fusedChunk("b", 0.5, store.SourceBM25),
		fusedChunk("a", 0.5, store.SourceBM25),
		fusedChunk("c", 0.5, store.SourceBM25, store.SourceVector),
		fusedChunk("d", 0.9, store.SourceRecent),
	}
	sortFused(results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	// Score first, then source count, then ID.
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestMultiSourceBoostRequiresBothPrimaryPaths(t *testing.T) {
	results := []*store.FusedChunk{
		fusedChunk("both", 0.10, store.SourceBM25, store.SourceVector),
		fusedChunk("bm25-only", 0.10, store.SourceBM25),
		fusedChunk("hyde-not-vector", 0.10, store.SourceBM25, store.SourceHyDE),
		fusedChunk("recent", 0.10, store.SourceRecent),
	}
	applyMultiSourceBoost(results, 1.3)

	assert.InDelta(t, 0.13, results[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.10, results[1].FusedScore, 1e-9)
	assert.InDelta(t, 0.10, results[2].FusedScore, 1e-9)
	assert.InDelta(t, 0.10, results[3].FusedScore, 1e-9)
}

func TestMultiSourceBoostOfOneIsNoOp(t *testing.T) {
	results := []*store.FusedChunk{
		fusedChunk("both", 0.10, store.SourceBM25, store.SourceVector),
	}
	applyMultiSourceBoost(results, 1.0)
	assert.InDelta(t, 0.10, results[0].FusedScore, 1e-9)
}

func TestTestFilePenaltyDownweightsTestFiles(t *testing.T) {
	results := []*store.FusedChunk{
		{Chunk: &store.Chunk{ID: "prod", FilePath: "internal/service.go"}, FusedScore: 0.10},
		{Chunk: &store.Chunk{ID: "unit", FilePath: "internal/service_test.go"}, FusedScore: 0.10},
		{Chunk: &store.Chunk{ID: "jsspec", FilePath: "web/app.spec.ts"}, FusedScore: 0.10},
	}
	applyTestFilePenalty(results, 0.1)

	assert.InDelta(t, 0.10, results[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.01, results[1].FusedScore, 1e-9)
	assert.InDelta(t, 0.01, results[2].FusedScore, 1e-9)
}

func TestTestFilePenaltyOfOneIsNoOp(t *testing.T) {
	results := []*store.FusedChunk{
		{Chunk: &store.Chunk{ID: "unit", FilePath: "a_test.go"}, FusedScore: 0.10},
	}
	applyTestFilePenalty(results, 1.0)
	assert.InDelta(t, 0.10, results[0].FusedScore, 1e-9)
}

func TestApplyMinScoreFiltersInOrder(t *testing.T) {
	results := []*store.FusedChunk{
		fusedChunk("a", 0.5),
		fusedChunk("b", 0.05),
		fusedChunk("c", 0.3),
	}
	filtered := applyMinScore(results, 0.1)
	require.Len(t, filtered, 2)
	assert.Equal(t, "a", filtered[0].Chunk.ID)
	assert.Equal(t, "c", filtered[1].Chunk.ID)

	all := applyMinScore([]*store.FusedChunk{fusedChunk("a", 0.01)}, 0)
	assert.Len(t, all, 1)
}
