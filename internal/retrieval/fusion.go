package retrieval

import (
	"sort"

	"github.com/codelens/codelens/internal/store"
)

// fuser combines ranked lists from multiple search paths using weighted
// Reciprocal Rank Fusion.
//
// Algorithm: fused_score(d) = Σ weight_src / (k + rank_src)
//
// Raw scores are kept unnormalized so boosts and thresholds operate on
// the same scale regardless of how many paths returned results.
type fuser struct {
	k       int
	weights Weights
}

func newFuser(k int, weights Weights) *fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &fuser{k: k, weights: weights}
}

// sourceWeight maps a search path to its fusion weight. HyDE paths are
// vector searches with a rewritten query, so they share the vector weight.
func (f *fuser) sourceWeight(src store.Source) float64 {
	switch src {
	case store.SourceBM25:
		return f.weights.BM25
	case store.SourceVector, store.SourceHyDE:
		return f.weights.Vector
	case store.SourceRecent:
		return f.weights.Recent
	default:
		return 0
	}
}

// fuse merges the ranked lists. Each input list is one search path's
// results with 1-based ranks; a chunk's contributions across lists sum.
func (f *fuser) fuse(lists ...[]*store.ScoredChunk) []*store.FusedChunk {
	fused := make(map[string]*store.FusedChunk)

	for _, list := range lists {
		for _, sc := range list {
			if sc == nil || sc.Chunk == nil {
				continue
			}
			entry, ok := fused[sc.Chunk.ID]
			if !ok {
				entry = &store.FusedChunk{Chunk: sc.Chunk}
				fused[sc.Chunk.ID] = entry
			}
			rank := sc.Rank
			if rank <= 0 {
				rank = 1
			}
			entry.FusedScore += f.sourceWeight(sc.Source) / float64(f.k+rank)
			if !entry.HasSource(sc.Source) {
				entry.Sources = append(entry.Sources, sc.Source)
			}
		}
	}

	results := make([]*store.FusedChunk, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}
	sortFused(results)
	return results
}

// sortFused orders results deterministically: fused score descending,
// then by number of contributing sources, then chunk ID.
func sortFused(results []*store.FusedChunk) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// applyMultiSourceBoost multiplies the fused score when both primary
// paths (bm25 and vector) found the chunk.
func applyMultiSourceBoost(results []*store.FusedChunk, boost float64) {
	if boost == 1.0 {
		return
	}
	for _, r := range results {
		if r.HasSource(store.SourceBM25) && r.HasSource(store.SourceVector) {
			r.FusedScore *= boost
		}
	}
}

// applyTestFilePenalty downweights chunks from test files for
// non-test-related queries.
func applyTestFilePenalty(results []*store.FusedChunk, penalty float64) {
	if penalty >= 1.0 {
		return
	}
	for _, r := range results {
		if isTestFile(r.Chunk.FilePath) {
			r.FusedScore *= penalty
		}
	}
}

// applyMinScore filters results below the threshold, preserving order.
func applyMinScore(results []*store.FusedChunk, threshold float64) []*store.FusedChunk {
	if threshold <= 0 {
		return results
	}
	filtered := results[:0]
	for _, r := range results {
		if r.FusedScore >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
