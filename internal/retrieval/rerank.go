package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/store"
)

// DefaultRerankTimeout bounds a single rerank call. Reranking is a
// refinement; the fused order is already a valid answer.
const DefaultRerankTimeout = 5 * time.Second

// RerankResult scores one input document.
type RerankResult struct {
	Index int     // Position in the input documents slice
	Score float64 // Relevance, higher is better
}

// Reranker refines the ordering of a candidate shortlist, typically via
// a cross-encoder model behind a network call.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// rerank reorders the fused results by reranker score. Any failure,
// including timeout or an open circuit, keeps the fused order.
func (s *Service) rerank(ctx context.Context, query string, results []*store.FusedChunk, timeout time.Duration) []*store.FusedChunk {
	if s.reranker == nil || len(results) < 2 {
		return results
	}

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Chunk.Content
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scored, err := errors.Execute(s.rerankBreaker, func() ([]RerankResult, error) {
		return s.reranker.Rerank(rctx, query, docs)
	}, func() ([]RerankResult, error) {
		return nil, nil
	})
	if err != nil || scored == nil {
		if err != nil {
			s.log.Warn("rerank failed, keeping fused order", "error", err)
		}
		return results
	}

	// Reranker scores order the shortlist; missing indexes keep their
	// fused score as a low-priority fallback.
	order := make([]*store.FusedChunk, 0, len(results))
	seen := make(map[int]bool, len(scored))
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	for _, rr := range scored {
		if rr.Index < 0 || rr.Index >= len(results) || seen[rr.Index] {
			continue
		}
		seen[rr.Index] = true
		order = append(order, results[rr.Index])
	}
	for i, r := range results {
		if !seen[i] {
			order = append(order, r)
		}
	}
	return order
}
