package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/store"
)

// fakeReranker scores documents by position, highest last, so a
// successful rerank reverses the input order.
type fakeReranker struct {
	scores []RerankResult
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (r *fakeReranker) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.scores != nil {
		return r.scores, nil
	}
	out := make([]RerankResult, len(docs))
	for i := range docs {
		out[i] = RerankResult{Index: i, Score: float64(i)}
	}
	return out, nil
}

func (r *fakeReranker) Available(ctx context.Context) bool { return true }
func (r *fakeReranker) Close() error                       { return nil }

func rerankService(r Reranker) *Service {
	return NewService(nil, nil, nil, nil,
		WithReranker(r),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func rerankInput(ids ...string) []*store.FusedChunk {
	out := make([]*store.FusedChunk, len(ids))
	for i, id := range ids {
		out[i] = fusedChunk(id, 1.0/float64(i+1))
	}
	return out
}

func resultIDs(results []*store.FusedChunk) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

func TestRerankReordersByScore(t *testing.T) {
	rr := &fakeReranker{}
	s := rerankService(rr)

	out := s.rerank(context.Background(), "query", rerankInput("a", "b", "c"), time.Second)
	assert.Equal(t, []string{"c", "b", "a"}, resultIDs(out))
	assert.Equal(t, int32(1), rr.calls.Load())
}

func TestRerankKeepsFusedOrderOnError(t *testing.T) {
	rr := &fakeReranker{err: fmt.Errorf("model offline")}
	s := rerankService(rr)

	out := s.rerank(context.Background(), "query", rerankInput("a", "b", "c"), time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(out))
}

func TestRerankKeepsFusedOrderOnTimeout(t *testing.T) {
	rr := &fakeReranker{delay: 5 * time.Second}
	s := rerankService(rr)

	start := time.Now()
	out := s.rerank(context.Background(), "query", rerankInput("a", "b", "c"), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(out))
}

func TestRerankAppendsMissingIndexesInFusedOrder(t *testing.T) {
	// The reranker only scores one document; the rest keep their fused
	// relative order behind it.
	rr := &fakeReranker{scores: []RerankResult{{Index: 2, Score: 0.9}}}
	s := rerankService(rr)

	out := s.rerank(context.Background(), "query", rerankInput("a", "b", "c"), time.Second)
	assert.Equal(t, []string{"c", "a", "b"}, resultIDs(out))
}

func TestRerankIgnoresOutOfRangeAndDuplicateIndexes(t *testing.T) {
	rr := &fakeReranker{scores: []RerankResult{
		{Index: 9, Score: 1.0},
		{Index: -1, Score: 0.9},
		{Index: 1, Score: 0.8},
		{Index: 1, Score: 0.7},
	}}
	s := rerankService(rr)

	out := s.rerank(context.Background(), "query", rerankInput("a", "b", "c"), time.Second)
	assert.Equal(t, []string{"b", "a", "c"}, resultIDs(out))
}

func TestRerankSkipsShortLists(t *testing.T) {
	rr := &fakeReranker{}
	s := rerankService(rr)

	single := rerankInput("only")
	out := s.rerank(context.Background(), "query", single, time.Second)
	assert.Equal(t, single, out)
	assert.Zero(t, rr.calls.Load())
}

func TestRerankWithoutReranker(t *testing.T) {
	s := rerankService(nil)
	in := rerankInput("a", "b")
	require.Equal(t, in, s.rerank(context.Background(), "query", in, time.Second))
}
