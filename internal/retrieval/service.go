// Package retrieval is the query-time engine: it fans a query out to
// concurrent search paths (full-text, vector, recency, enhanced
// variants), fuses the ranked lists with weighted RRF, applies boost
// and penalty heuristics, optionally reranks, expands through the
// symbol graph, and assembles a token-budgeted text view.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/store"
)

// Result is the answer to one retrieval request.
type Result struct {
	// Chunks are the primary ranked results.
	Chunks []*store.FusedChunk

	// SymbolExpansion holds graph-related chunks, all scored strictly
	// below the primary results. Nil when expansion is disabled or empty.
	SymbolExpansion *SymbolExpansion

	// TextView is the pre-formatted context sized to the token budget.
	TextView string
}

// SymbolExpansion is the outcome of expanding the symbol graph from the
// primary results.
type SymbolExpansion struct {
	Chunks []*store.FusedChunk
	Edges  []store.GraphEdge
}

// Service executes retrieval requests. Enhancer, reranker and graph
// are optional; the service degrades to the paths it has.
type Service struct {
	meta     store.MetadataStore
	vectors  store.VectorStore
	graph    store.SymbolGraph
	embedder embed.Embedder

	enhancer Enhancer
	reranker Reranker

	rerankBreaker *errors.CircuitBreaker
	rerankTimeout time.Duration
	defaults      Options
	log           *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEnhancer installs a query enhancer.
func WithEnhancer(e Enhancer) ServiceOption {
	return func(s *Service) { s.enhancer = e }
}

// WithReranker installs a reranker.
func WithReranker(r Reranker) ServiceOption {
	return func(s *Service) { s.reranker = r }
}

// WithDefaults overrides the baseline options merged into every request.
func WithDefaults(opts Options) ServiceOption {
	return func(s *Service) { s.defaults = opts }
}

// WithRerankTimeout overrides the per-call rerank timeout.
func WithRerankTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.rerankTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService creates a retrieval service over the given stores.
func NewService(meta store.MetadataStore, vectors store.VectorStore, graph store.SymbolGraph, embedder embed.Embedder, opts ...ServiceOption) *Service {
	s := &Service{
		meta:          meta,
		vectors:       vectors,
		graph:         graph,
		embedder:      embedder,
		rerankBreaker: errors.NewCircuitBreaker("reranker"),
		rerankTimeout: DefaultRerankTimeout,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "retrieval")
	return s
}

// Retrieve answers a query. An empty query returns an empty result; a
// fully empty fusion is zero results, never an error.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{Chunks: []*store.FusedChunk{}}, nil
	}
	opts = s.mergeDefaults(opts)

	enh := s.enhance(ctx, query)

	lists := s.searchAll(ctx, query, enh, opts)

	fused := newFuser(DefaultRRFConstant, *opts.Weights).fuse(lists...)
	applyMultiSourceBoost(fused, opts.MultiSourceBoost)
	if !enh.IsTestRelated {
		applyTestFilePenalty(fused, opts.TestFilePenalty)
	}
	sortFused(fused)
	fused = applyMinScore(fused, opts.MinScoreThreshold)

	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	if *opts.EnableRerank {
		fused = s.rerank(ctx, query, fused, s.rerankTimeout)
	}

	result := &Result{Chunks: fused}
	if *opts.EnableGraph && s.graph != nil && len(fused) > 0 {
		result.SymbolExpansion = s.expandGraph(ctx, fused, opts)
	}
	result.TextView = assembleTextView(result, opts.MaxTokens)

	s.log.Debug("retrieval complete",
		"query_len", len(query),
		"results", len(result.Chunks),
		"expanded", result.expansionSize(),
		"duration", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (r *Result) expansionSize() int {
	if r.SymbolExpansion == nil {
		return 0
	}
	return len(r.SymbolExpansion.Chunks)
}

func (s *Service) mergeDefaults(opts Options) Options {
	base := s.defaults
	if opts.TopK == 0 {
		opts.TopK = base.TopK
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = base.MaxTokens
	}
	if opts.Weights == nil {
		opts.Weights = base.Weights
	}
	if opts.EnableGraph == nil {
		opts.EnableGraph = base.EnableGraph
	}
	if opts.GraphDepth == 0 {
		opts.GraphDepth = base.GraphDepth
	}
	if opts.MaxGraphNodes == 0 {
		opts.MaxGraphNodes = base.MaxGraphNodes
	}
	if opts.EnableRerank == nil {
		opts.EnableRerank = base.EnableRerank
	}
	if opts.TestFilePenalty == 0 {
		opts.TestFilePenalty = base.TestFilePenalty
	}
	if opts.MultiSourceBoost == 0 {
		opts.MultiSourceBoost = base.MultiSourceBoost
	}
	if opts.MinScoreThreshold == 0 {
		opts.MinScoreThreshold = base.MinScoreThreshold
	}
	return opts.applyDefaults()
}

// enhance runs the configured enhancer, falling back to the raw query
// and the pattern-based test classifier on any failure.
func (s *Service) enhance(ctx context.Context, query string) *Enhancement {
	fallback := &Enhancement{
		BM25Queries:   []string{query},
		VectorQueries: []string{query},
		IsTestRelated: queryIsTestRelated(query),
	}
	if s.enhancer == nil {
		return fallback
	}

	languages, err := s.meta.PrimaryLanguages(ctx)
	if err != nil {
		languages = nil
	}
	enh, err := s.enhancer.Enhance(ctx, query, languages)
	if err != nil || enh == nil {
		if err != nil {
			s.log.Warn("query enhancement failed, using raw query", "error", err)
		}
		return fallback
	}

	// The raw query always participates as the first formulation.
	if len(enh.BM25Queries) == 0 || enh.BM25Queries[0] != query {
		enh.BM25Queries = append([]string{query}, enh.BM25Queries...)
	}
	if len(enh.VectorQueries) == 0 || enh.VectorQueries[0] != query {
		enh.VectorQueries = append([]string{query}, enh.VectorQueries...)
	}
	return enh
}

// searchAll fans out to every search path concurrently. Each path
// degrades to an empty list on error; no path can abort the others.
func (s *Service) searchAll(ctx context.Context, query string, enh *Enhancement, opts Options) [][]*store.ScoredChunk {
	// Over-fetch per path so fusion has enough candidates to disagree.
	perPath := opts.TopK * 2

	var (
		mu    sync.Mutex
		lists [][]*store.ScoredChunk
	)
	add := func(list []*store.ScoredChunk) {
		if len(list) == 0 {
			return
		}
		mu.Lock()
		lists = append(lists, list)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, q := range enh.BM25Queries {
		q := q
		g.Go(func() error {
			add(s.searchBM25(gctx, q, perPath))
			return nil
		})
	}
	for i, q := range enh.VectorQueries {
		q := q
		src := store.SourceVector
		if i > 0 {
			// Extra vector formulations are HyDE-style variants.
			src = store.SourceHyDE
		}
		g.Go(func() error {
			add(s.searchVector(gctx, q, src, perPath))
			return nil
		})
	}
	if opts.Weights.Recent > 0 {
		g.Go(func() error {
			add(s.searchRecent(gctx, perPath))
			return nil
		})
	}

	_ = g.Wait()
	return lists
}

func (s *Service) searchBM25(ctx context.Context, query string, limit int) []*store.ScoredChunk {
	results, err := s.meta.SearchFTS(ctx, query, limit)
	if err != nil {
		s.log.Warn("fts search path failed", "error", err)
		return nil
	}
	return results
}

func (s *Service) searchVector(ctx context.Context, query string, src store.Source, limit int) []*store.ScoredChunk {
	if s.embedder == nil {
		return nil
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed", "error", err)
		return nil
	}
	hits, err := s.vectors.Search(ctx, vector, limit)
	if err != nil {
		s.log.Warn("vector search path failed", "error", err)
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := s.meta.GetChunks(ctx, ids)
	if err != nil {
		s.log.Warn("vector hit hydration failed", "error", err)
		return nil
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	scored := make([]*store.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			// The vector store can briefly lead the metadata store
			// during a build; skip unhydratable hits.
			continue
		}
		scored = append(scored, &store.ScoredChunk{
			Chunk:  c,
			Score:  float64(h.Score),
			Rank:   len(scored) + 1,
			Source: src,
		})
	}
	return scored
}

func (s *Service) searchRecent(ctx context.Context, limit int) []*store.ScoredChunk {
	results, err := s.meta.RecentChunks(ctx, limit)
	if err != nil {
		s.log.Warn("recency path failed", "error", err)
		return nil
	}
	return results
}

// expandGraph walks the symbol graph from the primary results. Expanded
// chunks are scored minFused*0.5/position so even the best expansion
// ranks strictly below every primary result.
func (s *Service) expandGraph(ctx context.Context, primary []*store.FusedChunk, opts Options) *SymbolExpansion {
	seeds := make([]string, len(primary))
	primaryIDs := make(map[string]bool, len(primary))
	minFused := primary[0].FusedScore
	for i, r := range primary {
		seeds[i] = r.Chunk.ID
		primaryIDs[r.Chunk.ID] = true
		if r.FusedScore < minFused {
			minFused = r.FusedScore
		}
	}

	expansion, err := s.graph.ExpandFromChunks(ctx, seeds, opts.GraphDepth, opts.MaxGraphNodes)
	if err != nil {
		s.log.Warn("graph expansion failed", "error", err)
		return nil
	}
	if expansion == nil || len(expansion.ChunkIDs) == 0 {
		return nil
	}

	var ids []string
	for _, id := range expansion.ChunkIDs {
		if !primaryIDs[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	chunks, err := s.meta.GetChunks(ctx, ids)
	if err != nil {
		s.log.Warn("graph chunk hydration failed", "error", err)
		return nil
	}

	expanded := make([]*store.FusedChunk, 0, len(chunks))
	for i, c := range chunks {
		expanded = append(expanded, &store.FusedChunk{
			Chunk:      c,
			FusedScore: minFused * 0.5 / float64(i+1),
		})
	}
	return &SymbolExpansion{Chunks: expanded, Edges: expansion.Edges}
}
