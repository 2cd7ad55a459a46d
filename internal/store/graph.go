package store

import (
	"context"
	"sync"

	"github.com/dominikbraun/graph"
)

// MemoryGraph implements SymbolGraph on a directed dominikbraun/graph.
// Vertices are chunk IDs; edges carry the relationship kind as an
// attribute. Expansion is a bounded breadth-first walk that follows
// edges in both directions.
type MemoryGraph struct {
	mu sync.RWMutex
	g  graph.Graph[string, string]

	// Adjacency both ways so expansion can reach callers as well as
	// callees without inverting the graph.
	out map[string][]GraphEdge
	in  map[string][]GraphEdge
}

var _ SymbolGraph = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty symbol graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		g:   graph.New(graph.StringHash, graph.Directed()),
		out: make(map[string][]GraphEdge),
		in:  make(map[string][]GraphEdge),
	}
}

// AddEdges records symbol relationships. Unknown vertices are created on
// the fly; duplicate edges are ignored.
func (m *MemoryGraph) AddEdges(ctx context.Context, edges []GraphEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range edges {
		if e.From == "" || e.To == "" || e.From == e.To {
			continue
		}
		_ = m.g.AddVertex(e.From)
		_ = m.g.AddVertex(e.To)
		if err := m.g.AddEdge(e.From, e.To, graph.EdgeAttribute("kind", e.Kind)); err != nil {
			// graph.ErrEdgeAlreadyExists and friends are not failures here.
			continue
		}
		m.out[e.From] = append(m.out[e.From], e)
		m.in[e.To] = append(m.in[e.To], e)
	}
	return nil
}

// RemoveChunks drops all edges touching the given chunk IDs. Called when
// files are re-chunked or deleted.
func (m *MemoryGraph) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doomed := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		doomed[id] = true
	}

	for _, id := range chunkIDs {
		for _, e := range m.out[id] {
			_ = m.g.RemoveEdge(e.From, e.To)
			m.in[e.To] = dropEdges(m.in[e.To], doomed)
		}
		for _, e := range m.in[id] {
			_ = m.g.RemoveEdge(e.From, e.To)
			m.out[e.From] = dropEdges(m.out[e.From], doomed)
		}
		delete(m.out, id)
		delete(m.in, id)
		_ = m.g.RemoveVertex(id)
	}
	return nil
}

func dropEdges(edges []GraphEdge, doomed map[string]bool) []GraphEdge {
	kept := edges[:0]
	for _, e := range edges {
		if !doomed[e.From] && !doomed[e.To] {
			kept = append(kept, e)
		}
	}
	return kept
}

// ExpandFromChunks walks outward from the seeds breadth-first, following
// edges in both directions, up to maxDepth hops and maxChunks results.
// Seeds themselves are excluded from the result; each discovered chunk
// appears once, at its shallowest depth.
func (m *MemoryGraph) ExpandFromChunks(ctx context.Context, seedIDs []string, maxDepth, maxChunks int) (*GraphExpansion, error) {
	if len(seedIDs) == 0 || maxDepth <= 0 || maxChunks <= 0 {
		return &GraphExpansion{ChunkIDs: []string{}, Edges: []GraphEdge{}}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
	}

	expansion := &GraphExpansion{ChunkIDs: []string{}, Edges: []GraphEdge{}}
	frontier := append([]string(nil), seedIDs...)

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range m.out[id] {
				if m.visit(e.To, e, visited, expansion, &next) && len(expansion.ChunkIDs) >= maxChunks {
					return expansion, nil
				}
			}
			for _, e := range m.in[id] {
				if m.visit(e.From, e, visited, expansion, &next) && len(expansion.ChunkIDs) >= maxChunks {
					return expansion, nil
				}
			}
		}
		frontier = next
	}
	return expansion, nil
}

// visit records a newly discovered chunk. Reports whether the chunk was new.
func (m *MemoryGraph) visit(id string, via GraphEdge, visited map[string]bool, exp *GraphExpansion, next *[]string) bool {
	if visited[id] {
		return false
	}
	visited[id] = true
	exp.ChunkIDs = append(exp.ChunkIDs, id)
	exp.Edges = append(exp.Edges, via)
	*next = append(*next, id)
	return true
}

// EdgeCount reports the number of stored edges, for diagnostics.
func (m *MemoryGraph) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, edges := range m.out {
		n += len(edges)
	}
	return n
}
