// Package store provides the persistence layer for indexed data: file and
// chunk metadata with an FTS5 full-text index (SQLite), an HNSW vector store,
// and a symbol graph used for retrieval-time expansion.
package store

import (
	"context"
	"fmt"
	"time"
)

// ChunkType classifies the unit a chunk was cut from.
type ChunkType string

const (
	ChunkTypeCode     ChunkType = "code"
	ChunkTypeMarkdown ChunkType = "markdown"
	ChunkTypeText     ChunkType = "text"
)

// FileMeta describes one tracked repository file.
type FileMeta struct {
	Path         string    // Repo-relative path, unique key
	ContentHash  string    // SHA256 of file bytes
	LastModified time.Time // Filesystem mtime at scan
	Size         int64     // File size in bytes
	Language     string    // Detected language, empty if unknown
}

// Chunk is the unit of indexing and retrieval: a contiguous slice of a file.
// A chunk is owned by exactly one file and replaced wholesale when the
// owning file's content hash changes.
type Chunk struct {
	ID          string            // SHA256(filePath + contentHash + index)
	FilePath    string            // Owning file, repo-relative
	Content     string            // Chunk text
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Index       int               // Position within the file, 0-based
	ContentHash string            // SHA256 of Content
	Type        ChunkType         // code, markdown, text
	Metadata    map[string]string // Opaque key/value bag
}

// BuildStatus is the lifecycle state of the index build.
type BuildStatus string

const (
	StatusIdle     BuildStatus = "idle"
	StatusBuilding BuildStatus = "building"
	StatusPaused   BuildStatus = "paused"
	StatusDone     BuildStatus = "done"
	StatusFailed   BuildStatus = "failed"
)

// BuildPhase names a stage of the build pipeline.
type BuildPhase string

const (
	PhaseScanning   BuildPhase = "scanning"
	PhaseDiffing    BuildPhase = "diffing"
	PhaseChunking   BuildPhase = "chunking"
	PhaseEmbedding  BuildPhase = "embedding"
	PhasePersisting BuildPhase = "persisting"
)

// IndexingProgress is the singleton build-status record.
type IndexingProgress struct {
	Status          BuildStatus    `json:"status"`
	Phase           BuildPhase     `json:"phase"`
	PhaseProgress   float64        `json:"phase_progress"`   // 0-1 within the current phase
	OverallProgress float64        `json:"overall_progress"` // 0-1 across the whole build
	ScannedFiles    int            `json:"scanned_files"`
	TotalFiles      int            `json:"total_files"`
	ChunkedFiles    int            `json:"chunked_files"`
	EmbeddedChunks  int            `json:"embedded_chunks"`
	TotalChunks     int            `json:"total_chunks"`
	StoredChunks    int            `json:"stored_chunks"`
	StartTime       time.Time      `json:"start_time"`
	ETA             *time.Duration `json:"eta,omitempty"`
	Error           string         `json:"error,omitempty"`
	FailedFiles     []string       `json:"failed_files,omitempty"`
}

// BuildCheckpoint is the singleton crash-recovery record. A non-nil
// checkpoint means an interrupted build exists that resume can continue
// from; a successful build clears it.
type BuildCheckpoint struct {
	Phase             BuildPhase `json:"phase"`
	LastProcessedPath string     `json:"last_processed_path"`
	PendingChunkIDs   []string   `json:"pending_chunk_ids"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Source tags which search path produced a scored chunk.
type Source string

const (
	SourceBM25   Source = "bm25"
	SourceVector Source = "vector"
	SourceRecent Source = "recent"
	SourceHyDE   Source = "hyde"
)

// ScoredChunk is a chunk plus its score and 1-based rank within one
// search path's result list.
type ScoredChunk struct {
	Chunk  *Chunk
	Score  float64
	Rank   int
	Source Source
}

// FusedChunk is a chunk after rank fusion, carrying the fused score and
// the set of sources that contributed to it.
type FusedChunk struct {
	Chunk      *Chunk
	FusedScore float64
	Sources    []Source
}

// HasSource reports whether src contributed to this fused chunk.
func (f *FusedChunk) HasSource(src Source) bool {
	for _, s := range f.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// ChangeSet lists file paths by change kind, produced by the change
// detector and consumed by the build worker for incremental updates.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the change set contains no changes.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Total returns the number of changed paths.
func (c *ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// StoreStats reports store-level counts for diagnostics.
type StoreStats struct {
	Files            int
	Chunks           int
	CachedEmbeddings int
}

// MetadataStore persists file metadata, chunks, the full-text index, the
// embedding cache, and the singleton status/checkpoint records. One store
// exists per project. The implementation must keep the full-text index in
// lock-step with the chunk table (same transaction) and support a single
// writer with concurrent readers.
type MetadataStore interface {
	// File metadata. Insert is upsert-by-path; delete cascades to chunks.
	InsertFileMeta(ctx context.Context, files []*FileMeta) error
	GetFileMeta(ctx context.Context, path string) (*FileMeta, error)
	GetAllFileMeta(ctx context.Context) ([]*FileMeta, error)
	DeleteFileMeta(ctx context.Context, paths []string) error

	// Chunks. Insert is insert-or-replace, batched internally inside
	// transactions; FTS rows are mutated in the same transaction.
	InsertChunks(ctx context.Context, chunks []*Chunk) error
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByFilePath(ctx context.Context, path string) ([]*Chunk, error)
	DeleteChunksByFilePath(ctx context.Context, paths []string) error

	// RecentChunks returns the first chunk of each of the N most recently
	// modified files with a synthetic, monotonically decreasing score.
	RecentChunks(ctx context.Context, limit int) ([]*ScoredChunk, error)

	// PrimaryLanguages returns languages covering at least 20% of files,
	// most common first, capped at 5.
	PrimaryLanguages(ctx context.Context) ([]string, error)

	// SearchFTS runs a sanitized full-text query ranked by BM25.
	// Empty or invalid queries return no results rather than erroring.
	SearchFTS(ctx context.Context, query string, limit int) ([]*ScoredChunk, error)

	// Embedding cache, keyed by content hash. Write-once per key.
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	PutEmbedding(ctx context.Context, key string, vector []float32) error

	// Singleton build status.
	GetIndexStatus(ctx context.Context) (*IndexingProgress, error)
	SetIndexStatus(ctx context.Context, progress *IndexingProgress) error

	// Singleton checkpoint. Get returns (nil, nil) when no checkpoint exists.
	GetCheckpoint(ctx context.Context) (*BuildCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp *BuildCheckpoint) error
	ClearCheckpoint(ctx context.Context) error

	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// VectorHit is a single dense-vector search result.
type VectorHit struct {
	ID    string  // Chunk ID
	Score float32 // Normalized similarity, higher is closer
}

// VectorStore provides dense-vector similarity search over chunk embeddings.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// GraphEdge is one symbol relationship between two chunks.
type GraphEdge struct {
	From string // Chunk ID
	To   string // Chunk ID
	Kind string // e.g. "calls", "references", "imports"
}

// GraphExpansion is the result of expanding outward from seed chunks.
type GraphExpansion struct {
	ChunkIDs []string // Related chunk IDs, BFS order, seeds excluded
	Edges    []GraphEdge
}

// SymbolGraph traverses code-entity relationships between chunks.
type SymbolGraph interface {
	AddEdges(ctx context.Context, edges []GraphEdge) error
	RemoveChunks(ctx context.Context, chunkIDs []string) error
	ExpandFromChunks(ctx context.Context, seedIDs []string, maxDepth, maxChunks int) (*GraphExpansion, error)
}

// ErrDimensionMismatch indicates a vector dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
