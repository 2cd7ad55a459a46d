package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// chunkInsertBatchSize bounds how many chunk rows go into one transaction
// so a partial failure cannot corrupt unrelated batches.
const chunkInsertBatchSize = 500

// recencyScoreStep is the per-rank decay of the synthetic recency score.
const recencyScoreStep = 0.05

// primaryLanguageShare is the minimum fraction of files a language must
// cover to count as a primary language.
const primaryLanguageShare = 0.2

// maxPrimaryLanguages caps the primary language list.
const maxPrimaryLanguages = 5

// SQLiteStore implements MetadataStore on a single SQLite database in WAL
// mode: one writer (the build worker), concurrent readers (retrieval).
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateIntegrity checks an existing database before opening it for real.
// Returns nil if the file is absent or healthy.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the metadata store at path.
// An empty path creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("metadata store corrupted, resetting",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == "" {
		// In-memory databases are per-connection; a pool would fragment them.
		db.SetMaxOpenConns(1)
	} else {
		// A small pool lets read-only retrieval queries run while the
		// build worker holds the write path. WAL makes that safe.
		db.SetMaxOpenConns(4)
	}
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates all tables. Chunk rows and their FTS5 shadow rows are
// always mutated inside the same transaction, never independently.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		path          TEXT PRIMARY KEY,
		content_hash  TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		size          INTEGER NOT NULL,
		language      TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		file_path    TEXT NOT NULL,
		content      TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		chunk_index  INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_type   TEXT NOT NULL,
		metadata     TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path, chunk_index);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		key    TEXT PRIMARY KEY,
		dims   INTEGER NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_status (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS build_checkpoint (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertFileMeta upserts file metadata by path.
func (s *SQLiteStore) InsertFileMeta(ctx context.Context, files []*FileMeta) error {
	if len(files) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (path, content_hash, last_modified, size, language)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_modified = excluded.last_modified,
			size = excluded.size,
			language = excluded.language`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.Path, f.ContentHash, f.LastModified.UnixNano(), f.Size, f.Language); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

// GetFileMeta returns metadata for one path, or (nil, nil) if untracked.
func (s *SQLiteStore) GetFileMeta(ctx context.Context, path string) (*FileMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT path, content_hash, last_modified, size, language FROM files WHERE path = ?`, path)
	f, err := scanFileMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// GetAllFileMeta returns every tracked file, ordered by path.
func (s *SQLiteStore) GetAllFileMeta(ctx context.Context) ([]*FileMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, last_modified, size, language FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []*FileMeta
	for rows.Next() {
		f, err := scanFileMeta(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFileMeta removes files and, in the same transaction, their chunks
// and the chunks' FTS rows.
func (s *SQLiteStore) DeleteFileMeta(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteChunksTx(ctx, tx, paths); err != nil {
		return err
	}

	inClause, args := placeholders(paths)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM files WHERE path IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}

	return tx.Commit()
}

// InsertChunks bulk insert-or-replaces chunks, batched so a failing batch
// cannot corrupt unrelated batches. FTS rows move in the same transaction
// as the chunk rows (lock-step invariant).
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for start := 0; start < len(chunks); start += chunkInsertBatchSize {
		end := start + chunkInsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.insertChunkBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insertChunkBatch(ctx context.Context, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, file_path, content, start_line, end_line, chunk_index, content_hash, chunk_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	// FTS5 virtual tables don't support REPLACE, so delete first.
	ftsDelStmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare FTS delete: %w", err)
	}
	defer ftsDelStmt.Close()

	ftsInsStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare FTS insert: %w", err)
	}
	defer ftsInsStmt.Close()

	for _, c := range chunks {
		meta := "{}"
		if len(c.Metadata) > 0 {
			b, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata %s: %w", c.ID, err)
			}
			meta = string(b)
		}

		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.FilePath, c.Content,
			c.StartLine, c.EndLine, c.Index, c.ContentHash, string(c.Type), meta); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		if _, err := ftsDelStmt.ExecContext(ctx, c.ID); err != nil {
			return fmt.Errorf("delete FTS row %s: %w", c.ID, err)
		}
		if _, err := ftsInsStmt.ExecContext(ctx, c.ID, c.Content); err != nil {
			return fmt.Errorf("insert FTS row %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunks fetches chunks by ID in one query, preserving input order.
// Missing IDs are silently absent from the result.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	inClause, args := placeholders(ids)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, file_path, content, start_line, end_line, chunk_index, content_hash, chunk_type, metadata
		 FROM chunks WHERE id IN (%s)`, inClause), args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// GetChunksByFilePath returns a file's chunks ordered by in-file index.
func (s *SQLiteStore) GetChunksByFilePath(ctx context.Context, path string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, content, start_line, end_line, chunk_index, content_hash, chunk_type, metadata
		 FROM chunks WHERE file_path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByFilePath deletes all chunks (and FTS rows) for the given files.
func (s *SQLiteStore) DeleteChunksByFilePath(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteChunksTx(ctx, tx, paths); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteChunksTx removes chunk and FTS rows for the given file paths inside
// an existing transaction.
func deleteChunksTx(ctx context.Context, tx *sql.Tx, paths []string) error {
	inClause, args := placeholders(paths)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM chunks_fts WHERE chunk_id IN
			(SELECT id FROM chunks WHERE file_path IN (%s))`, inClause), args...); err != nil {
		return fmt.Errorf("delete FTS rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM chunks WHERE file_path IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// RecentChunks returns the first chunk of each of the N most recently
// modified files. Scores decay by rank: max(0, 1 - 0.05*(rank-1)).
func (s *SQLiteStore) RecentChunks(ctx context.Context, limit int) ([]*ScoredChunk, error) {
	if limit <= 0 {
		return []*ScoredChunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.content, c.start_line, c.end_line, c.chunk_index, c.content_hash, c.chunk_type, c.metadata
		FROM files f
		JOIN chunks c ON c.file_path = f.path AND c.chunk_index = 0
		ORDER BY f.last_modified DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chunks: %w", err)
	}
	defer rows.Close()

	var results []*ScoredChunk
	rank := 0
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		rank++
		results = append(results, &ScoredChunk{
			Chunk:  c,
			Score:  math.Max(0, 1-recencyScoreStep*float64(rank-1)),
			Rank:   rank,
			Source: SourceRecent,
		})
	}
	return results, rows.Err()
}

// PrimaryLanguages returns languages covering at least 20% of tracked
// files, most common first, capped at 5.
func (s *SQLiteStore) PrimaryLanguages(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if total == 0 {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT language, COUNT(*) AS n FROM files
		WHERE language != ''
		GROUP BY language
		ORDER BY n DESC, language`)
	if err != nil {
		return nil, fmt.Errorf("query languages: %w", err)
	}
	defer rows.Close()

	var langs []string
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		if float64(n) < primaryLanguageShare*float64(total) {
			break // ordered by count, everything after is smaller
		}
		langs = append(langs, lang)
		if len(langs) == maxPrimaryLanguages {
			break
		}
	}
	if langs == nil {
		langs = []string{}
	}
	return langs, rows.Err()
}

// SearchFTS runs a sanitized full-text query ranked by FTS5's bm25().
// Empty and invalid queries return an empty result, never an error.
func (s *SQLiteStore) SearchFTS(ctx context.Context, query string, limit int) ([]*ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	matchExpr := SanitizeFTSQuery(query)
	if matchExpr == "" || limit <= 0 {
		return []*ScoredChunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.content, c.start_line, c.end_line, c.chunk_index, c.content_hash, c.chunk_type, c.metadata,
		       bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.chunk_id
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, matchExpr, limit)
	if err != nil {
		// FTS5 rejects some surviving token sequences; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*ScoredChunk{}, nil
		}
		return nil, fmt.Errorf("FTS search: %w", err)
	}
	defer rows.Close()

	var results []*ScoredChunk
	rank := 0
	for rows.Next() {
		var c Chunk
		var chunkType, meta string
		var score float64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Content, &c.StartLine, &c.EndLine,
			&c.Index, &c.ContentHash, &chunkType, &meta, &score); err != nil {
			return nil, fmt.Errorf("scan FTS result: %w", err)
		}
		c.Type = ChunkType(chunkType)
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			c.Metadata = nil
		}
		rank++
		results = append(results, &ScoredChunk{
			Chunk:  &c,
			Score:  -score, // FTS5 bm25() is negative, lower = better
			Rank:   rank,
			Source: SourceBM25,
		})
	}
	if results == nil {
		results = []*ScoredChunk{}
	}
	return results, rows.Err()
}

// ftsSpecialChars are FTS5 query operators stripped during sanitization.
const ftsSpecialChars = `"'*()^:{}[]-+~.,;!?/\<>=&|%$#@` + "`"

// SanitizeFTSQuery strips FTS5 operator characters, drops single-character
// terms, quotes the survivors, and OR-combines them. Returns "" when
// nothing survives.
func SanitizeFTSQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecialChars, r) {
			return ' '
		}
		return r
	}, query)

	var terms []string
	for _, t := range strings.Fields(cleaned) {
		if len(t) < 2 {
			continue
		}
		terms = append(terms, `"`+t+`"`)
	}
	return strings.Join(terms, " OR ")
}

// GetEmbedding reads a cached vector by key. Returns found=false on miss.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("store is closed")
	}

	var dims int
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT dims, vector FROM embedding_cache WHERE key = ?`, key).Scan(&dims, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read embedding cache: %w", err)
	}

	vec, err := decodeVector(blob, dims)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached embedding %s: %w", key, err)
	}
	return vec, true, nil
}

// PutEmbedding stores a vector under key. Keys are content-addressed, so an
// existing entry is left untouched (write-once).
func (s *SQLiteStore) PutEmbedding(ctx context.Context, key string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO embedding_cache (key, dims, vector) VALUES (?, ?, ?)`,
		key, len(vector), encodeVector(vector))
	if err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	return nil
}

// GetIndexStatus reads the singleton status row. A missing row reports an
// idle index.
func (s *SQLiteStore) GetIndexStatus(ctx context.Context) (*IndexingProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM index_status WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return &IndexingProgress{Status: StatusIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index status: %w", err)
	}

	var p IndexingProgress
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode index status: %w", err)
	}
	return &p, nil
}

// SetIndexStatus replaces the singleton status row.
func (s *SQLiteStore) SetIndexStatus(ctx context.Context, progress *IndexingProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	b, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode index status: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_status (id, payload) VALUES (1, ?)`, string(b))
	if err != nil {
		return fmt.Errorf("write index status: %w", err)
	}
	return nil
}

// GetCheckpoint reads the singleton checkpoint row, (nil, nil) when absent.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context) (*BuildCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM build_checkpoint WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp BuildCheckpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint replaces the singleton checkpoint row.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *BuildCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO build_checkpoint (id, payload) VALUES (1, ?)`, string(b))
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint row. Clearing an absent
// checkpoint is a no-op.
func (s *SQLiteStore) ClearCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM build_checkpoint WHERE id = 1`); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// Stats reports file/chunk/cache counts for diagnostics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &StoreStats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&stats.Files); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&stats.CachedEmbeddings); err != nil {
		return nil, fmt.Errorf("count cached embeddings: %w", err)
	}
	return stats, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileMeta(row rowScanner) (*FileMeta, error) {
	var f FileMeta
	var modNanos int64
	if err := row.Scan(&f.Path, &f.ContentHash, &modNanos, &f.Size, &f.Language); err != nil {
		return nil, err
	}
	f.LastModified = time.Unix(0, modNanos)
	return &f, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var chunkType, meta string
	if err := row.Scan(&c.ID, &c.FilePath, &c.Content, &c.StartLine, &c.EndLine,
		&c.Index, &c.ContentHash, &chunkType, &meta); err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	c.Type = ChunkType(chunkType)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			c.Metadata = nil
		}
	}
	return &c, nil
}

func placeholders(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ","), args
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the byte-exact inverse of encodeVector.
func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("blob length %d does not match %d dimensions", len(blob), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
