// Package chunk splits files into retrievable units. The built-in
// LineChunker is a fixed-window splitter; semantic chunkers can be
// plugged in behind the same interface.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/codelens/codelens/internal/store"
)

// Window defaults, in lines.
const (
	DefaultWindowLines  = 60
	DefaultOverlapLines = 10
)

// FileInput is one file to be chunked.
type FileInput struct {
	Path     string // Relative to project root
	Content  []byte
	Language string
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*store.Chunk, error)
}

// LineChunker splits files into overlapping fixed-size line windows.
// It knows nothing about syntax, which makes it language-agnostic and
// deterministic.
type LineChunker struct {
	windowLines  int
	overlapLines int
}

var _ Chunker = (*LineChunker)(nil)

// NewLineChunker creates a LineChunker. Non-positive arguments fall back
// to the defaults; overlap is capped below the window size.
func NewLineChunker(windowLines, overlapLines int) *LineChunker {
	if windowLines <= 0 {
		windowLines = DefaultWindowLines
	}
	if overlapLines < 0 {
		overlapLines = DefaultOverlapLines
	}
	if overlapLines >= windowLines {
		overlapLines = windowLines / 2
	}
	return &LineChunker{windowLines: windowLines, overlapLines: overlapLines}
}

// Chunk splits the file into windows. Line numbers are 1-indexed and
// inclusive; empty files produce no chunks.
func (c *LineChunker) Chunk(ctx context.Context, file *FileInput) ([]*store.Chunk, error) {
	content := strings.TrimRight(string(file.Content), "\n")
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")

	step := c.windowLines - c.overlapLines
	var chunks []*store.Chunk
	for start := 0; start < len(lines); start += step {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + c.windowLines
		if end > len(lines) {
			end = len(lines)
		}

		body := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, &store.Chunk{
			ID:          ChunkID(file.Path, start+1),
			FilePath:    file.Path,
			Content:     body,
			StartLine:   start + 1,
			EndLine:     end,
			Index:       len(chunks),
			ContentHash: hashContent(body),
			Type:        chunkTypeFor(file.Language),
			Metadata:    map[string]string{"language": file.Language},
		})

		if end == len(lines) {
			break
		}
	}
	return chunks, nil
}

// chunkTypeFor maps a detected language to a chunk type. Unknown
// languages are plain text.
func chunkTypeFor(language string) store.ChunkType {
	switch language {
	case "", "text":
		return store.ChunkTypeText
	case "markdown":
		return store.ChunkTypeMarkdown
	default:
		return store.ChunkTypeCode
	}
}

// ChunkID derives a stable chunk identifier from the owning path and
// starting line.
func ChunkID(path string, startLine int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, startLine)))
	return hex.EncodeToString(sum[:])[:16]
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
