package retrieval

import (
	"fmt"
	"strings"

	"github.com/codelens/codelens/internal/store"
)

// charsPerToken approximates tokenizer behavior for budget purposes.
const charsPerToken = 4

// assembleTextView formats the results into a single context block
// sized to the token budget. Each chunk gets a file/line-range header;
// chunks that would overflow the budget are dropped, not truncated.
func assembleTextView(result *Result, maxTokens int) string {
	budget := maxTokens * charsPerToken
	if budget <= 0 {
		return ""
	}

	var b strings.Builder
	used := 0

	write := func(chunks []*store.FusedChunk) {
		for _, r := range chunks {
			block := formatChunk(r.Chunk)
			if used+len(block) > budget {
				continue
			}
			b.WriteString(block)
			used += len(block)
		}
	}

	write(result.Chunks)
	if result.SymbolExpansion != nil {
		write(result.SymbolExpansion.Chunks)
	}
	return b.String()
}

func formatChunk(c *store.Chunk) string {
	return fmt.Sprintf("### %s:%d-%d\n%s\n\n", c.FilePath, c.StartLine, c.EndLine, c.Content)
}
