package retrieval

import (
	"context"
	"regexp"
	"strings"
)

// Enhancement is the output of a query enhancer: alternative query
// formulations for each search path plus a test-relatedness signal.
// VectorQueries beyond the first are typically HyDE-style hypothetical
// documents.
type Enhancement struct {
	BM25Queries   []string
	VectorQueries []string
	IsTestRelated bool
}

// Enhancer rewrites a raw query into multiple search formulations.
// Implementations usually call out to a language model; retrieval
// degrades to the raw query when the enhancer is nil or fails.
type Enhancer interface {
	Enhance(ctx context.Context, query string, primaryLanguages []string) (*Enhancement, error)
}

// Test-relatedness fallback when no enhancer is configured.
var (
	testQueryPattern = regexp.MustCompile(`(?i)\b(test|tests|testing|spec|specs|mock|mocks|stub|fixture|assert|coverage|unit test|e2e)\b`)
	testFilePattern  = regexp.MustCompile(`(?i)(_test\.\w+$|\.test\.\w+$|\.spec\.\w+$|^test_|/tests?/|/__tests__/|/spec/)`)
)

// queryIsTestRelated classifies a query as test-related by keyword.
func queryIsTestRelated(query string) bool {
	return testQueryPattern.MatchString(strings.TrimSpace(query))
}

// isTestFile reports whether a repo-relative path looks like a test file.
func isTestFile(path string) bool {
	return testFilePattern.MatchString(path)
}
