// Package scanner discovers indexable files in a project, respecting
// exclusion patterns, .gitignore rules, and sensitive file patterns, and
// diffs scan results against previously indexed metadata.
package scanner

import "time"

// File is a discovered file with its content already read and hashed.
// Path is relative to the project root.
type File struct {
	Path         string
	AbsPath      string
	Size         int64
	LastModified time.Time
	Language     string
	ContentHash  string // sha256 hex of the file bytes
	Content      []byte
}

// MaxFileSize is the ceiling above which files are skipped (10 MiB).
const MaxFileSize = 10 * 1024 * 1024

// DefaultBatchSize is the streaming batch size when none is given.
const DefaultBatchSize = 100

// languageByExt maps file extensions (and a few exact names) to language
// identifiers. Unknown extensions map to "".
var languageByExt = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".hs":    "haskell",
	".lua":   "lua",
	".sql":   "sql",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",

	".html": "html",
	".css":  "css",
	".scss": "scss",

	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".xml":  "xml",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".txt":      "text",

	".proto": "protobuf",
	".vue":   "vue",

	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
	"makefile":   "makefile",
}

// DetectLanguage returns the language identifier for a file path, or ""
// when the extension is not recognized.
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageByExt[base]; ok {
		return lang
	}
	if lang, ok := languageByExt[extension(path)]; ok {
		return lang
	}
	return ""
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
