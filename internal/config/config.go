package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete CodeLens configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// RetrievalConfig configures hybrid retrieval parameters.
// Weights are configurable via:
//  1. User config (~/.config/codelens/config.yaml) - personal defaults
//  2. Project config (.codelens.yaml) - per-repo tuning
//  3. Env vars (CODELENS_BM25_WEIGHT, CODELENS_VECTOR_WEIGHT, ...) - highest priority
type RetrievalConfig struct {
	// BM25Weight scales the keyword-match contribution during fusion.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// VectorWeight scales the semantic-similarity contribution during fusion.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// RecencyWeight scales the recently-modified-files contribution.
	RecencyWeight float64 `yaml:"recency_weight" json:"recency_weight"`

	// RRFConstant is the reciprocal-rank-fusion smoothing parameter (k).
	// Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopK is the default number of results returned per query.
	TopK int `yaml:"top_k" json:"top_k"`

	// MaxTokens is the default context token budget per query.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// MinScore drops fused results scoring below this threshold.
	MinScore float64 `yaml:"min_score" json:"min_score"`

	// EnableGraph expands results through the symbol graph.
	EnableGraph *bool `yaml:"enable_graph" json:"enable_graph"`

	// GraphDepth bounds how many hops graph expansion may take.
	GraphDepth int `yaml:"graph_depth" json:"graph_depth"`

	// MaxGraphNodes bounds how many chunks graph expansion may add.
	MaxGraphNodes int `yaml:"max_graph_nodes" json:"max_graph_nodes"`

	// EnableRerank applies the reranker when one is configured.
	EnableRerank *bool `yaml:"enable_rerank" json:"enable_rerank"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// IndexingConfig configures build and update behavior.
type IndexingConfig struct {
	// Workers is the number of parallel embedding workers.
	Workers int `yaml:"workers" json:"workers"`

	// BatchSize is the number of files processed per pipeline batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// PollInterval is how often the background poll loop checks for
	// drift between the filesystem and the index (e.g. "5m").
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// ChunkLines and ChunkOverlap control the sliding-window chunker.
	ChunkLines   int `yaml:"chunk_lines" json:"chunk_lines"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

func boolPtr(b bool) *bool { return &b }

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Retrieval: RetrievalConfig{
			BM25Weight:    1.0,
			VectorWeight:  1.0,
			RecencyWeight: 0.5,
			RRFConstant:   60,
			TopK:          20,
			MaxTokens:     8000,
			MinScore:      0.0,
			EnableGraph:   boolPtr(true),
			GraphDepth:    2,
			MaxGraphNodes: 50,
			EnableRerank:  boolPtr(true),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "static-256",
			Dimensions: 0, // auto-detect from embedder
			BatchSize:  32,
		},
		Indexing: IndexingConfig{
			Workers:      runtime.NumCPU(),
			BatchSize:    100,
			PollInterval: "5m",
			MaxFileSize:  10 * 1024 * 1024,
			ChunkLines:   60,
			ChunkOverlap: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/codelens/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/codelens/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codelens", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codelens", "config.yaml")
	}
	return filepath.Join(home, ".config", "codelens", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/codelens/config.yaml)
//  3. Project config (.codelens.yaml in project root)
//  4. Environment variables (CODELENS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .codelens.yaml or .codelens.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".codelens.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".codelens.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Retrieval. 0 is not a practical value for weights, so only merge non-zero.
	if other.Retrieval.BM25Weight != 0 {
		c.Retrieval.BM25Weight = other.Retrieval.BM25Weight
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.RecencyWeight != 0 {
		c.Retrieval.RecencyWeight = other.Retrieval.RecencyWeight
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.MaxTokens != 0 {
		c.Retrieval.MaxTokens = other.Retrieval.MaxTokens
	}
	if other.Retrieval.MinScore != 0 {
		c.Retrieval.MinScore = other.Retrieval.MinScore
	}
	if other.Retrieval.EnableGraph != nil {
		c.Retrieval.EnableGraph = other.Retrieval.EnableGraph
	}
	if other.Retrieval.GraphDepth != 0 {
		c.Retrieval.GraphDepth = other.Retrieval.GraphDepth
	}
	if other.Retrieval.MaxGraphNodes != 0 {
		c.Retrieval.MaxGraphNodes = other.Retrieval.MaxGraphNodes
	}
	if other.Retrieval.EnableRerank != nil {
		c.Retrieval.EnableRerank = other.Retrieval.EnableRerank
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}

	// Indexing
	if other.Indexing.Workers != 0 {
		c.Indexing.Workers = other.Indexing.Workers
	}
	if other.Indexing.BatchSize != 0 {
		c.Indexing.BatchSize = other.Indexing.BatchSize
	}
	if other.Indexing.PollInterval != "" {
		c.Indexing.PollInterval = other.Indexing.PollInterval
	}
	if other.Indexing.MaxFileSize != 0 {
		c.Indexing.MaxFileSize = other.Indexing.MaxFileSize
	}
	if other.Indexing.ChunkLines != 0 {
		c.Indexing.ChunkLines = other.Indexing.ChunkLines
	}
	if other.Indexing.ChunkOverlap != 0 {
		c.Indexing.ChunkOverlap = other.Indexing.ChunkOverlap
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies CODELENS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODELENS_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.BM25Weight = w
		}
	}
	if v := os.Getenv("CODELENS_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("CODELENS_RECENCY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.RecencyWeight = w
		}
	}
	if v := os.Getenv("CODELENS_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("CODELENS_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CODELENS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CODELENS_POLL_INTERVAL"); v != "" {
		c.Indexing.PollInterval = v
	}
	if v := os.Getenv("CODELENS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or .codelens.yaml/.yml file by walking up
// the directory tree, falling back to the starting directory.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".codelens.yaml")) ||
			fileExists(filepath.Join(currentDir, ".codelens.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.BM25Weight < 0 {
		return fmt.Errorf("bm25_weight must be non-negative, got %f", c.Retrieval.BM25Weight)
	}
	if c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("vector_weight must be non-negative, got %f", c.Retrieval.VectorWeight)
	}
	if c.Retrieval.RecencyWeight < 0 {
		return fmt.Errorf("recency_weight must be non-negative, got %f", c.Retrieval.RecencyWeight)
	}
	if sum := c.Retrieval.BM25Weight + c.Retrieval.VectorWeight + c.Retrieval.RecencyWeight; math.Abs(sum) < 1e-9 {
		return fmt.Errorf("at least one retrieval weight must be positive")
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("top_k must be non-negative, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", c.Retrieval.MaxTokens)
	}
	if c.Retrieval.GraphDepth < 0 {
		return fmt.Errorf("graph_depth must be non-negative, got %d", c.Retrieval.GraphDepth)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'static' or empty, got %s", c.Embeddings.Provider)
		}
	}

	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkLines && c.Indexing.ChunkLines > 0 {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_lines (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkLines)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
