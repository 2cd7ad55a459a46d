package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/output"
	"github.com/codelens/codelens/internal/retrieval"
	"github.com/codelens/codelens/internal/store"
)

type searchOptions struct {
	limit     int
	maxTokens int
	format    string
	noGraph   bool
	noRerank  bool
	showText  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase with hybrid retrieval.

Full-text (BM25), vector and recency results are fused with
reciprocal-rank fusion.

Examples:
  codelens search "authentication middleware"
  codelens search "handleRequest" --limit 5
  codelens search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", retrieval.DefaultTopK, "Maximum number of results")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", retrieval.DefaultMaxTokens, "Context token budget for --text output")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noGraph, "no-graph", false, "Disable symbol graph expansion")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Disable reranking")
	cmd.Flags().BoolVar(&opts.showText, "text", false, "Print the assembled context view instead of a result list")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	e, err := openEnv(false)
	if err != nil {
		return err
	}
	defer e.Close()

	status, err := e.meta.GetIndexStatus(ctx)
	if err != nil || status.Status == store.StatusIdle {
		return fmt.Errorf("no index found. Run 'codelens index' first")
	}

	svc := retrieval.NewService(e.meta, e.vectors, e.graph, e.embed,
		retrieval.WithDefaults(retrievalDefaults(e.cfg)))

	enableGraph := !opts.noGraph
	enableRerank := !opts.noRerank
	result, err := svc.Retrieve(ctx, query, retrieval.Options{
		TopK:         opts.limit,
		MaxTokens:    opts.maxTokens,
		EnableGraph:  &enableGraph,
		EnableRerank: &enableRerank,
	})
	if err != nil {
		return err
	}

	switch opts.format {
	case "json":
		return printJSON(cmd, query, result)
	default:
		printText(out, query, result, opts.showText)
		return nil
	}
}

// retrievalDefaults maps config onto baseline retrieval options.
func retrievalDefaults(cfg *config.Config) retrieval.Options {
	return retrieval.Options{
		TopK:      cfg.Retrieval.TopK,
		MaxTokens: cfg.Retrieval.MaxTokens,
		Weights: &retrieval.Weights{
			BM25:   cfg.Retrieval.BM25Weight,
			Vector: cfg.Retrieval.VectorWeight,
			Recent: cfg.Retrieval.RecencyWeight,
		},
		EnableGraph:       cfg.Retrieval.EnableGraph,
		GraphDepth:        cfg.Retrieval.GraphDepth,
		MaxGraphNodes:     cfg.Retrieval.MaxGraphNodes,
		EnableRerank:      cfg.Retrieval.EnableRerank,
		MinScoreThreshold: cfg.Retrieval.MinScore,
	}
}

type jsonResult struct {
	Query    string      `json:"query"`
	Results  []jsonChunk `json:"results"`
	Expanded []jsonChunk `json:"expanded,omitempty"`
	TextView string      `json:"text_view,omitempty"`
}

type jsonChunk struct {
	Path      string   `json:"path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Score     float64  `json:"score"`
	Sources   []string `json:"sources,omitempty"`
	Content   string   `json:"content"`
}

func printJSON(cmd *cobra.Command, query string, result *retrieval.Result) error {
	res := jsonResult{Query: query, TextView: result.TextView}
	for _, r := range result.Chunks {
		res.Results = append(res.Results, toJSONChunk(r))
	}
	if result.SymbolExpansion != nil {
		for _, r := range result.SymbolExpansion.Chunks {
			res.Expanded = append(res.Expanded, toJSONChunk(r))
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func toJSONChunk(r *store.FusedChunk) jsonChunk {
	sources := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		sources[i] = string(s)
	}
	return jsonChunk{
		Path:      r.Chunk.FilePath,
		StartLine: r.Chunk.StartLine,
		EndLine:   r.Chunk.EndLine,
		Score:     r.FusedScore,
		Sources:   sources,
		Content:   r.Chunk.Content,
	}
}

func printText(out *output.Writer, query string, result *retrieval.Result, showText bool) {
	if showText {
		out.Code(result.TextView)
		return
	}
	if len(result.Chunks) == 0 {
		out.Statusf("🔍", "no results for %q", query)
		return
	}

	out.Statusf("🔍", "%d results for %q", len(result.Chunks), query)
	out.Newline()
	for i, r := range result.Chunks {
		out.Statusf("", "%2d. %s:%d-%d  (score %.4f, %s)",
			i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine,
			r.FusedScore, strings.Join(sourceNames(r), "+"))
	}
	if result.SymbolExpansion != nil && len(result.SymbolExpansion.Chunks) > 0 {
		out.Newline()
		out.Statusf("🕸 ", "%d related chunks via symbol graph", len(result.SymbolExpansion.Chunks))
	}
}

func sourceNames(r *store.FusedChunk) []string {
	names := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		names[i] = string(s)
	}
	return names
}
