package retrieval

// Defaults for retrieval options.
const (
	DefaultTopK             = 20
	DefaultMaxTokens        = 8000
	DefaultGraphDepth       = 2
	DefaultMaxGraphNodes    = 50
	DefaultTestFilePenalty  = 0.1
	DefaultMultiSourceBoost = 1.3

	// DefaultRRFConstant is the standard RRF smoothing parameter.
	// k=60 is empirically validated across domains.
	DefaultRRFConstant = 60
)

// Weights scale each search path's contribution during rank fusion.
type Weights struct {
	BM25   float64
	Vector float64
	Recent float64
}

// DefaultWeights favors the two primary paths equally with recency as a
// weaker signal.
func DefaultWeights() Weights {
	return Weights{BM25: 1.0, Vector: 1.0, Recent: 0.5}
}

// Options is the per-query options bag. The zero value is usable;
// applyDefaults fills in unset fields and clamps out-of-range ones.
type Options struct {
	// TopK is the number of primary results to return.
	TopK int

	// MaxTokens is the context budget for the assembled text view.
	MaxTokens int

	// Weights are the per-source fusion weights. Nil means defaults.
	Weights *Weights

	// EnableGraph expands results through the symbol graph. Nil means true.
	EnableGraph *bool

	// GraphDepth bounds expansion hops; MaxGraphNodes bounds added chunks.
	GraphDepth    int
	MaxGraphNodes int

	// EnableRerank applies the configured reranker. Nil means true.
	EnableRerank *bool

	// TestFilePenalty multiplies the fused score of chunks from test
	// files. Clamped to [0.1, 1.0]; not applied to test-related queries.
	TestFilePenalty float64

	// MultiSourceBoost multiplies the fused score of chunks found by
	// both primary paths (bm25 and vector). Clamped to [1.0, 2.0].
	MultiSourceBoost float64

	// MinScoreThreshold drops results scoring below it after boosts and
	// penalties. Clamped to [0, 1].
	MinScoreThreshold float64
}

func (o Options) applyDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Weights == nil {
		w := DefaultWeights()
		o.Weights = &w
	}
	if o.EnableGraph == nil {
		t := true
		o.EnableGraph = &t
	}
	if o.GraphDepth <= 0 {
		o.GraphDepth = DefaultGraphDepth
	}
	if o.MaxGraphNodes <= 0 {
		o.MaxGraphNodes = DefaultMaxGraphNodes
	}
	if o.EnableRerank == nil {
		t := true
		o.EnableRerank = &t
	}
	if o.TestFilePenalty == 0 {
		o.TestFilePenalty = DefaultTestFilePenalty
	}
	o.TestFilePenalty = clamp(o.TestFilePenalty, 0.1, 1.0)
	if o.MultiSourceBoost == 0 {
		o.MultiSourceBoost = DefaultMultiSourceBoost
	}
	o.MultiSourceBoost = clamp(o.MultiSourceBoost, 1.0, 2.0)
	o.MinScoreThreshold = clamp(o.MinScoreThreshold, 0, 1.0)
	return o
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
