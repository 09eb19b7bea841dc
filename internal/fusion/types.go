package fusion

// Chunk is one retrieved context item entering fusion. Insertion order is
// significant: it is the final tie-breaker, so identical inputs always fuse
// to identical bundles.
type Chunk struct {
	ID             string
	Content        string
	Source         string
	SourcePriority int
	FilePath       string
	StartLine      int
	EndLine        int
	Score          float64
	Vector         []float32
}

// PackedChunk is a chunk admitted to the bundle with its final rank score.
type PackedChunk struct {
	Chunk
	RerankScore float64
	Tokens      int
}

// SourceStat summarizes one source's contribution to a bundle.
type SourceStat struct {
	Chunks int `json:"chunks"`
	Tokens int `json:"tokens"`
}

// Bundle is the fused, budget-bounded context handed to stage agents.
type Bundle struct {
	Chunks      []PackedChunk
	TotalTokens int
	Budget      int
	Attribution map[string]SourceStat
	// Dropped counts chunks excluded at each phase.
	Dropped struct {
		ExactDup    int
		SemanticDup int
		OverBudget  int
	}
	// Degraded is set when reranking failed and retrieval scores were
	// used for ordering instead.
	Degraded bool
}

// Text concatenates packed chunk contents in bundle order.
func (b *Bundle) Text() string {
	if len(b.Chunks) == 0 {
		return ""
	}
	out := make([]byte, 0, b.TotalTokens*4)
	for i, c := range b.Chunks {
		if i > 0 {
			out = append(out, "\n\n"...)
		}
		out = append(out, c.Content...)
	}
	return string(out)
}
