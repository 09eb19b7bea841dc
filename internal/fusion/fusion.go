// Package fusion merges retrieval results from multiple sources into a
// single token-bounded context bundle: exact dedup, cross-encoder rerank,
// near-duplicate collapse, then greedy packing that skips chunks which do
// not fit rather than truncating them.
package fusion

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	ometrics "github.com/weftlabs/weft/internal/metrics"
)

// DefaultSemanticThreshold is the cosine similarity above which two chunks
// are treated as the same content.
const DefaultSemanticThreshold = 0.95

// Fuser assembles context bundles.
type Fuser struct {
	reranker          Reranker
	semanticThreshold float64
	log               *zap.Logger
}

func NewFuser(reranker Reranker, semanticThreshold float64, logger *zap.Logger) *Fuser {
	if semanticThreshold <= 0 || semanticThreshold > 1 {
		semanticThreshold = DefaultSemanticThreshold
	}
	return &Fuser{reranker: reranker, semanticThreshold: semanticThreshold, log: logger}
}

// Fuse produces a bundle within budget tokens. Chunks never get clipped:
// a chunk either fits whole or is skipped, and packing continues with the
// next candidate. Fuse is deterministic for identical inputs; ties order
// by source priority (lower first), then input position.
func (f *Fuser) Fuse(ctx context.Context, query string, chunks []Chunk, budget int) (*Bundle, error) {
	bundle := &Bundle{Budget: budget, Attribution: make(map[string]SourceStat)}
	if len(chunks) == 0 || budget <= 0 {
		ometrics.FusionCalls.WithLabelValues("ok").Inc()
		return bundle, nil
	}

	type candidate struct {
		Chunk
		pos    int
		score  float64
		tokens int
	}

	// Phase 1: exact dedup on normalized content. First occurrence wins so
	// source attribution stays stable.
	seen := make(map[string]struct{}, len(chunks))
	var cands []candidate
	for i, c := range chunks {
		key := contentKey(c.Content)
		if _, dup := seen[key]; dup {
			bundle.Dropped.ExactDup++
			continue
		}
		seen[key] = struct{}{}
		cands = append(cands, candidate{Chunk: c, pos: i, score: c.Score, tokens: EstimateTokens(c.Content)})
	}

	// Phase 2: cross-encoder rerank. On failure the bundle degrades to
	// retrieval-score ordering rather than failing the stage.
	if f.reranker != nil {
		docs := make([]string, len(cands))
		for i, c := range cands {
			docs[i] = c.Content
		}
		scores, err := f.reranker.Rerank(ctx, query, docs)
		if err != nil {
			bundle.Degraded = true
			if f.log != nil {
				f.log.Warn("Rerank failed, falling back to retrieval scores", zap.Error(err))
			}
		} else {
			for i := range cands {
				cands[i].score = scores[i]
			}
		}
	}

	// Phase 3: collapse near-duplicates. The higher-scored member of each
	// similar pair survives; on a tie the earlier insertion survives.
	removed := make([]bool, len(cands))
	for i := 0; i < len(cands); i++ {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if removed[j] || len(cands[i].Vector) == 0 || len(cands[j].Vector) == 0 {
				continue
			}
			if cosine(cands[i].Vector, cands[j].Vector) > f.semanticThreshold {
				loser := j
				if cands[j].score > cands[i].score {
					loser = i
				}
				removed[loser] = true
				bundle.Dropped.SemanticDup++
				if loser == i {
					break
				}
			}
		}
	}
	kept := cands[:0]
	for i, c := range cands {
		if !removed[i] {
			kept = append(kept, c)
		}
	}

	// Phase 4: rank and pack greedily, skipping what does not fit.
	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].score != kept[b].score {
			return kept[a].score > kept[b].score
		}
		if kept[a].SourcePriority != kept[b].SourcePriority {
			return kept[a].SourcePriority < kept[b].SourcePriority
		}
		return kept[a].pos < kept[b].pos
	})

	for _, c := range kept {
		if bundle.TotalTokens+c.tokens > budget {
			bundle.Dropped.OverBudget++
			continue
		}
		bundle.Chunks = append(bundle.Chunks, PackedChunk{Chunk: c.Chunk, RerankScore: c.score, Tokens: c.tokens})
		bundle.TotalTokens += c.tokens
		stat := bundle.Attribution[c.Source]
		stat.Chunks++
		stat.Tokens += c.tokens
		bundle.Attribution[c.Source] = stat
	}

	status := "ok"
	if bundle.Degraded {
		status = "degraded"
	}
	ometrics.FusionCalls.WithLabelValues(status).Inc()
	ometrics.FusionChunksDropped.WithLabelValues("exact_dup").Add(float64(bundle.Dropped.ExactDup))
	ometrics.FusionChunksDropped.WithLabelValues("semantic_dup").Add(float64(bundle.Dropped.SemanticDup))
	ometrics.FusionChunksDropped.WithLabelValues("over_budget").Add(float64(bundle.Dropped.OverBudget))
	ometrics.FusionBundleTokens.Observe(float64(bundle.TotalTokens))
	return bundle, nil
}

// contentKey normalizes whitespace and case before hashing so formatting
// variants of the same snippet dedup together.
func contentKey(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
