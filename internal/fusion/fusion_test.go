package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, docs []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = f.scores[d]
	}
	return out, nil
}

func chunk(id, content, source string, priority int, score float64) Chunk {
	return Chunk{ID: id, Content: content, Source: source, SourcePriority: priority, Score: score}
}

func TestFuseExactDedupKeepsFirstOccurrence(t *testing.T) {
	f := NewFuser(nil, 0.95, zap.NewNop())
	chunks := []Chunk{
		chunk("a", "func Add(a, b int) int", "vector", 1, 0.9),
		chunk("b", "  FUNC  add(a, b int) INT ", "lsp", 2, 0.8), // same after normalization
		chunk("c", "func Sub(a, b int) int", "vector", 1, 0.7),
	}
	b, err := f.Fuse(context.Background(), "math", chunks, 1000)
	require.NoError(t, err)

	require.Len(t, b.Chunks, 2)
	assert.Equal(t, "a", b.Chunks[0].ID)
	assert.Equal(t, 1, b.Dropped.ExactDup)
	assert.Equal(t, 2, b.Attribution["vector"].Chunks)
}

func TestFuseSemanticDedupKeepsHigherScore(t *testing.T) {
	rr := &fakeReranker{scores: map[string]float64{"variant one": 0.4, "variant two": 0.9}}
	f := NewFuser(rr, 0.95, zap.NewNop())
	chunks := []Chunk{
		{ID: "low", Content: "variant one", Source: "vector", Score: 0.9, Vector: []float32{1, 0}},
		{ID: "high", Content: "variant two", Source: "vector", Score: 0.2, Vector: []float32{0.999, 0.01}},
	}
	b, err := f.Fuse(context.Background(), "q", chunks, 1000)
	require.NoError(t, err)

	require.Len(t, b.Chunks, 1)
	assert.Equal(t, "high", b.Chunks[0].ID)
	assert.Equal(t, 1, b.Dropped.SemanticDup)
}

func TestFuseBudgetSkipsNotClips(t *testing.T) {
	f := NewFuser(nil, 0.95, zap.NewNop())
	big := strings.Repeat("x ", 400)  // ~200 tokens
	small := strings.Repeat("y ", 80) // ~40 tokens
	tiny := strings.Repeat("z ", 16)  // ~8 tokens
	chunks := []Chunk{
		chunk("big", big, "vector", 1, 0.9),
		chunk("small", small, "vector", 1, 0.8),
		chunk("tiny", tiny, "vector", 1, 0.7),
	}
	b, err := f.Fuse(context.Background(), "q", chunks, 230)
	require.NoError(t, err)

	// big fits, small does not, tiny still gets packed.
	ids := []string{}
	for _, c := range b.Chunks {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"big", "tiny"}, ids)
	assert.Equal(t, 1, b.Dropped.OverBudget)
	assert.LessOrEqual(t, b.TotalTokens, 230)
	// Packed chunks are intact, never truncated.
	assert.Equal(t, big, b.Chunks[0].Content)
}

func TestFuseNeverExceedsBudget(t *testing.T) {
	f := NewFuser(nil, 0.95, zap.NewNop())
	var chunks []Chunk
	for i := 0; i < 20; i++ {
		chunks = append(chunks, chunk(string(rune('a'+i)), strings.Repeat("w ", 30+i*7), "vector", 1, float64(20-i)))
	}
	for _, budget := range []int{10, 50, 100, 500} {
		b, err := f.Fuse(context.Background(), "q", chunks, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, b.TotalTokens, budget)
	}
}

func TestFuseDeterministicTies(t *testing.T) {
	f := NewFuser(nil, 0.95, zap.NewNop())
	chunks := []Chunk{
		chunk("late-high-priority", "content alpha", "lsp", 2, 0.5),
		chunk("early-low-priority", "content beta", "vector", 1, 0.5),
		chunk("another", "content gamma", "lsp", 2, 0.5),
	}
	b1, err := f.Fuse(context.Background(), "q", chunks, 1000)
	require.NoError(t, err)
	b2, err := f.Fuse(context.Background(), "q", chunks, 1000)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	// Equal scores order by source priority, then input position.
	assert.Equal(t, "early-low-priority", b1.Chunks[0].ID)
	assert.Equal(t, "late-high-priority", b1.Chunks[1].ID)
	assert.Equal(t, "another", b1.Chunks[2].ID)
}

func TestFuseRerankFailureDegrades(t *testing.T) {
	rr := &fakeReranker{err: errors.New("rerank service down")}
	f := NewFuser(rr, 0.95, zap.NewNop())
	chunks := []Chunk{
		chunk("a", "first snippet", "vector", 1, 0.9),
		chunk("b", "second snippet", "vector", 1, 0.4),
	}
	b, err := f.Fuse(context.Background(), "q", chunks, 1000)
	require.NoError(t, err)

	assert.True(t, b.Degraded)
	require.Len(t, b.Chunks, 2)
	// Retrieval-score order survives the fallback.
	assert.Equal(t, "a", b.Chunks[0].ID)
}

func TestFuseEmptyInput(t *testing.T) {
	f := NewFuser(nil, 0.95, zap.NewNop())
	b, err := f.Fuse(context.Background(), "q", nil, 100)
	require.NoError(t, err)
	assert.Empty(t, b.Chunks)
	assert.Zero(t, b.TotalTokens)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
