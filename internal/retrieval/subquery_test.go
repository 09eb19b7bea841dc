package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/llm"
)

func completionServer(t *testing.T, text string) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.CompletionResult{Text: text})
	}))
	t.Cleanup(srv.Close)
	return llm.NewClient(llm.Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestGenerateClampsAndDedups(t *testing.T) {
	client := completionServer(t, `{"queries": ["parse tokens", "Parse Tokens", "lexer state", "ast nodes", "symbol table", "extra one"]}`)
	g := NewLLMSubQueryGenerator(client, 2, 4, zap.NewNop())

	queries, err := g.Generate(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"parse tokens", "lexer state", "ast nodes", "symbol table"}, queries)
}

func TestGenerateFallsBackOnGarbage(t *testing.T) {
	client := completionServer(t, "not json at all")
	g := NewLLMSubQueryGenerator(client, 2, 4, zap.NewNop())

	req := baseRequest()
	req.Guidance = "focus on the tokenizer"
	queries, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"implement parser", "focus on the tokenizer"}, queries)
}

func TestGeneratePadsToMinimum(t *testing.T) {
	client := completionServer(t, `{"queries": ["only one"]}`)
	g := NewLLMSubQueryGenerator(client, 2, 4, zap.NewNop())

	queries, err := g.Generate(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "only one", queries[0])
}

func TestGenerateAdaptiveUsesFailureContext(t *testing.T) {
	client := completionServer(t, "broken")
	g := NewLLMSubQueryGenerator(client, 2, 4, zap.NewNop())

	req := baseRequest()
	req.Mode = ModeAdaptive
	req.FailureContext = "undefined: tokenizer.Next\nstack trace follows"
	queries, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, queries, "undefined: tokenizer.Next")
}
