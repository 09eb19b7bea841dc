package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompleteAppliesDefaults(t *testing.T) {
	var got CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(CompletionResult{Text: "done", TokensUsed: 12, ModelUsed: got.Model})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini", MaxTokens: 512}, zap.NewNop())
	res, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, "done", res.Text)
}

func TestCompleteJSONStripsFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CompletionResult{Text: "```json\n{\"queries\":[\"a\",\"b\"]}\n```"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	var out struct {
		Queries []string `json:"queries"`
	}
	require.NoError(t, c.CompleteJSON(context.Background(), CompletionRequest{Prompt: "q"}, &out))
	assert.Equal(t, []string{"a", "b"}, out.Queries)
}

func TestCompleteRespectsContextCancellation(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://localhost:1", RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	// Drain the burst token, then cancel while the next call waits.
	_, _ = c.Complete(ctx, CompletionRequest{Prompt: "first"})
	cancel()
	_, err := c.Complete(ctx, CompletionRequest{Prompt: "second"})
	require.Error(t, err)
}
