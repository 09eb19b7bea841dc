package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/circuitbreaker"
	"github.com/weftlabs/weft/internal/fusion"
	"github.com/weftlabs/weft/internal/interceptors"
	"github.com/weftlabs/weft/internal/tracing"
)

// LSPSource pulls symbol definitions and references from the language
// server bridge. It is an auxiliary source: useful when up, expendable
// when slow.
type LSPSource struct {
	baseURL  string
	priority int
	httpw    *circuitbreaker.HTTPWrapper
	log      *zap.Logger
}

func NewLSPSource(baseURL string, priority int, timeout time.Duration, logger *zap.Logger) *LSPSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &LSPSource{
		baseURL:  baseURL,
		priority: priority,
		httpw:    circuitbreaker.NewHTTPWrapper(httpClient, "lsp", "retrieval", logger),
		log:      logger,
	}
}

func (s *LSPSource) Name() string  { return "lsp" }
func (s *LSPSource) Priority() int { return s.priority }

type lspRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	Queries     []string `json:"queries"`
	Files       []string `json:"files,omitempty"`
}

type lspSymbol struct {
	Name     string  `json:"name"`
	FilePath string  `json:"file_path"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

type lspResponse struct {
	Symbols []lspSymbol `json:"symbols"`
}

func (s *LSPSource) Fetch(ctx context.Context, req Request, queries []string) ([]fusion.Chunk, error) {
	url := fmt.Sprintf("%s/symbols/", s.baseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(lspRequest{WorkspaceID: req.WorkspaceID, Queries: queries, Files: req.FilteredFiles})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := s.httpw.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lsp call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lsp status %d", resp.StatusCode)
	}
	var lr lspResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, err
	}

	chunks := make([]fusion.Chunk, 0, len(lr.Symbols))
	for _, sym := range lr.Symbols {
		chunks = append(chunks, fusion.Chunk{
			ID:             fmt.Sprintf("lsp:%s:%s", sym.FilePath, sym.Name),
			Content:        sym.Snippet,
			Source:         s.Name(),
			SourcePriority: s.priority,
			FilePath:       sym.FilePath,
			Score:          sym.Score,
		})
	}
	return chunks, nil
}
