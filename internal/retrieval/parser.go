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
	"github.com/weftlabs/weft/internal/interceptors"
	ometrics "github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/tracing"
)

// HTTPParser calls the AST parsing service for a selected set of files.
// Parsing happens only for files that survived the file-level filter, so
// the request body is always a small explicit path list.
type HTTPParser struct {
	baseURL string
	httpw   *circuitbreaker.HTTPWrapper
	log     *zap.Logger
}

func NewHTTPParser(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPParser {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &HTTPParser{
		baseURL: baseURL,
		httpw:   circuitbreaker.NewHTTPWrapper(httpClient, "parser", "retrieval", logger),
		log:     logger,
	}
}

type parseRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	Files       []string `json:"files"`
}

type parseResponse struct {
	Functions []FunctionDoc `json:"functions"`
}

func (p *HTTPParser) ParseFiles(ctx context.Context, workspaceID string, paths []string) ([]FunctionDoc, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	url := fmt.Sprintf("%s/parse/", p.baseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(parseRequest{WorkspaceID: workspaceID, Files: paths})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.httpw.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parser status %d", resp.StatusCode)
	}
	var pr parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, err
	}
	ometrics.ParsedFunctions.Observe(float64(len(pr.Functions)))
	return pr.Functions, nil
}
