package fusion

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
	"github.com/weftlabs/weft/internal/tracing"
)

// Reranker scores documents against a query. Scores align with the input
// slice by index; higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

// RerankConfig controls the cross-encoder HTTP client.
type RerankConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HTTPReranker calls a cross-encoder reranking service.
type HTTPReranker struct {
	cfg   RerankConfig
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func NewHTTPReranker(cfg RerankConfig, logger *zap.Logger) *HTTPReranker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &HTTPReranker{
		cfg:   cfg,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "reranker", "fusion", logger),
		log:   logger,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	url := fmt.Sprintf("%s/rerank/", r.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(rerankRequest{Query: query, Documents: docs, Model: r.cfg.Model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := r.httpw.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank status %d", resp.StatusCode)
	}
	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, err
	}
	if len(rr.Scores) != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(rr.Scores), len(docs))
	}
	return rr.Scores, nil
}
