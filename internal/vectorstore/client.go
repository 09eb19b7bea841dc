// Package vectorstore is a Qdrant HTTP client for the two workspace
// collections: file-level summaries and function-level chunks. Searches are
// always scoped to a workspace; an unreachable store is surfaced as
// ErrStoreUnavailable, which callers treat as fatal rather than degraded.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/circuitbreaker"
	"github.com/weftlabs/weft/internal/interceptors"
	ometrics "github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/tracing"
)

// ErrStoreUnavailable marks transport-level failures against the vector
// store. Unlike a slow auxiliary source, retrieval cannot proceed without
// the store, so callers abort on it.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Client is a minimal Qdrant HTTP client.
type Client struct {
	cfg   Config
	http  *http.Client
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UpsertBatchSize == 0 {
		cfg.UpsertBatchSize = 128
	}
	if cfg.FileCollection == "" {
		cfg.FileCollection = "workspace_files"
	}
	if cfg.FunctionCollection == "" {
		cfg.FunctionCollection = "workspace_functions"
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &Client{
		cfg:   cfg,
		http:  httpClient,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectorstore", logger),
		log:   logger,
	}
}

func (c *Client) FileCollection() string     { return c.cfg.FileCollection }
func (c *Client) FunctionCollection() string { return c.cfg.FunctionCollection }

type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	WithVector     bool                   `json:"with_vector"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search runs a filtered vector search. The filter's workspace scope is
// validated before any network call; a missing workspace is a caller bug,
// not a store outage.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Hit, error) {
	if err := p.Filter.validate(); err != nil {
		return nil, err
	}
	if p.TopK <= 0 {
		return nil, fmt.Errorf("vectorstore: top_k must be positive, got %d", p.TopK)
	}
	start := time.Now()

	url := fmt.Sprintf("%s/collections/%s/points/query", c.cfg.BaseURL, p.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	var thr *float64
	if p.ScoreThreshold > 0 {
		thr = &p.ScoreThreshold
	}
	reqBody := qdrantQueryRequest{
		Query:          p.Vector,
		Limit:          p.TopK,
		ScoreThreshold: thr,
		WithPayload:    true,
		WithVector:     true,
		Filter:         p.Filter.toQdrant(),
	}
	buf, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.RecordVectorSearchMetrics(p.Collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.RecordVectorSearchMetrics(p.Collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: qdrant status %d", ErrStoreUnavailable, resp.StatusCode)
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorSearchMetrics(p.Collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: decode response: %v", ErrStoreUnavailable, err)
	}
	ometrics.RecordVectorSearchMetrics(p.Collection, "ok", time.Since(start).Seconds())

	hits := make([]Hit, 0, len(qr.Result.Points))
	for _, pt := range qr.Result.Points {
		hits = append(hits, Hit{
			ID:      fmt.Sprintf("%v", pt.ID),
			Score:   pt.Score,
			Vector:  pt.Vector,
			Payload: pt.Payload,
		})
	}
	return hits, nil
}

// Upsert writes points to a collection in batches.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	for len(points) > 0 {
		n := len(points)
		if n > c.cfg.UpsertBatchSize {
			n = c.cfg.UpsertBatchSize
		}
		if err := c.upsertBatch(ctx, collection, points[:n]); err != nil {
			return err
		}
		ometrics.VectorUpserts.WithLabelValues(collection, "ok").Add(float64(n))
		points = points[n:]
	}
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, collection string, points []Point) error {
	url := fmt.Sprintf("%s/collections/%s/points", c.cfg.BaseURL, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	body := map[string]interface{}{"points": points}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: qdrant upsert status %d", ErrStoreUnavailable, resp.StatusCode)
	}
	var r UpsertResponse
	return json.NewDecoder(resp.Body).Decode(&r)
}

// DeleteByExecution removes function points indexed under an execution.
// Function chunks are scoped to a run so stale parses don't leak into
// later executions.
func (c *Client) DeleteByExecution(ctx context.Context, executionID string) error {
	if executionID == "" {
		return fmt.Errorf("vectorstore: execution id required for delete")
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete", c.cfg.BaseURL, c.cfg.FunctionCollection)
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "execution_id", "match": map[string]interface{}{"value": executionID}},
			},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: qdrant delete status %d", ErrStoreUnavailable, resp.StatusCode)
	}
	return nil
}

// EnsureCollections creates the two workspace collections when absent.
func (c *Client) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{c.cfg.FileCollection, c.cfg.FunctionCollection} {
		if err := c.ensureCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/collections/%s", c.cfg.BaseURL, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	size := c.cfg.VectorSize
	if size == 0 {
		size = 1536
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": size, "distance": "Cosine"},
	}
	buf, _ := json.Marshal(body)
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: create collection %s status %d", ErrStoreUnavailable, name, resp.StatusCode)
	}
	c.log.Info("Created vector collection", zap.String("collection", name), zap.Int("size", size))
	return nil
}
