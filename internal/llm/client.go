// Package llm is the HTTP client for the completion service. All calls go
// through a shared token-bucket limiter so parallel agents cannot exceed
// the provider rate limit in aggregate.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weftlabs/weft/internal/circuitbreaker"
	"github.com/weftlabs/weft/internal/interceptors"
	"github.com/weftlabs/weft/internal/tracing"
)

// Config controls the completion client.
type Config struct {
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxTokens         int
}

// CompletionRequest is a single prompt for the completion service.
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResult carries the model output plus usage accounting.
type CompletionResult struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
}

// Client wraps the completion service with rate limiting and a breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	httpw   *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		httpw:   circuitbreaker.NewHTTPWrapper(httpClient, "llm", "completion", logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     logger,
	}
}

// Complete runs one completion. The call blocks on the limiter first, so a
// context deadline bounds queue time and request time together.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	url := fmt.Sprintf("%s/completion/", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.httpw.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: completion call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llm: completion status %d: %s", resp.StatusCode, string(body))
	}

	var result CompletionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode completion: %w", err)
	}
	return &result, nil
}

// CompleteJSON runs a completion and unmarshals the model output into out.
// The prompt is expected to instruct the model to answer with JSON only;
// leading and trailing fences are stripped before parsing.
func (c *Client) CompleteJSON(ctx context.Context, req CompletionRequest, out interface{}) error {
	result, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	text := stripFences(result.Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("llm: parse JSON output: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	b := []byte(s)
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\n' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	if bytes.HasPrefix(b, []byte("```")) {
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			b = b[i+1:]
		}
		if i := bytes.LastIndex(b, []byte("```")); i >= 0 {
			b = b[:i]
		}
	}
	return string(bytes.TrimSpace(b))
}
