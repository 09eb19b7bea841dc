// Package embeddings is the client for the embedding service with a
// two-tier cache: an in-process LRU in front of an optional shared Redis.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/interceptors"
	ometrics "github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/tracing"
)

const lruTTL = 30 * time.Minute

// Service generates embeddings with caching.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *localLRU
	log   *zap.Logger
}

func NewService(cfg Config, cache Cache, logger *zap.Logger) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 64
	}
	return &Service{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
		},
		cache: cache,
		lru:   newLocalLRU(cfg.CacheSize),
		log:   logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns vectors for all texts in input order. Cached entries
// are served locally; the rest go upstream in batches of MaxBatchSize.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embeddings: service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := cacheKey(s.cfg.Model, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				ometrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	for start := 0; start < len(missTexts); start += s.cfg.MaxBatchSize {
		end := start + s.cfg.MaxBatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := s.fetch(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vecs {
			idx := missIdx[start+i]
			results[idx] = vec
			key := cacheKey(s.cfg.Model, missTexts[start+i])
			s.lru.Set(ctx, key, vec, lruTTL)
			if s.cache != nil {
				s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
			}
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(embedRequest{Texts: texts, Model: s.cfg.Model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings: service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(er.Embeddings), len(texts))
	}
	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		vec := make([]float32, len(emb))
		for j, f := range emb {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	ometrics.RecordEmbeddingMetrics(s.cfg.Model, "ok", time.Since(start).Seconds())
	return out, nil
}
