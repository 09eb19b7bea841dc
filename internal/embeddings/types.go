package embeddings

import "time"

// Config controls the embedding client.
type Config struct {
	// BaseURL points at the service exposing POST /embeddings/.
	BaseURL string
	// Model is the default embedding model.
	Model string
	// Timeout for outbound HTTP calls.
	Timeout time.Duration
	// EnableRedis turns on the shared Redis cache tier.
	EnableRedis bool
	// RedisAddr in host:port form when EnableRedis is true.
	RedisAddr string
	// CacheTTL applies to Redis entries; the in-process LRU uses a
	// shorter fixed TTL.
	CacheTTL time.Duration
	// CacheSize bounds the in-process LRU.
	CacheSize int
	// MaxBatchSize caps texts per upstream request; larger batches are
	// split transparently.
	MaxBatchSize int
}
