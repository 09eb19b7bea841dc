// Package config loads engine configuration from a YAML features file with
// environment-variable overrides. Missing file or keys fall back to
// defaults, so the engine starts with zero configuration in development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Features is the root configuration for the weft engine.
type Features struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Fusion        FusionConfig        `mapstructure:"fusion"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Embeddings    EmbeddingsConfig    `mapstructure:"embeddings"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	WorkflowDir     string        `mapstructure:"workflow_dir"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// EngineConfig bounds the execution state machine.
type EngineConfig struct {
	DefaultMaxAttempts  int           `mapstructure:"default_max_attempts"`
	MaxAdaptiveCycles   int           `mapstructure:"max_adaptive_cycles"`
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
}

// RetrievalConfig tunes the two-phase retrieval agent.
type RetrievalConfig struct {
	FileTopK          int           `mapstructure:"file_top_k"`
	FunctionTopK      int           `mapstructure:"function_top_k"`
	MinRelevanceScore float64       `mapstructure:"min_relevance_score"`
	MinSubqueries     int           `mapstructure:"min_subqueries"`
	MaxSubqueries     int           `mapstructure:"max_subqueries"`
	SourceTimeout     time.Duration `mapstructure:"source_timeout"`
	LSPBaseURL        string        `mapstructure:"lsp_base_url"`
	ParserBaseURL     string        `mapstructure:"parser_base_url"`
}

type FusionConfig struct {
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	RerankBaseURL     string  `mapstructure:"rerank_base_url"`
	RerankModel       string  `mapstructure:"rerank_model"`
}

type VectorConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	FileCollection     string        `mapstructure:"file_collection"`
	FunctionCollection string        `mapstructure:"function_collection"`
	Timeout            time.Duration `mapstructure:"timeout"`
	UpsertBatchSize    int           `mapstructure:"upsert_batch_size"`
}

type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
}

type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxTokens         int           `mapstructure:"max_tokens"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StreamingConfig struct {
	RingSize         int `mapstructure:"ring_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads the features file named by CONFIG_PATH (default
// config/weft.yaml) and applies WEFT_-prefixed environment overrides.
// A missing file is not an error; defaults apply.
func Load() (*Features, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/weft.yaml"
	}
	v.SetConfigFile(cfgPath)

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &f, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.admin_port", 8081)
	v.SetDefault("service.graceful_timeout", "15s")
	v.SetDefault("service.workflow_dir", "config/workflows")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "weft-pipeline")

	v.SetDefault("engine.default_max_attempts", 2)
	v.SetDefault("engine.max_adaptive_cycles", 2)
	v.SetDefault("engine.max_concurrent_agents", 8)
	v.SetDefault("engine.stage_timeout", "5m")

	v.SetDefault("retrieval.file_top_k", 50)
	v.SetDefault("retrieval.function_top_k", 15)
	v.SetDefault("retrieval.min_relevance_score", 0.3)
	v.SetDefault("retrieval.min_subqueries", 2)
	v.SetDefault("retrieval.max_subqueries", 4)
	v.SetDefault("retrieval.source_timeout", "3s")
	v.SetDefault("retrieval.lsp_base_url", "http://localhost:8090")
	v.SetDefault("retrieval.parser_base_url", "http://localhost:8091")

	v.SetDefault("fusion.semantic_threshold", 0.95)
	v.SetDefault("fusion.rerank_base_url", "http://localhost:8092")
	v.SetDefault("fusion.rerank_model", "cross-encoder/ms-marco-MiniLM-L-6-v2")

	v.SetDefault("vector.base_url", "http://localhost:6333")
	v.SetDefault("vector.file_collection", "workspace_files")
	v.SetDefault("vector.function_collection", "workspace_functions")
	v.SetDefault("vector.timeout", "10s")
	v.SetDefault("vector.upsert_batch_size", 128)

	v.SetDefault("embeddings.base_url", "http://localhost:8093")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", "10s")
	v.SetDefault("embeddings.cache_size", 10000)
	v.SetDefault("embeddings.cache_ttl", "24h")
	v.SetDefault("embeddings.max_batch_size", 64)

	v.SetDefault("llm.base_url", "http://localhost:8000")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_second", 5)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "weft")
	v.SetDefault("postgres.password", "weft")
	v.SetDefault("postgres.database", "weft")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("streaming.ring_size", 256)
	v.SetDefault("streaming.subscriber_buffer", 64)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
}
