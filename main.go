package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/activities"
	"github.com/weftlabs/weft/internal/circuitbreaker"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/db"
	"github.com/weftlabs/weft/internal/embeddings"
	"github.com/weftlabs/weft/internal/fusion"
	"github.com/weftlabs/weft/internal/health"
	"github.com/weftlabs/weft/internal/httpapi"
	"github.com/weftlabs/weft/internal/llm"
	"github.com/weftlabs/weft/internal/retrieval"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/temporal"
	"github.com/weftlabs/weft/internal/tracing"
	"github.com/weftlabs/weft/internal/vectorstore"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/internal/workflows"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	if cfg.Streaming.RingSize > 0 {
		streaming.Configure(cfg.Streaming.RingSize)
	}
	stream := streaming.Get()

	// Workflow definitions with hot reload.
	registry := workflow.NewRegistry(logger)
	if err := registry.LoadDirectory(cfg.Service.WorkflowDir); err != nil {
		logger.Fatal("Failed to load workflow definitions",
			zap.String("dir", cfg.Service.WorkflowDir),
			zap.Error(err),
		)
	}
	if err := registry.Watch(cfg.Service.WorkflowDir); err != nil {
		logger.Warn("Definition hot reload unavailable", zap.Error(err))
	}
	defer registry.Close()

	// History persistence. The pipeline keeps running without it.
	var history *db.Client
	if cfg.Postgres.Host != "" {
		history, err = db.NewClient(db.Config{DSN: cfg.Postgres.DSN()}, logger)
		if err != nil {
			logger.Warn("History persistence unavailable", zap.Error(err))
			history = nil
		} else {
			defer history.Close()
		}
	}

	// Retrieval stack.
	store := vectorstore.NewClient(vectorstore.Config{
		BaseURL:            cfg.Vector.BaseURL,
		FileCollection:     cfg.Vector.FileCollection,
		FunctionCollection: cfg.Vector.FunctionCollection,
		Timeout:            cfg.Vector.Timeout,
		UpsertBatchSize:    cfg.Vector.UpsertBatchSize,
	}, logger)
	if err := store.EnsureCollections(ctx); err != nil {
		logger.Warn("Vector collections not ready", zap.Error(err))
	}

	var embedCache embeddings.Cache
	if cfg.Redis.Host != "" {
		if rc, err := embeddings.NewRedisCache(cfg.Redis.Addr(), logger); err == nil {
			embedCache = rc
		} else {
			logger.Warn("Embeddings Redis cache unavailable", zap.Error(err))
		}
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		Model:        cfg.Embeddings.Model,
		Timeout:      cfg.Embeddings.Timeout,
		EnableRedis:  embedCache != nil,
		RedisAddr:    cfg.Redis.Addr(),
		CacheTTL:     cfg.Embeddings.CacheTTL,
		CacheSize:    cfg.Embeddings.CacheSize,
		MaxBatchSize: cfg.Embeddings.MaxBatchSize,
	}, embedCache, logger)

	llmClient := llm.NewClient(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		MaxTokens:         cfg.LLM.MaxTokens,
	}, logger)

	parser := retrieval.NewHTTPParser(cfg.Retrieval.ParserBaseURL, 30*time.Second, logger)
	subq := retrieval.NewLLMSubQueryGenerator(llmClient, cfg.Retrieval.MinSubqueries, cfg.Retrieval.MaxSubqueries, logger)

	var sources []retrieval.Source
	if cfg.Retrieval.LSPBaseURL != "" {
		sources = append(sources, retrieval.NewLSPSource(cfg.Retrieval.LSPBaseURL, 1, cfg.Retrieval.SourceTimeout, logger))
	}

	// Phase gating (file search, selective parsing, LSP) is per-workflow:
	// each retrieval request carries its definition's strategy.
	agent := retrieval.NewAgent(retrieval.Config{
		FileTopK:          cfg.Retrieval.FileTopK,
		FunctionTopK:      cfg.Retrieval.FunctionTopK,
		MinRelevanceScore: cfg.Retrieval.MinRelevanceScore,
		MinSubqueries:     cfg.Retrieval.MinSubqueries,
		MaxSubqueries:     cfg.Retrieval.MaxSubqueries,
		SourceTimeout:     cfg.Retrieval.SourceTimeout,
	}, store, embedder, parser, subq, sources, logger)

	reranker := fusion.NewHTTPReranker(fusion.RerankConfig{
		BaseURL: cfg.Fusion.RerankBaseURL,
		Model:   cfg.Fusion.RerankModel,
	}, logger)
	fuser := fusion.NewFuser(reranker, cfg.Fusion.SemanticThreshold, logger)

	acts := activities.New(agent, fuser, llmClient, store, history, stream, logger)

	// Temporal worker.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{
		// Caps within-stage agent parallelism across all running pipelines.
		MaxConcurrentActivityExecutionSize: cfg.Engine.MaxConcurrentAgents,
	})
	w.RegisterWorkflow(workflows.PipelineWorkflow)
	w.RegisterActivityWithOptions(acts.UpfrontRetrieval, activity.RegisterOptions{Name: activities.ActivityUpfrontRetrieval})
	w.RegisterActivityWithOptions(acts.AdaptiveRetrieval, activity.RegisterOptions{Name: activities.ActivityAdaptiveRetrieval})
	w.RegisterActivityWithOptions(acts.ExecuteStageAgent, activity.RegisterOptions{Name: activities.ActivityExecuteStageAgent})
	w.RegisterActivityWithOptions(acts.EmitProgress, activity.RegisterOptions{Name: activities.ActivityEmitProgress})
	w.RegisterActivityWithOptions(acts.RecordExecution, activity.RegisterOptions{Name: activities.ActivityRecordExecution})
	w.RegisterActivityWithOptions(acts.FinishExecution, activity.RegisterOptions{Name: activities.ActivityFinishExecution})
	w.RegisterActivityWithOptions(acts.RecordIteration, activity.RegisterOptions{Name: activities.ActivityRecordIteration})
	w.RegisterActivityWithOptions(acts.CleanupIndex, activity.RegisterOptions{Name: activities.ActivityCleanupIndex})

	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	defer w.Stop()

	// Health checks.
	hm := health.NewManager(logger)
	if history != nil {
		hm.RegisterChecker(health.NewPingChecker("postgres", history, true))
	}
	hm.RegisterChecker(health.NewHTTPServiceChecker("vector-store", cfg.Vector.BaseURL+"/healthz", true))
	hm.RegisterChecker(health.NewHTTPServiceChecker("llm-service", cfg.LLM.BaseURL+"/health", false))
	hm.RegisterChecker(health.NewHTTPServiceChecker("parser-service", cfg.Retrieval.ParserBaseURL+"/health", false))
	hm.Start(ctx)
	defer hm.Stop()

	// API server.
	engine := workflows.EngineLimits{
		DefaultMaxAttempts: cfg.Engine.DefaultMaxAttempts,
		MaxAdaptiveCycles:  cfg.Engine.MaxAdaptiveCycles,
		StageTimeout:       cfg.Engine.StageTimeout,
	}
	mux := http.NewServeMux()
	httpapi.NewExecutionHandler(registry, temporalClient, history, cfg.Temporal.TaskQueue, engine, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(stream, logger).RegisterRoutes(mux)
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", zap.Int("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("Pipeline service started",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("workflow_dir", cfg.Service.WorkflowDir),
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
}

func buildLogger(cfg *config.Features) (*zap.Logger, error) {
	level := zap.InfoLevel
	if raw := cfg.Observability.Logging.Level; raw != "" {
		if parsed, err := zap.ParseAtomicLevel(raw); err == nil {
			level = parsed.Level()
		}
	}
	if cfg.Observability.Logging.Format == "console" || os.Getenv("ENV") == "development" {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
