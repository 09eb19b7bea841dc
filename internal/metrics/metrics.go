package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_workflows_started_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"workflow_type"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_workflows_completed_total",
			Help: "Total number of workflow executions completed",
		},
		[]string{"workflow_type", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_type"},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_stage_executions_total",
			Help: "Total number of stage executions by outcome",
		},
		[]string{"stage_id", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage_id"},
	)

	StageAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_stage_attempts",
			Help:    "Number of attempts per stage before a terminal outcome",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"stage_id"},
	)

	AdaptiveRetrievalCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_adaptive_retrieval_cycles_total",
			Help: "Total number of adaptive retrieval cycles triggered",
		},
		[]string{"stage_id"},
	)

	// Retrieval metrics
	RetrievalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_retrieval_calls_total",
			Help: "Total number of retrieval calls by mode and status",
		},
		[]string{"mode", "status"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_retrieval_duration_seconds",
			Help:    "End-to-end retrieval call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	RetrievalSourceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_retrieval_source_results_total",
			Help: "Auxiliary retrieval source outcomes",
		},
		[]string{"source", "status"},
	)

	FilteredFiles = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_retrieval_filtered_files",
			Help:    "Number of files retained by the file-level phase per stage",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
		[]string{"stage_id"},
	)

	ParsedFunctions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weft_retrieval_parsed_functions",
			Help:    "Number of function records extracted per selective parse",
			Buckets: []float64{1, 10, 50, 100, 500, 1000},
		},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_vector_searches_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_vector_search_duration_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"collection"},
	)

	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_vector_upserts_total",
			Help: "Total number of vector upsert batches",
		},
		[]string{"collection", "status"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_embedding_requests_total",
			Help: "Total number of embedding requests including cache hits",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_embedding_duration_seconds",
			Help:    "Embedding request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"model"},
	)

	// Fusion metrics
	FusionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_fusion_calls_total",
			Help: "Total number of fusion calls",
		},
		[]string{"status"},
	)

	FusionChunksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_fusion_chunks_dropped_total",
			Help: "Chunks dropped during fusion by reason",
		},
		[]string{"reason"},
	)

	FusionBundleTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weft_fusion_bundle_tokens",
			Help:    "Token count of fused context bundles",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000},
		},
	)

	// Streaming metrics
	StreamEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_stream_events_emitted_total",
			Help: "Progress stream events emitted by type",
		},
		[]string{"type"},
	)
)

// RecordWorkflowMetrics records metrics for a completed workflow execution
func RecordWorkflowMetrics(workflowType, status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	WorkflowDuration.WithLabelValues(workflowType).Observe(durationSeconds)
}

// RecordStageMetrics records metrics for a single stage execution
func RecordStageMetrics(stageID, outcome string, durationSeconds float64) {
	StageExecutions.WithLabelValues(stageID, outcome).Inc()
	if durationSeconds > 0 {
		StageDuration.WithLabelValues(stageID).Observe(durationSeconds)
	}
}

// RecordRetrievalMetrics records metrics for a retrieval call
func RecordRetrievalMetrics(mode, status string, durationSeconds float64) {
	RetrievalCalls.WithLabelValues(mode, status).Inc()
	if durationSeconds > 0 {
		RetrievalDuration.WithLabelValues(mode).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
