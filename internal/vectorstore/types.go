package vectorstore

import "time"

// Config controls the Qdrant client.
type Config struct {
	BaseURL            string
	FileCollection     string
	FunctionCollection string
	Timeout            time.Duration
	UpsertBatchSize    int
	VectorSize         int
}

// DocType distinguishes the two indexing granularities.
type DocType string

const (
	DocTypeFile     DocType = "file"
	DocTypeFunction DocType = "function"
)

// Point is a single vector plus payload for upsert.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// Hit is a scored search result. Vector carries the stored embedding so
// downstream fusion can collapse near-duplicate content.
type Hit struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]interface{}
}

// FilePath returns the file_path payload field, if present.
func (h Hit) FilePath() string {
	if s, ok := h.Payload["file_path"].(string); ok {
		return s
	}
	return ""
}

// Content returns the content payload field, if present.
func (h Hit) Content() string {
	if s, ok := h.Payload["content"].(string); ok {
		return s
	}
	return ""
}

// IntField returns an integer payload field, tolerating the float64 form
// JSON decoding produces.
func (h Hit) IntField(name string) int {
	switch v := h.Payload[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Filter narrows a search. WorkspaceID is mandatory; the other fields add
// must-clauses when set.
type Filter struct {
	WorkspaceID    string
	Type           DocType
	BelongsToStage string
	FilePaths      []string
	ExecutionID    string
}

// SearchParams bundles a single vector search call.
type SearchParams struct {
	Collection     string
	Vector         []float32
	TopK           int
	ScoreThreshold float64
	Filter         Filter
}

// UpsertResponse captures the basic Qdrant upsert acknowledgement.
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
