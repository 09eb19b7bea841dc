package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB maps a PostgreSQL jsonb column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(b, j)
}

// Execution is one workflow run.
type Execution struct {
	ID                 uuid.UUID      `db:"id"`
	WorkflowName       string         `db:"workflow_name"`
	WorkspaceID        string         `db:"workspace_id"`
	TaskDescription    string         `db:"task_description"`
	Status             string         `db:"status"`
	EnrichmentAttempts int            `db:"enrichment_attempts"`
	Result             JSONB          `db:"result"`
	ErrorMessage       sql.NullString `db:"error_message"`
	StartedAt          time.Time      `db:"started_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// Iteration is one stage attempt inside an execution. Attempts are stored
// as data even when they fail; only the routing decision distinguishes a
// retried attempt from a terminal one.
type Iteration struct {
	ID            uuid.UUID      `db:"id"`
	ExecutionID   uuid.UUID      `db:"execution_id"`
	StageID       string         `db:"stage_id"`
	Attempt       int            `db:"attempt"`
	Status        string         `db:"status"`
	RetrievalMode sql.NullString `db:"retrieval_mode"`
	Output        JSONB          `db:"output"`
	ErrorMessage  sql.NullString `db:"error_message"`
	DurationMs    int64          `db:"duration_ms"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Execution status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)
