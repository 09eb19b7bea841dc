package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	c := newClientForTest(rawDB, zap.NewNop())
	t.Cleanup(func() { rawDB.Close() })
	return c, mock
}

func TestSaveExecution(t *testing.T) {
	c, mock := mockClient(t)
	id := uuid.New()

	mock.ExpectExec(`INSERT INTO executions`).
		WithArgs(id, "code_assist", "ws-1", "build the parser", StatusRunning, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.SaveExecution(context.Background(), &Execution{
		ID:              id,
		WorkflowName:    "code_assist",
		WorkspaceID:     "ws-1",
		TaskDescription: "build the parser",
		Status:          StatusRunning,
		StartedAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExecutionTerminalState(t *testing.T) {
	c, mock := mockClient(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE executions`).
		WithArgs(id, StatusFailed, 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.UpdateExecution(context.Background(), &Execution{
		ID:                 id,
		Status:             StatusFailed,
		EnrichmentAttempts: 2,
		Result:             JSONB{"summary": "tests failing"},
		ErrorMessage:       sql.NullString{String: "aggregation: any-fails", Valid: true},
		CompletedAt:        sql.NullTime{Time: time.Now(), Valid: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveIterationSyncStoresFailedAttempts(t *testing.T) {
	c, mock := mockClient(t)
	execID := uuid.New()
	itID := uuid.New()

	mock.ExpectExec(`INSERT INTO iterations`).
		WithArgs(itID, execID, "test_generation", 2, "failed",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.SaveIterationSync(context.Background(), &Iteration{
		ID:            itID,
		ExecutionID:   execID,
		StageID:       "test_generation",
		Attempt:       2,
		Status:        "failed",
		RetrievalMode: sql.NullString{String: "adaptive", Valid: true},
		Output:        JSONB{"stderr": "assertion failed"},
		ErrorMessage:  sql.NullString{String: "exit status 1", Valid: true},
		DurationMs:    1500,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIterationsOrdered(t *testing.T) {
	c, mock := mockClient(t)
	execID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "execution_id", "stage_id", "attempt", "status", "retrieval_mode", "output", "error_message", "duration_ms", "created_at"}).
		AddRow(uuid.New(), execID, "code_generation", 1, "failed", "upfront", []byte(`{}`), "boom", int64(100), time.Now()).
		AddRow(uuid.New(), execID, "code_generation", 2, "completed", "adaptive", []byte(`{}`), nil, int64(90), time.Now())

	mock.ExpectQuery(`SELECT \* FROM iterations`).
		WithArgs(execID.String()).
		WillReturnRows(rows)

	its, err := c.ListIterations(context.Background(), execID.String())
	require.NoError(t, err)
	require.Len(t, its, 2)
	assert.Equal(t, "failed", its[0].Status)
	assert.Equal(t, 2, its[1].Attempt)
}

func TestAsyncIterationWriteDrainsOnClose(t *testing.T) {
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	c := newClientForTest(rawDB, zap.NewNop())
	c.workerWg.Add(1)
	go c.writeWorker(0)

	mock.ExpectExec(`INSERT INTO iterations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	c.SaveIteration(&Iteration{
		ID:          uuid.New(),
		ExecutionID: uuid.New(),
		StageID:     "code_generation",
		Attempt:     1,
		Status:      "completed",
		CreatedAt:   time.Now(),
	})
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
