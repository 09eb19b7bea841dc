// Package db persists execution and iteration history to PostgreSQL.
// Writes go through a circuit-breaker wrapped connection and an async
// worker pool so a slow database never blocks workflow progress; reads
// use sqlx scanning directly.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/circuitbreaker"
)

// Config holds database connection settings.
type Config struct {
	DSN             string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	Workers         int
	QueueSize       int
}

// Client manages history persistence.
type Client struct {
	dbx    *sqlx.DB
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	writeQueue chan writeRequest
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

type writeRequest struct {
	run func(ctx context.Context) error
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}

	rawDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	wrapped := circuitbreaker.NewDatabaseWrapper(rawDB, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c := &Client{
		dbx:        sqlx.NewDb(rawDB, "postgres"),
		db:         wrapped,
		logger:     logger,
		writeQueue: make(chan writeRequest, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	logger.Info("Database client initialized", zap.Int("workers", cfg.Workers))
	return c, nil
}

// newClientForTest wires a client around an existing connection without
// workers or a ping.
func newClientForTest(rawDB *sql.DB, logger *zap.Logger) *Client {
	return &Client{
		dbx:        sqlx.NewDb(rawDB, "postgres"),
		db:         circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger:     logger,
		writeQueue: make(chan writeRequest, 8),
		stopCh:     make(chan struct{}),
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case req := <-c.writeQueue:
					c.execute(req)
				default:
					return
				}
			}
		case req := <-c.writeQueue:
			c.execute(req)
		}
	}
}

func (c *Client) execute(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := req.run(ctx); err != nil {
		c.logger.Error("Async history write failed", zap.Error(err))
	}
}

// enqueue schedules an async write; a full queue falls back to a
// synchronous write rather than dropping history.
func (c *Client) enqueue(run func(ctx context.Context) error) {
	select {
	case c.writeQueue <- writeRequest{run: run}:
	default:
		c.execute(writeRequest{run: run})
	}
}

// Close stops the workers after draining queued writes.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	return c.dbx.Close()
}

const insertExecutionSQL = `
	INSERT INTO executions (id, workflow_name, workspace_id, task_description, status, enrichment_attempts, started_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (id) DO NOTHING`

// SaveExecution records a new run synchronously; callers need the row to
// exist before iterations reference it.
func (c *Client) SaveExecution(ctx context.Context, e *Execution) error {
	_, err := c.db.ExecContext(ctx, insertExecutionSQL,
		e.ID, e.WorkflowName, e.WorkspaceID, e.TaskDescription, e.Status, e.EnrichmentAttempts, e.StartedAt)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

const updateExecutionSQL = `
	UPDATE executions
	SET status = $2, enrichment_attempts = $3, result = $4, error_message = $5,
	    completed_at = $6, updated_at = NOW()
	WHERE id = $1`

// UpdateExecution records the terminal state of a run.
func (c *Client) UpdateExecution(ctx context.Context, e *Execution) error {
	_, err := c.db.ExecContext(ctx, updateExecutionSQL,
		e.ID, e.Status, e.EnrichmentAttempts, e.Result, e.ErrorMessage, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

const insertIterationSQL = `
	INSERT INTO iterations (id, execution_id, stage_id, attempt, status, retrieval_mode, output, error_message, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// SaveIteration persists a stage attempt asynchronously.
func (c *Client) SaveIteration(it *Iteration) {
	rec := *it
	c.enqueue(func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, insertIterationSQL,
			rec.ID, rec.ExecutionID, rec.StageID, rec.Attempt, rec.Status,
			rec.RetrievalMode, rec.Output, rec.ErrorMessage, rec.DurationMs, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("save iteration: %w", err)
		}
		return nil
	})
}

// SaveIterationSync persists a stage attempt inline, used by activities
// that must observe write errors.
func (c *Client) SaveIterationSync(ctx context.Context, it *Iteration) error {
	_, err := c.db.ExecContext(ctx, insertIterationSQL,
		it.ID, it.ExecutionID, it.StageID, it.Attempt, it.Status,
		it.RetrievalMode, it.Output, it.ErrorMessage, it.DurationMs, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("save iteration: %w", err)
	}
	return nil
}

// GetExecution fetches one run by ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var e Execution
	err := c.dbx.GetContext(ctx, &e, `SELECT * FROM executions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &e, nil
}

// ListIterations returns all stage attempts of a run in creation order,
// including failed ones.
func (c *Client) ListIterations(ctx context.Context, executionID string) ([]Iteration, error) {
	var out []Iteration
	err := c.dbx.SelectContext(ctx, &out,
		`SELECT * FROM iterations WHERE execution_id = $1 ORDER BY created_at, attempt`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	return out, nil
}

// Healthy reports whether the breaker is closed and the pool responds.
func (c *Client) Healthy(ctx context.Context) bool {
	if c.db.IsCircuitBreakerOpen() {
		return false
	}
	return c.db.PingContext(ctx) == nil
}
