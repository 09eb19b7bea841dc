package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps database operations with a circuit breaker
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	config := GetDatabaseConfig().ToConfig()
	cb := NewCircuitBreaker("postgresql", config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "history-store", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})

	state := dw.cb.State()
	GlobalMetricsCollector.RecordRequest("postgresql", "history-store", state, cbErr == nil && err == nil)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// ExecContext wraps Exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		res, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})

	state := dw.cb.State()
	GlobalMetricsCollector.RecordRequest("postgresql", "history-store", state, cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return res, err
}

// QueryContext wraps Query with circuit breaker
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})

	state := dw.cb.State()
	GlobalMetricsCollector.RecordRequest("postgresql", "history-store", state, cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return rows, err
}

// State returns the current breaker state
func (dw *DatabaseWrapper) State() State {
	return dw.cb.State()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
