package circuitbreaker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, logger)
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "stage_id"}).
		AddRow(1, "code_generation").
		AddRow(2, "test_generation")
	mock.ExpectQuery("SELECT (.+) FROM iterations").WillReturnRows(rows)

	queryRows, err := wrapper.QueryContext(ctx, "SELECT id, stage_id FROM iterations")
	if err != nil {
		t.Errorf("QueryContext failed: %v", err)
	}
	defer queryRows.Close()

	mock.ExpectExec("INSERT INTO iterations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := wrapper.ExecContext(ctx, "INSERT INTO iterations (stage_id) VALUES ($1)", "review"); err != nil {
		t.Errorf("ExecContext failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_CircuitBreakerTripsOnFailures(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, logger)
	ctx := context.Background()

	threshold := int(GetDatabaseConfig().FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	for i := 0; i < threshold; i++ {
		if err := wrapper.PingContext(ctx); err == nil {
			t.Error("Expected ping error")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should be open after repeated failures")
	}

	// Rejected without reaching the database
	if err := wrapper.PingContext(ctx); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
