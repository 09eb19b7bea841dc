package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/streaming"
)

func TestSSEReplaysFromLastEventID(t *testing.T) {
	mgr := streaming.Get()
	executionID := "sse-replay-exec"
	mgr.Publish(executionID, streaming.Event{ExecutionID: executionID, Type: streaming.EventWorkflowStarted})
	mgr.Publish(executionID, streaming.Event{ExecutionID: executionID, Type: streaming.EventStageComplete, StageID: "code_generation"})
	mgr.Publish(executionID, streaming.Event{ExecutionID: executionID, Type: streaming.EventWorkflowCompleted})
	defer mgr.Drop(executionID)

	h := NewStreamingHandler(mgr, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream/sse?execution_id="+executionID, nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	h.handleSSE(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.NotContains(t, body, "WORKFLOW_STARTED", "events at or before Last-Event-ID must not replay")
	assert.Contains(t, body, "STAGE_COMPLETE")
	assert.Contains(t, body, "WORKFLOW_COMPLETED")
	// The terminal event ends the stream, so the handler returned without
	// waiting for the context deadline.
	require.NoError(t, ctx.Err())
	assert.True(t, strings.Contains(body, "id: 2\n"), "SSE frames carry sequence ids")
}

func TestSSERequiresExecutionID(t *testing.T) {
	h := NewStreamingHandler(streaming.Get(), zap.NewNop())
	rec := httptest.NewRecorder()
	h.handleSSE(rec, httptest.NewRequest(http.MethodGet, "/stream/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSETypeFilter(t *testing.T) {
	mgr := streaming.Get()
	executionID := "sse-filter-exec"
	mgr.Publish(executionID, streaming.Event{ExecutionID: executionID, Type: streaming.EventNodeExecuting, StageID: "s1"})
	mgr.Publish(executionID, streaming.Event{ExecutionID: executionID, Type: streaming.EventWorkflowAborted})
	defer mgr.Drop(executionID)

	h := NewStreamingHandler(mgr, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet,
		"/stream/sse?execution_id="+executionID+"&types=WORKFLOW_ABORTED&last_event_id=1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.handleSSE(rec, req)

	body := rec.Body.String()
	assert.NotContains(t, body, "NODE_EXECUTING")
	assert.Contains(t, body, "WORKFLOW_ABORTED")
}

func TestParseLastEventIDPrefersHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream/sse?last_event_id=7", nil)
	req.Header.Set("Last-Event-ID", "12")
	assert.Equal(t, uint64(12), parseLastEventID(req))

	req = httptest.NewRequest(http.MethodGet, "/stream/sse?last_event_id=7", nil)
	assert.Equal(t, uint64(7), parseLastEventID(req))

	req = httptest.NewRequest(http.MethodGet, "/stream/sse", nil)
	assert.Equal(t, uint64(0), parseLastEventID(req))
}
