package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/streaming"
)

// StreamingHandler serves SSE endpoints for execution events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// handleSSE streams events for one execution via Server-Sent Events.
// GET /stream/sse?execution_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution_id")
	if executionID == "" {
		http.Error(w, `{"error":"execution_id required"}`, http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastID := parseLastEventID(r)

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(executionID, 256)
	defer h.mgr.Unsubscribe(executionID, ch)

	fmt.Fprintf(w, ": connected to execution %s\n\n", executionID)
	flusher.Flush()

	// Replay the ring buffer past the client's last seen sequence before
	// switching to live events.
	if lastID > 0 {
		var done bool
		for _, evt := range h.mgr.ReplaySince(executionID, lastID) {
			if !typeFilter.allows(evt.Type) {
				continue
			}
			writeSSE(w, evt)
			done = done || isTerminal(evt.Type)
		}
		flusher.Flush()
		if done {
			return
		}
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if !typeFilter.allows(evt.Type) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
			if isTerminal(evt.Type) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Marshal())
}

func isTerminal(t streaming.EventType) bool {
	return t == streaming.EventWorkflowCompleted || t == streaming.EventWorkflowAborted
}

type eventTypeFilter map[streaming.EventType]struct{}

func (f eventTypeFilter) allows(t streaming.EventType) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}

func parseTypeFilter(raw string) eventTypeFilter {
	filter := eventTypeFilter{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			filter[streaming.EventType(part)] = struct{}{}
		}
	}
	return filter
}

func parseLastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
