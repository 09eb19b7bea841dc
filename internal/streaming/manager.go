package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/metrics"
)

// EventType enumerates progress event types emitted by the engine.
type EventType string

const (
	EventWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventWorkflowAborted   EventType = "WORKFLOW_ABORTED"
	EventNodeExecuting     EventType = "NODE_EXECUTING"
	EventEdgeRouting       EventType = "EDGE_ROUTING"
	EventStageComplete     EventType = "STAGE_COMPLETE"
	EventRetrievalProgress EventType = "RETRIEVAL_PROGRESS"
	EventAdaptiveRetrieval EventType = "ADAPTIVE_RETRIEVAL_TRIGGERED"
	EventErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event is a single progress event on a workflow execution stream.
type Event struct {
	ExecutionID string    `json:"execution_id"`
	Type        EventType `json:"type"`
	StageID     string    `json:"stage_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Seq         uint64    `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for workflow execution events.
// Event order matches state machine transition order: Publish is called
// from a single driver per execution and assigns a monotonic sequence.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-execution ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
}

var (
	defaultMgr      *Manager
	once            sync.Once
	defaultCapacity = 256
)

// Get returns the global streaming manager, initializing it lazily.
func Get() *Manager {
	once.Do(func() {
		defaultMgr = &Manager{
			subscribers: make(map[string]map[chan Event]struct{}),
			history:     make(map[string]*ring),
			capacity:    defaultCapacity,
		}
	})
	return defaultMgr
}

// Configure sets default ring capacity. Safe to call anytime; applies to
// rings created afterwards.
func Configure(capacity int) {
	if capacity <= 0 {
		return
	}
	defaultCapacity = capacity
	if defaultMgr != nil {
		defaultMgr.mu.Lock()
		defaultMgr.capacity = capacity
		defaultMgr.mu.Unlock()
	}
}

// Subscribe adds a subscriber channel for an executionID; caller must drain
// and call Unsubscribe.
func (m *Manager) Subscribe(executionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[executionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[executionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(executionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[executionID]; ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, executionID)
		}
	}
}

// Publish sends an event to all subscribers of executionID (non-blocking).
// Sends happen under the lock: Unsubscribe closes subscriber channels, so
// sending outside it races a concurrent disconnect onto a closed channel.
// Sends never block, so the critical section stays short.
func (m *Manager) Publish(executionID string, evt Event) {
	m.mu.Lock()
	rg := m.history[executionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[executionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	for ch := range m.subscribers[executionID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
	m.mu.Unlock()

	metrics.StreamEventsEmitted.WithLabelValues(string(evt.Type)).Inc()
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(executionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[executionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop discards the history ring for a finished execution.
func (m *Manager) Drop(executionID string) {
	m.mu.Lock()
	delete(m.history, executionID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

// Sequences are 1-based so a Last-Event-ID of 0 always means "no events
// seen yet".
func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
