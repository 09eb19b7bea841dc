// Package health aggregates component health checks behind liveness and
// readiness endpoints. Checks run in the background on an interval; HTTP
// handlers serve the most recent snapshot so probes stay cheap.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus represents the result of a health check
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult contains the result of a single component check.
type CheckResult struct {
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Critical  bool           `json:"critical"`
}

// Checker is one component's health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure makes the service not ready.
	IsCritical() bool
	Timeout() time.Duration
}

// Overall is the aggregated service health.
type Overall struct {
	Status     CheckStatus            `json:"status"`
	Ready      bool                   `json:"ready"`
	Timestamp  time.Time              `json:"timestamp"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Manager runs registered checkers periodically and caches results.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	results  map[string]CheckResult
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		results:  make(map[string]CheckResult),
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// RegisterChecker adds a checker. Registering twice replaces the previous
// instance under the same name.
func (m *Manager) RegisterChecker(c Checker) {
	m.mu.Lock()
	m.checkers[c.Name()] = c
	m.mu.Unlock()
}

// Start runs one immediate round then checks on the interval until Stop.
func (m *Manager) Start(ctx context.Context) {
	m.runChecks(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runChecks(ctx)
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) runChecks(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			result.Component = c.Name()
			result.Critical = c.IsCritical()
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()

			m.mu.Lock()
			m.results[c.Name()] = result
			m.mu.Unlock()

			if result.Status == StatusUnhealthy {
				m.logger.Warn("Health check failed",
					zap.String("component", c.Name()),
					zap.String("error", result.Error),
				)
			}
		}(c)
	}
	wg.Wait()
}

// Snapshot returns the aggregated health from the last check round.
func (m *Manager) Snapshot(detailed bool) Overall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Overall{Status: StatusHealthy, Ready: true, Timestamp: time.Now()}
	if detailed {
		out.Components = make(map[string]CheckResult, len(m.results))
	}
	for name, r := range m.results {
		if detailed {
			out.Components[name] = r
		}
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				out.Status = StatusUnhealthy
				out.Ready = false
			} else if out.Status == StatusHealthy {
				out.Status = StatusDegraded
			}
		case StatusDegraded:
			if out.Status == StatusHealthy {
				out.Status = StatusDegraded
			}
		}
	}
	return out
}

// IsReady reports whether every critical component is healthy.
func (m *Manager) IsReady() bool { return m.Snapshot(false).Ready }
