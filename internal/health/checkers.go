package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is any client with a context-aware liveness probe.
type Pinger interface {
	Healthy(ctx context.Context) bool
}

// PingChecker wraps a client-level Healthy method.
type PingChecker struct {
	name     string
	client   Pinger
	critical bool
}

func NewPingChecker(name string, client Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, client: client, critical: critical}
}

func (c *PingChecker) Name() string           { return c.name }
func (c *PingChecker) IsCritical() bool       { return c.critical }
func (c *PingChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.client == nil {
		return CheckResult{Status: StatusUnknown, Message: "client not configured"}
	}
	if !c.client.Healthy(ctx) {
		return CheckResult{Status: StatusUnhealthy, Error: "ping failed"}
	}
	return CheckResult{Status: StatusHealthy}
}

// RedisChecker pings a Redis instance.
type RedisChecker struct {
	name   string
	client *redis.Client
}

func NewRedisChecker(name string, client *redis.Client) *RedisChecker {
	return &RedisChecker{name: name, client: client}
}

func (c *RedisChecker) Name() string           { return c.name }
func (c *RedisChecker) IsCritical() bool       { return false }
func (c *RedisChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if c.client == nil {
		return CheckResult{Status: StatusUnknown, Message: "client not configured"}
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// HTTPServiceChecker probes a sidecar service's health endpoint. A failing
// non-critical service degrades the node instead of failing readiness.
type HTTPServiceChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

func NewHTTPServiceChecker(name, url string, critical bool) *HTTPServiceChecker {
	return &HTTPServiceChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPServiceChecker) Name() string           { return c.name }
func (c *HTTPServiceChecker) IsCritical() bool       { return c.critical }
func (c *HTTPServiceChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *HTTPServiceChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("status %d", resp.StatusCode),
			Details: map[string]any{"url": c.url},
		}
	}
	return CheckResult{Status: StatusHealthy}
}
