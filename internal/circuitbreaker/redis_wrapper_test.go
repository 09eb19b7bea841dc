package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewRedisWrapper(client, logger)
	ctx := context.Background()

	if result := wrapper.Ping(ctx); result.Err() != nil {
		t.Errorf("Ping failed: %v", result.Err())
	}

	if setResult := wrapper.Set(ctx, "test:key", "test:value", time.Minute); setResult.Err() != nil {
		t.Errorf("Set failed: %v", setResult.Err())
	}

	getResult := wrapper.Get(ctx, "test:key")
	if getResult.Err() != nil {
		t.Errorf("Get failed: %v", getResult.Err())
	}
	if getResult.Val() != "test:value" {
		t.Errorf("Expected 'test:value', got '%s'", getResult.Val())
	}

	// Cache miss must not trip the breaker
	if nilResult := wrapper.Get(ctx, "nonexistent:key"); nilResult.Err() != redis.Nil {
		t.Errorf("Expected redis.Nil for non-existent key, got %v", nilResult.Err())
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil")
	}

	if delResult := wrapper.Del(ctx, "test:key"); delResult.Err() != nil {
		t.Errorf("Del failed: %v", delResult.Err())
	}
}

func TestRedisWrapper_CircuitBreakerTripsOnConnectionFailure(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        s.Addr(),
		DialTimeout: 100 * time.Millisecond,
		ReadTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewRedisWrapper(client, logger)
	ctx := context.Background()

	// Kill the server so every call fails
	s.Close()

	threshold := int(GetRedisConfig().FailureThreshold)
	for i := 0; i < threshold+1; i++ {
		_ = wrapper.Ping(ctx)
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should be open after repeated connection failures")
	}

	// Calls while open are rejected without hitting the client
	if result := wrapper.Get(ctx, "any:key"); result.Err() == nil {
		t.Error("Expected error while circuit breaker is open")
	}
}
