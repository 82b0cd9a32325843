package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthCheck defines the interface for health checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc is a function type that implements HealthCheck.
type HealthCheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// Name returns the name of the health check.
func (f *HealthCheckFunc) Name() string {
	return f.name
}

// Check performs the health check.
func (f *HealthCheckFunc) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

// NewHealthCheckFunc creates a new health check function.
func NewHealthCheckFunc(name string, check func(ctx context.Context) error) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:      name,
		checkFunc: check,
	}
}

// HTTPHealthCheck probes url with GET. Any 2xx answer is healthy.
func HTTPHealthCheck(name, url string, client *http.Client) HealthCheck {
	if client == nil {
		client = http.DefaultClient
	}
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
		}

		return nil
	})
}

// RedisHealthCheck pings a Redis client.
func RedisHealthCheck(name string, client redis.UniversalClient) HealthCheck {
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

// checkWithTimeout runs check with its own deadline. It returns once the
// deadline passes even if the check ignores its context.
func checkWithTimeout(ctx context.Context, check HealthCheck, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- check.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("health check timed out after %v", timeout)
	}
}
