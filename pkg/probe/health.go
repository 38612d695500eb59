package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/flocksync/flocksync/pkg/types"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// HealthChecker probes a network endpoint over TCP or HTTP(S).
type HealthChecker struct {
	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHealthChecker creates a checker with a default HTTP client.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		Client: &http.Client{},
	}
}

// Check probes endpoint (host:port) according to spec. A disabled spec
// passes unconditionally.
func (h *HealthChecker) Check(ctx context.Context, endpoint string, spec types.HealthCheckSpec) Result {
	start := time.Now()
	if !spec.Enabled {
		return Result{Healthy: true, Message: "health check disabled", CheckedAt: start}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch spec.Protocol {
	case types.HealthTCP:
		return h.checkTCP(ctx, endpoint, start)
	case types.HealthHTTP, types.HealthHTTPS, "":
		scheme := "http"
		if spec.Protocol == types.HealthHTTPS {
			scheme = "https"
		}
		return h.checkHTTP(ctx, fmt.Sprintf("%s://%s%s", scheme, endpoint, spec.Path), start)
	}
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf("unsupported protocol: %s", spec.Protocol),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HealthChecker) checkTCP(ctx context.Context, address string, start time.Time) Result {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HealthChecker) checkHTTP(ctx context.Context, url string, start time.Time) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode <= 399

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected 200-399)", message)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
