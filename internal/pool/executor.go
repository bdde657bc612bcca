package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/conduit/internal/model"
)

// InvocationResult is the outcome of one action invocation.
type InvocationResult struct {
	Data   any    `json:"data"`
	Status string `json:"status"`
}

// ActionExecutor opens connections to connector processes. A pooled unit
// owns exactly one Conn for its lifetime: Connect runs while the unit is
// starting, Invoke while it is running, Close on termination.
type ActionExecutor interface {
	Connect(ctx context.Context, def *model.ServiceDefinition, credentials map[string]string) (Conn, error)
}

// Conn is a live session against one connector process.
type Conn interface {
	Invoke(ctx context.Context, action string, params map[string]any) (*InvocationResult, error)
	Close() error
}

// SimulatedExecutor fabricates connector responses for development and
// tests. No processes are spawned.
type SimulatedExecutor struct {
	// Latency is added to every simulated invocation.
	Latency time.Duration
}

func (e *SimulatedExecutor) Connect(ctx context.Context, def *model.ServiceDefinition, credentials map[string]string) (Conn, error) {
	return &simulatedConn{serviceKey: def.ServiceKey, latency: e.Latency}, nil
}

type simulatedConn struct {
	serviceKey string
	latency    time.Duration
}

func (c *simulatedConn) Invoke(ctx context.Context, action string, params map[string]any) (*InvocationResult, error) {
	if c.latency > 0 {
		select {
		case <-time.After(c.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &InvocationResult{
		Data: map[string]any{
			"service":   c.serviceKey,
			"action":    action,
			"params":    params,
			"simulated": true,
		},
		Status: "success",
	}, nil
}

func (c *simulatedConn) Close() error { return nil }

var _ ActionExecutor = (*SimulatedExecutor)(nil)

// failure helper used in error paths so the message names the pair.
func unitLabel(userID, serviceKey string) string {
	return fmt.Sprintf("%s/%s", userID, serviceKey)
}
