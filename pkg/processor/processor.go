// Package processor defines the pluggable task processing interface an
// agent wraps. The wrapper handles protocol, auth and timeouts; the
// processor handles the actual work.
package processor

import (
	"context"
	"fmt"
)

// Processor turns a task into a result. Implementations must honor ctx
// cancellation: the caller enforces the execution deadline through it.
type Processor interface {
	Process(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, error)
}

// Func adapts a plain function to the Processor interface.
type Func func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, error)

func (f Func) Process(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, error) {
	return f(ctx, task, userID, taskCtx)
}

// Echo is the built-in placeholder processor. It answers with a
// confirmation that names the agent, useful for wiring tests and for
// deployments where the real backend is not attached yet.
type Echo struct {
	AgentName string
}

var _ Processor = (*Echo)(nil)

func (e *Echo) Process(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Processed by %s: %s", e.AgentName, task), nil
}
