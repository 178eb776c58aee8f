// Package executor runs tasks against a processor with authentication,
// size limits, a hard timeout and a bound on concurrent work.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/auth"
	"github.com/agentwire/agentwire/pkg/metrics"
	"github.com/agentwire/agentwire/pkg/processor"
)

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrTimeout is returned when processing exceeds the configured
	// deadline. The orphaned processor call keeps its in-flight slot
	// until it returns; its result is discarded.
	ErrTimeout = errors.New("task execution timed out")

	// ErrBusy is returned when all in-flight slots are taken.
	ErrBusy = errors.New("too many concurrent tasks")

	// ErrTaskTooLarge is returned when the task exceeds the advertised
	// max length.
	ErrTaskTooLarge = errors.New("task exceeds maximum length")
)

// ProcessingError wraps a processor failure so the transport layer can
// surface the detail without fabricating a success.
type ProcessingError struct {
	Detail string
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("task execution failed: %s", e.Detail)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// ============================================================================
// EXECUTOR
// ============================================================================

// Options configures an Executor.
type Options struct {
	AgentName     string
	Platform      string
	Region        string
	Timeout       time.Duration // default 30s
	MaxTaskLength int           // default 10000
	MaxInFlight   int           // default 64
}

// Executor is the synchronous execution path of a wrapped agent.
type Executor struct {
	guard     *auth.Guard
	proc      processor.Processor
	agentName string
	platform  string
	region    string
	timeout   time.Duration
	maxLen    int
	slots     chan struct{}
}

// New creates an executor around the given guard and processor.
func New(guard *auth.Guard, proc processor.Processor, opts Options) *Executor {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTaskLength == 0 {
		opts.MaxTaskLength = 10000
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = 64
	}

	return &Executor{
		guard:     guard,
		proc:      proc,
		agentName: opts.AgentName,
		platform:  opts.Platform,
		region:    opts.Region,
		timeout:   opts.Timeout,
		maxLen:    opts.MaxTaskLength,
		slots:     make(chan struct{}, opts.MaxInFlight),
	}
}

// Execute authorizes and runs one task. Exactly one of the response and
// the error is non-nil.
func (e *Executor) Execute(ctx context.Context, req *a2a.TaskRequest, presentedKey string) (*a2a.TaskResponse, error) {
	if err := e.guard.Authorize(presentedKey); err != nil {
		metrics.TasksExecuted.WithLabelValues(e.agentName, "rejected").Inc()
		return nil, err
	}

	start := time.Now()
	result, err := e.Run(ctx, req.Task, req.UserID, req.Context)
	if err != nil {
		switch {
		case errors.Is(err, ErrTimeout):
			metrics.RecordTaskExecution(e.agentName, "timeout", time.Since(start))
		case errors.Is(err, ErrBusy), errors.Is(err, ErrTaskTooLarge):
			metrics.TasksExecuted.WithLabelValues(e.agentName, "rejected").Inc()
		default:
			metrics.RecordTaskExecution(e.agentName, "failed", time.Since(start))
		}
		return nil, err
	}

	metrics.RecordTaskExecution(e.agentName, "completed", time.Since(start))
	return &a2a.TaskResponse{
		Result: result,
		Agent:  e.agentName,
		Status: a2a.TaskStatusCompleted,
		Metadata: map[string]interface{}{
			"platform": e.platform,
			"service":  e.agentName,
			"region":   e.region,
		},
	}, nil
}

// Run invokes the processor with the configured timeout and in-flight
// bound, without authentication. The async worker path shares it.
func (e *Executor) Run(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, error) {
	if len(task) > e.maxLen {
		return "", fmt.Errorf("%w: %d > %d", ErrTaskTooLarge, len(task), e.maxLen)
	}
	if userID == "" {
		userID = a2a.AnonymousUser
	}

	select {
	case e.slots <- struct{}{}:
	default:
		return "", ErrBusy
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		// The slot is held until the processor actually returns, so
		// abandoned executions still count against the bound.
		defer func() { <-e.slots }()
		result, err := e.proc.Process(runCtx, task, userID, taskCtx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", &ProcessingError{Detail: out.err.Error(), Err: out.err}
		}
		return out.result, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", runCtx.Err()
	}
}
