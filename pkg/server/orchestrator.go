package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/dispatch"
	"github.com/agentwire/agentwire/pkg/metrics"
	"github.com/agentwire/agentwire/pkg/registry"
	"github.com/agentwire/agentwire/pkg/respstore"
)

// ============================================================================
// ORCHESTRATOR SERVER - routes tasks across discovered agents
// ============================================================================

// Orchestrator serves the multi-agent surface: agent listing, sync
// routing, async dispatch and response polling.
type Orchestrator struct {
	reg     *registry.Registry
	client  *a2a.Client
	disp    *dispatch.Dispatcher
	store   respstore.Store
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// NewOrchestrator builds the orchestrator server.
func NewOrchestrator(addr string, reg *registry.Registry, client *a2a.Client, disp *dispatch.Dispatcher, store respstore.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		reg:    reg,
		client: client,
		disp:   disp,
		store:  store,
		logger: logger.With("component", "orchestrator-server"),
	}
	o.router = o.routes()
	o.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           o.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return o
}

// Handler exposes the router, mainly for tests.
func (o *Orchestrator) Handler() http.Handler { return o.router }

func (o *Orchestrator) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(requestLogger(o.logger))
	r.Use(metricsMiddleware)

	r.Get("/agents", o.handleAgents)
	r.Post("/task", o.handleTask)
	r.Post("/task/async", o.handleTaskAsync)
	r.Get("/responses/{userID}", o.handleResponses)
	r.Post("/responses/ack", o.handleResponsesAck)
	r.Get("/health", o.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (o *Orchestrator) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := o.reg.Agents()
	respondJSON(w, http.StatusOK, a2a.AgentDirectory{
		TotalAgents: len(agents),
		Agents:      agents,
	})
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a2a.HealthStatus{
		Status:  "healthy",
		Service: "orchestrator",
	})
}

// handleTask routes a task to the best matching agent and proxies its
// response synchronously.
func (o *Orchestrator) handleTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTaskRequest(w, r)
	if !ok {
		return
	}

	sel, found := o.reg.Select(req.Task)
	if !found {
		respondError(w, http.StatusServiceUnavailable, "No suitable agent available for this task")
		return
	}

	resp, err := o.client.Execute(r.Context(), sel.BaseURL, req)
	if err != nil {
		o.logger.Warn("agent execution failed", "agent", sel.Card.Name, "error", err)
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Agent %s failed: %v", sel.Card.Name, err))
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleTaskAsync enqueues the task and acknowledges with the message
// ID the caller polls for later. The ID is only handed out after the
// envelope is durably queued.
func (o *Orchestrator) handleTaskAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTaskRequest(w, r)
	if !ok {
		return
	}

	env, err := o.disp.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "Task queue unavailable, task was not accepted")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to dispatch task: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, a2a.AsyncAck{
		MessageID: env.MessageID,
		Queue:     o.disp.QueueName(),
		Status:    "queued",
	})
}

// handleResponses returns up to max_messages unacknowledged responses
// for the user. Polling is non-destructive; callers acknowledge what
// they processed via /responses/ack.
func (o *Orchestrator) handleResponses(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	max := respstore.DefaultPollLimit
	if raw := r.URL.Query().Get("max_messages"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "max_messages must be a positive integer")
			return
		}
		max = parsed
	}

	records, err := o.store.Poll(r.Context(), userID, max)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read responses: %v", err))
		return
	}

	metrics.ResponsesPolled.Add(float64(len(records)))
	respondJSON(w, http.StatusOK, a2a.PollResult{
		Total:     len(records),
		Responses: records,
	})
}

func (o *Orchestrator) handleResponsesAck(w http.ResponseWriter, r *http.Request) {
	var req a2a.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		respondError(w, http.StatusBadRequest, "message_ids is required")
		return
	}

	if err := o.store.Ack(r.Context(), req.MessageIDs...); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to acknowledge responses: %v", err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decodeTaskRequest(w http.ResponseWriter, r *http.Request) (*a2a.TaskRequest, bool) {
	var req a2a.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if req.Task == "" {
		respondError(w, http.StatusBadRequest, "Task is required")
		return nil, false
	}
	return &req, true
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (o *Orchestrator) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		o.logger.Info("orchestrator server listening", "addr", o.httpSrv.Addr)
		if err := o.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.httpSrv.Shutdown(shutdownCtx)
}

// RoutingRunner returns the async runner: it selects an agent for each
// dequeued task and forwards it, so the worker pool reuses the same
// routing as the sync path.
func (o *Orchestrator) RoutingRunner() dispatch.Runner {
	return dispatch.RunnerFunc(func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error) {
		sel, found := o.reg.Select(task)
		if !found {
			return "", "", errors.New("no suitable agent available")
		}

		resp, err := o.client.Execute(ctx, sel.BaseURL, &a2a.TaskRequest{
			Task:    task,
			UserID:  userID,
			Context: taskCtx,
		})
		if err != nil {
			return "", sel.Card.Name, err
		}
		return resp.Result, resp.Agent, nil
	})
}
