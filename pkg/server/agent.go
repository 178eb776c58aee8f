package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/auth"
	"github.com/agentwire/agentwire/pkg/config"
	"github.com/agentwire/agentwire/pkg/executor"
	"github.com/agentwire/agentwire/pkg/metrics"
)

// ============================================================================
// AGENT SERVER - wraps one processor behind the A2A protocol
// ============================================================================

// Agent serves a single wrapped agent: discovery, execution, health
// and metrics.
type Agent struct {
	cfg     config.AgentConfig
	card    a2a.AgentCard
	guard   *auth.Guard
	exec    *executor.Executor
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// NewAgent builds the agent server. The card is constructed once from
// config and never changes for the process lifetime.
func NewAgent(cfg config.AgentConfig, guard *auth.Guard, exec *executor.Executor, logger *slog.Logger) *Agent {
	if guard == nil {
		guard = auth.NewGuard(cfg.APIKey)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:    cfg,
		card:   buildCard(cfg),
		guard:  guard,
		exec:   exec,
		logger: logger.With("component", "agent-server", "agent", cfg.Name),
	}
	a.router = a.routes()
	a.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// buildCard assembles the immutable agent card from config.
func buildCard(cfg config.AgentConfig) a2a.AgentCard {
	return a2a.AgentCard{
		Name:         cfg.Name,
		Description:  cfg.Description,
		Version:      cfg.Version,
		Protocol:     a2a.Protocol,
		Capabilities: cfg.Capabilities,
		Keywords:     cfg.Keywords,
		Endpoints: map[string]string{
			"execute": "/execute",
			"health":  "/health",
			"metrics": "/metrics",
		},
		Contact: a2a.Contact{
			Platform: cfg.Platform,
			Region:   cfg.Region,
			Service:  cfg.Service,
		},
		Limits: a2a.Limits{
			MaxTaskLength:  cfg.Limits.MaxTaskLength,
			TimeoutSeconds: cfg.Limits.TimeoutSeconds,
			RateLimit:      cfg.Limits.RateLimit,
		},
	}
}

// Card returns the agent card served at the well-known path.
func (a *Agent) Card() a2a.AgentCard { return a.card }

// Handler exposes the router, mainly for tests.
func (a *Agent) Handler() http.Handler { return a.router }

func (a *Agent) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(requestLogger(a.logger))
	r.Use(metricsMiddleware)

	if a.cfg.Limits.RateLimit != "" {
		if perSec, burst, err := config.ParseRateLimit(a.cfg.Limits.RateLimit); err == nil {
			r.Use(rateLimitMiddleware(newRateLimiter(perSec, burst)))
		}
	}

	// Discovery, health and metrics stay open; everything else needs
	// the shared secret when one is configured.
	r.Use(auth.Middleware(a.guard, "/", a2a.WellKnownPath, "/health", "/metrics"))

	r.Get("/", a.handleRoot)
	r.Get(a2a.WellKnownPath, a.handleCard)
	r.Post("/execute", a.handleExecute)
	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (a *Agent) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message":   fmt.Sprintf("%s A2A Agent", a.cfg.Name),
		"discovery": a2a.WellKnownPath,
	})
}

func (a *Agent) handleCard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.card)
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a2a.HealthStatus{
		Status:   "healthy",
		Service:  a.cfg.Name,
		Platform: a.cfg.Platform,
		Version:  a.cfg.Version,
	})
}

func (a *Agent) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req a2a.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Task == "" {
		respondError(w, http.StatusBadRequest, "Task is required")
		return
	}

	resp, err := a.exec.Execute(r.Context(), &req, r.Header.Get(auth.HeaderAPIKey))
	if err != nil {
		a.writeExecuteError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// writeExecuteError maps executor errors onto the wire contract.
func (a *Agent) writeExecuteError(w http.ResponseWriter, err error) {
	var perr *executor.ProcessingError

	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "Invalid or missing API key")
	case errors.Is(err, executor.ErrTimeout):
		respondError(w, http.StatusRequestTimeout, "Task execution timed out")
	case errors.Is(err, executor.ErrTaskTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Task exceeds maximum length of %d", a.cfg.Limits.MaxTaskLength))
	case errors.Is(err, executor.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "Agent is at capacity, retry later")
	case errors.As(err, &perr):
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Task execution failed: %s", perr.Detail))
	default:
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Task execution failed: %v", err))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (a *Agent) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("agent server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return a.httpSrv.Shutdown(shutdownCtx)
}
