// Package a2a implements the Agent-to-Agent (A2A) protocol wire format
// and a client for discovering and calling remote agents.
package a2a

import (
	"time"
)

// Protocol is the protocol identifier advertised in every agent card.
const Protocol = "a2a"

// WellKnownPath is the discovery path served by every A2A agent.
const WellKnownPath = "/.well-known/agent.json"

// AnonymousUser is substituted when a task request carries no user ID.
const AnonymousUser = "anonymous"

// UserFilterAll matches every user when polling for responses.
const UserFilterAll = "all"

// ============================================================================
// AGENT CARD - Agent Discovery & Capability Advertisement
// ============================================================================

// AgentCard is an agent's self-description, served at WellKnownPath.
// Orchestrators discover agents by fetching this document.
type AgentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Version      string            `json:"version"`
	Protocol     string            `json:"protocol"`
	Capabilities []string          `json:"capabilities"`
	Keywords     []string          `json:"keywords"`
	Endpoints    map[string]string `json:"endpoints"`
	Contact      Contact           `json:"contact"`
	Limits       Limits            `json:"limits"`
}

// Contact identifies where the agent runs.
type Contact struct {
	Platform string `json:"platform"`
	Region   string `json:"region,omitempty"`
	Service  string `json:"service,omitempty"`
}

// Limits advertises the agent's request constraints.
type Limits struct {
	MaxTaskLength  int    `json:"max_task_length"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RateLimit      string `json:"rate_limit,omitempty"` // e.g. "100/minute"
}

// AgentDirectory is the orchestrator's agent listing.
type AgentDirectory struct {
	TotalAgents int         `json:"total_agents"`
	Agents      []AgentCard `json:"agents"`
}

// ============================================================================
// TASK - Unit of Work
// ============================================================================

// TaskRequest is a request to execute a task.
type TaskRequest struct {
	Task     string                 `json:"task"`
	UserID   string                 `json:"user_id,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TaskStatus is the terminal state of a task.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskResponse is the result of a synchronous task execution.
type TaskResponse struct {
	Result   string                 `json:"result"`
	Agent    string                 `json:"agent"`
	Status   TaskStatus             `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AsyncAck acknowledges that an async task was durably queued.
type AsyncAck struct {
	MessageID string `json:"message_id"`
	Queue     string `json:"queue,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ============================================================================
// RESPONSES - Async Result Correlation
// ============================================================================

// ResponseRecord is a completed (or failed) async task result, keyed by
// the message ID assigned at dispatch time.
type ResponseRecord struct {
	MessageID string     `json:"message_id"`
	UserID    string     `json:"user_id"`
	AgentUsed string     `json:"agent_used"`
	Response  string     `json:"response"`
	Status    TaskStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// PollResult is the envelope returned when polling for async responses.
type PollResult struct {
	Total     int               `json:"total"`
	Responses []*ResponseRecord `json:"responses"`
}

// AckRequest acknowledges delivered responses so they stop being polled.
type AckRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// ============================================================================
// MISC
// ============================================================================

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ErrorBody is the structured error payload returned by agents and the
// orchestrator on non-2xx responses.
type ErrorBody struct {
	Detail string `json:"detail"`
}
