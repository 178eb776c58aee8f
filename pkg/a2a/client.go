package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// A2A CLIENT - Call remote A2A agents
// ============================================================================

// Discovery errors. ErrUnreachable covers transport failures and non-200
// statuses; ErrMalformed covers cards that do not parse or fail validation.
var (
	ErrUnreachable = errors.New("agent unreachable")
	ErrMalformed   = errors.New("malformed agent card")
)

// DefaultAPIKeyHeader is the header agents read the shared secret from.
const DefaultAPIKeyHeader = "X-API-Key"

// Client calls remote A2A agents over HTTP.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	apiKeyHeader string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Timeout      time.Duration
	APIKey       string
	APIKeyHeader string // defaults to DefaultAPIKeyHeader
}

// NewClient creates a new A2A protocol client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
	}
}

// ============================================================================
// AGENT DISCOVERY
// ============================================================================

// Discover fetches the agent card from baseURL's well-known location.
func (c *Client) Discover(ctx context.Context, baseURL string) (*AgentCard, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnreachable, url, resp.Status)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if card.Name == "" {
		return nil, fmt.Errorf("%w: card has no name", ErrMalformed)
	}

	return &card, nil
}

// ============================================================================
// TASK EXECUTION
// ============================================================================

// Execute posts a task to the agent at baseURL and returns its response.
// Non-200 statuses are surfaced as errors carrying the remote detail.
func (c *Client) Execute(ctx context.Context, baseURL string, taskReq *TaskRequest) (*TaskResponse, error) {
	body, err := json.Marshal(taskReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned %s: %s", resp.Status, readErrorDetail(resp.Body))
	}

	var taskResp TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&taskResp); err != nil {
		return nil, fmt.Errorf("failed to decode task response: %w", err)
	}

	return &taskResp, nil
}

// readErrorDetail extracts the structured detail from an error body,
// falling back to raw text when it is not JSON.
func readErrorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))

	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
