package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, card AgentCard, execute http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	})
	if execute != nil {
		mux.HandleFunc("/execute", execute)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	card := AgentCard{
		Name:         "currency-agent",
		Description:  "Converts between currencies",
		Version:      "1.0.0",
		Protocol:     Protocol,
		Capabilities: []string{"currency", "finance"},
		Keywords:     []string{"convert", "currency", "exchange"},
	}
	srv := newTestAgent(t, card, nil)

	client := NewClient(&ClientConfig{Timeout: 2 * time.Second})
	got, err := client.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "currency-agent", got.Name)
	assert.Equal(t, Protocol, got.Protocol)
	assert.Equal(t, []string{"convert", "currency", "exchange"}, got.Keywords)
}

func TestDiscoverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(&ClientConfig{Timeout: 500 * time.Millisecond})
	_, err := client.Discover(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestDiscoverMalformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(nil)
	_, err := client.Discover(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestExecuteSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := newTestAgent(t, AgentCard{Name: "echo"}, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(DefaultAPIKeyHeader)

		var req TaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TaskResponse{
			Result: "done: " + req.Task,
			Agent:  "echo",
			Status: TaskStatusCompleted,
		})
	})

	client := NewClient(&ClientConfig{APIKey: "secret-key"})
	resp, err := client.Execute(context.Background(), srv.URL, &TaskRequest{Task: "ping", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "secret-key", gotKey)
	assert.Equal(t, "done: ping", resp.Result)
	assert.Equal(t, TaskStatusCompleted, resp.Status)
}

func TestExecuteSurfacesRemoteDetail(t *testing.T) {
	srv := newTestAgent(t, AgentCard{Name: "echo"}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorBody{Detail: "Task execution failed: boom"})
	})

	client := NewClient(nil)
	_, err := client.Execute(context.Background(), srv.URL, &TaskRequest{Task: "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Task execution failed: boom")
}
