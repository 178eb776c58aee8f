package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/pkg/a2a"
)

func serveCard(t *testing.T, card a2a.AgentCard) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(a2a.WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func travelCard() a2a.AgentCard {
	return a2a.AgentCard{
		Name:         "travel-agent",
		Description:  "Plans trips",
		Protocol:     a2a.Protocol,
		Capabilities: []string{"travel", "booking"},
		Keywords:     []string{"trip", "travel", "flight", "hotel"},
	}
}

func illustrationCard() a2a.AgentCard {
	return a2a.AgentCard{
		Name:         "illustration-agent",
		Description:  "Draws pictures",
		Protocol:     a2a.Protocol,
		Capabilities: []string{"illustration", "drawing"},
		Keywords:     []string{"draw", "sketch", "illustration", "picture"},
	}
}

func TestRefreshAndSelect(t *testing.T) {
	travel := serveCard(t, travelCard())
	illustration := serveCard(t, illustrationCard())

	r := New(a2a.NewClient(nil), []string{travel.URL, illustration.URL}, Options{})
	r.Refresh(context.Background())

	agents := r.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "illustration-agent", agents[0].Name)
	assert.Equal(t, "travel-agent", agents[1].Name)

	sel, ok := r.Select("Plan a trip to Paris")
	require.True(t, ok)
	assert.Equal(t, "travel-agent", sel.Card.Name)
	assert.Equal(t, travel.URL, sel.BaseURL)

	sel, ok = r.Select("Draw me a picture of a cat")
	require.True(t, ok)
	assert.Equal(t, "illustration-agent", sel.Card.Name)
}

func TestSelectNoMatch(t *testing.T) {
	travel := serveCard(t, travelCard())

	r := New(a2a.NewClient(nil), []string{travel.URL}, Options{})
	r.Refresh(context.Background())

	_, ok := r.Select("Compute the eigenvalues of this matrix")
	assert.False(t, ok, "no overlap means no agent, never a wrong agent")
}

func TestSelectCaseInsensitive(t *testing.T) {
	travel := serveCard(t, travelCard())

	r := New(a2a.NewClient(nil), []string{travel.URL}, Options{})
	r.Refresh(context.Background())

	sel, ok := r.Select("BOOK A FLIGHT TO TOKYO")
	require.True(t, ok)
	assert.Equal(t, "travel-agent", sel.Card.Name)
}

func TestFailedEndpointDroppedThenRestored(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc(a2a.WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(travelCard())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := New(a2a.NewClient(nil), []string{srv.URL}, Options{DiscoveryTimeout: time.Second})

	r.Refresh(context.Background())
	require.Len(t, r.Agents(), 1)

	healthy.Store(false)
	r.Refresh(context.Background())
	assert.Empty(t, r.Agents(), "failed agents leave the active set")
	_, ok := r.Select("Plan a trip")
	assert.False(t, ok)

	healthy.Store(true)
	r.Refresh(context.Background())
	assert.Len(t, r.Agents(), 1, "recovered agents rejoin on the next cycle")
}

func TestScoreCardPrefersMoreOverlap(t *testing.T) {
	generic := a2a.AgentCard{Name: "generic", Keywords: []string{"help"}}
	travel := travelCard()

	assert.Greater(t,
		scoreCard(&travel, "help me plan a trip with a flight and hotel"),
		scoreCard(&generic, "help me plan a trip with a flight and hotel"))
}
