// Package registry maintains the orchestrator's view of available
// agents and picks the best agent for a task.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/metrics"
)

// Options configures a Registry.
type Options struct {
	// DiscoveryTimeout bounds a single card fetch (default 5s).
	DiscoveryTimeout time.Duration
	// RefreshInterval is the cache refresh period (default 60s).
	RefreshInterval time.Duration
	// MinScore is the lowest keyword/capability overlap that still
	// counts as a match (default 1).
	MinScore int
	Logger   *slog.Logger
}

// Selection is a chosen agent together with its base URL.
type Selection struct {
	Card    *a2a.AgentCard
	BaseURL string
	Score   int
}

type entry struct {
	card      *a2a.AgentCard
	baseURL   string
	fetchedAt time.Time
}

// Registry discovers agents from a fixed set of endpoints and caches
// their cards. Endpoints that fail discovery drop out of the active set
// until a later refresh succeeds; callers only ever see live agents.
type Registry struct {
	client    *a2a.Client
	endpoints []string
	opts      Options
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry // keyed by endpoint
}

// New creates a registry for the given agent base URLs.
func New(client *a2a.Client, endpoints []string, opts Options) *Registry {
	if opts.DiscoveryTimeout == 0 {
		opts.DiscoveryTimeout = 5 * time.Second
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 60 * time.Second
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		client:    client,
		endpoints: endpoints,
		opts:      opts,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Refresh fetches every endpoint's card concurrently. A failed fetch
// drops that agent from the active set; the endpoint is retried on the
// next cycle. Discovery failures never propagate to callers.
func (r *Registry) Refresh(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	for _, endpoint := range r.endpoints {
		endpoint := endpoint
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, r.opts.DiscoveryTimeout)
			defer cancel()

			card, err := r.client.Discover(fetchCtx, endpoint)

			r.mu.Lock()
			defer r.mu.Unlock()
			if err != nil {
				r.logger.Warn("agent discovery failed, dropping from active set",
					"endpoint", endpoint, "error", err)
				metrics.DiscoveryFailures.WithLabelValues(endpoint).Inc()
				delete(r.entries, endpoint)
				return nil
			}

			r.entries[endpoint] = &entry{
				card:      card,
				baseURL:   endpoint,
				fetchedAt: time.Now(),
			}
			return nil
		})
	}

	_ = g.Wait()

	r.mu.RLock()
	metrics.AgentsActive.Set(float64(len(r.entries)))
	r.mu.RUnlock()
}

// Run refreshes immediately and then on every interval tick until ctx
// is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Agents returns the active cards sorted by name.
func (r *Registry) Agents() []a2a.AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]a2a.AgentCard, 0, len(r.entries))
	for _, e := range r.entries {
		cards = append(cards, *e.card)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// Select picks the active agent whose keywords and capabilities best
// overlap the task text. Below the minimum score no agent is returned
// and the caller must handle "no agent available" explicitly.
func (r *Registry) Select(task string) (*Selection, bool) {
	taskLower := strings.ToLower(task)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Selection
	for _, e := range r.entries {
		score := scoreCard(e.card, taskLower)
		if score < r.opts.MinScore {
			continue
		}
		if best == nil || score > best.Score ||
			(score == best.Score && e.card.Name < best.Card.Name) {
			card := *e.card
			best = &Selection{Card: &card, BaseURL: e.baseURL, Score: score}
		}
	}

	if best == nil {
		return nil, false
	}
	return best, true
}

// scoreCard counts how many of the card's keywords and capabilities
// occur in the lowercased task text.
func scoreCard(card *a2a.AgentCard, taskLower string) int {
	score := 0
	for _, kw := range card.Keywords {
		if kw != "" && strings.Contains(taskLower, strings.ToLower(kw)) {
			score++
		}
	}
	for _, capability := range card.Capabilities {
		if capability != "" && strings.Contains(taskLower, strings.ToLower(capability)) {
			score++
		}
	}
	return score
}
