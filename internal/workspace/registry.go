package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry keeps one Controller per signed-in user. Controllers left Idle for
// longer than the TTL are dropped by Run's janitor loop; their unsaved buffer
// goes with them, the same as closing the browser tab.
type Registry struct {
	deps     Deps
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewRegistry(deps Deps, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &Registry{
		deps:        deps,
		ttl:         ttl,
		interval:    interval,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the user's controller, creating it on first use.
func (r *Registry) Get(ownerID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[ownerID]
	if !ok {
		c = NewController(ownerID, r.deps)
		r.controllers[ownerID] = c
	}
	return c
}

// Drop forgets the user's controller, e.g. on logout.
func (r *Registry) Drop(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, ownerID)
}

// Len is the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Run evicts idle controllers until ctx is cancelled. It always returns nil so
// it can sit in an errgroup next to the HTTP server.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := r.sweep(now); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle workspaces", "count", n)
			}
		}
	}
}

// sweep drops controllers idle since before now-ttl. A controller in the
// middle of an operation is never dropped.
func (r *Registry) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, c := range r.controllers {
		lastUsed, idle := c.idleSince()
		if idle && now.Sub(lastUsed) > r.ttl {
			delete(r.controllers, id)
			evicted++
		}
	}
	return evicted
}
