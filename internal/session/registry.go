// Package session caches one live authenticated client per account.
//
// Registry is the single owner of the "account identity → session client"
// mapping shared by every concurrent fetch. Creation is lazy and coalesced:
// concurrent first uses for the same identity build exactly one client.
// Invalidation stops the client and removes it so the next use rebuilds.
package session

import (
	"log/slog"
	"sort"
	gosync "sync"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/ssofetch/internal/account"
)

// Handle is the constraint for registry entries: a live client that owns
// resources released by Stop. Handles are compared by identity.
type Handle interface {
	comparable
	Stop()
}

// Registry maps account identities to live handles. Safe for concurrent use.
// The zero value is not usable; call NewRegistry.
type Registry[H Handle] struct {
	logger *slog.Logger

	mu      gosync.RWMutex
	handles map[account.Identity]H

	group singleflight.Group
}

// created carries a singleflight result.
type created[H Handle] struct {
	handle H
	fresh  bool
}

// NewRegistry creates an empty Registry.
func NewRegistry[H Handle](logger *slog.Logger) *Registry[H] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry[H]{
		logger:  logger,
		handles: make(map[account.Identity]H),
	}
}

// GetOrCreate returns the handle registered for id. On a miss it calls
// factory, stores the result and reports wasCreated=true. Concurrent misses
// for the same identity share one factory call, and all of them see
// wasCreated=true. A factory error is returned and nothing is stored.
func (r *Registry[H]) GetOrCreate(id account.Identity, factory func() (H, error)) (h H, wasCreated bool, err error) {
	if h, ok := r.lookup(id); ok {
		return h, false, nil
	}

	v, err, _ := r.group.Do(string(id), func() (any, error) {
		// A flight that finished just before this one may have stored a handle.
		if h, ok := r.lookup(id); ok {
			return created[H]{handle: h}, nil
		}

		h, err := factory()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.handles[id] = h
		r.mu.Unlock()

		r.logger.Info("session client initialized", slog.String("account", id.String()))

		return created[H]{handle: h, fresh: true}, nil
	})
	if err != nil {
		var zero H

		return zero, false, err
	}

	c := v.(created[H]) //nolint:errcheck,forcetypeassert // only created[H] is returned above

	return c.handle, c.fresh, nil
}

// Invalidate stops and removes the handle for id. Invalidating an absent
// identity is a no-op.
func (r *Registry[H]) Invalidate(id account.Identity) {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if !ok {
		return
	}

	h.Stop()

	r.logger.Info("session client invalidated", slog.String("account", id.String()))
}

// InvalidateHandle stops failed and removes it from the registry only if it
// is still the registered handle for id. A handle another caller already
// replaced is left alone. failed itself is always stopped.
func (r *Registry[H]) InvalidateHandle(id account.Identity, failed H) {
	r.mu.Lock()

	current, ok := r.handles[id]
	removed := ok && current == failed

	if removed {
		delete(r.handles, id)
	}

	r.mu.Unlock()

	failed.Stop()

	if removed {
		r.logger.Info("session client invalidated", slog.String("account", id.String()))
	} else {
		r.logger.Debug("session client already replaced, stopped stale handle only",
			slog.String("account", id.String()),
		)
	}
}

// ResetAll invalidates every registered identity.
func (r *Registry[H]) ResetAll() {
	for _, id := range r.Identities() {
		r.Invalidate(id)
	}
}

// Len returns the number of registered handles.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}

// Identities returns the registered identities, sorted.
func (r *Registry[H]) Identities() []account.Identity {
	r.mu.RLock()

	ids := make([]account.Identity, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}

	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func (r *Registry[H]) lookup(id account.Identity) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[id]

	return h, ok
}
