package registry

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/render"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Owner scopes a tracked resource to a role or to the whole agent.
type Owner string

const OwnerGlobal Owner = "global"

// RoleOwner maps a role to its owner key.
func RoleOwner(role models.Role) Owner { return Owner(role) }

// orphanTimerAge is how old a role-scoped timer must be before the sweep will
// reap it when its role has no live render surface.
const orphanTimerAge = time.Hour

// TimerEntry describes a tracked timer for introspection.
type TimerEntry struct {
	ID        uuid.UUID
	Owner     Owner
	Purpose   string
	CreatedAt time.Time
}

type timerRec struct {
	TimerEntry
	stop func()
}

type rendererRec struct {
	owner Owner
	r     render.Renderer
}

type connRec struct {
	owner Owner
	c     io.Closer
}

type listenerRec struct {
	owner  Owner
	detach func()
}

// Registry is an index of every timer, listener, live connection and render
// instance the scheduler creates. Components own their resources and hold the
// handles returned at registration; the registry exists for bulk teardown and
// the orphan sweep, not as the primary ownership mechanism.
type Registry struct {
	mu        sync.Mutex
	clock     clock.Clock
	logger    *logrus.Entry
	timers    map[uuid.UUID]*timerRec
	renderers map[uuid.UUID]*rendererRec
	conns     map[uuid.UUID]*connRec
	listeners map[uuid.UUID]*listenerRec
	teardown  []func()
}

// New creates an empty registry.
func New(clk clock.Clock, logger *logrus.Logger) *Registry {
	return &Registry{
		clock:     clk,
		logger:    logger.WithField("component", "registry"),
		timers:    make(map[uuid.UUID]*timerRec),
		renderers: make(map[uuid.UUID]*rendererRec),
		conns:     make(map[uuid.UUID]*connRec),
		listeners: make(map[uuid.UUID]*listenerRec),
	}
}

// TrackTimer records a scheduled timer and its stop function.
func (r *Registry) TrackTimer(owner Owner, purpose string, stop func()) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.timers[id] = &timerRec{
		TimerEntry: TimerEntry{ID: id, Owner: owner, Purpose: purpose, CreatedAt: r.clock.Now()},
		stop:       stop,
	}
	return id
}

// ReleaseTimer removes a timer that completed or was stopped by its owner.
func (r *Registry) ReleaseTimer(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)
}

// CancelOwned stops and removes every timer scoped to the owner. Called when
// a role's refresh lock is freshly acquired: the old timers belong to the
// about-to-be-replaced snapshot.
func (r *Registry) CancelOwned(owner Owner) {
	r.mu.Lock()
	var stops []func()
	for id, t := range r.timers {
		if t.Owner == owner {
			stops = append(stops, t.stop)
			delete(r.timers, id)
		}
	}
	r.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// TrackRenderer records a render instance for the owner's surface.
func (r *Registry) TrackRenderer(owner Owner, inst render.Renderer) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.renderers[id] = &rendererRec{owner: owner, r: inst}
	return id
}

// RendererFor returns the owner's live render instance, if any.
func (r *Registry) RendererFor(owner Owner) render.Renderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.renderers {
		if rec.owner == owner && rec.r.Alive() {
			return rec.r
		}
	}
	return nil
}

// TrackConn records a live connection handle.
func (r *Registry) TrackConn(owner Owner, c io.Closer) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.conns[id] = &connRec{owner: owner, c: c}
	return id
}

// ReleaseConn removes a connection that its owner already closed.
func (r *Registry) ReleaseConn(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// TrackListener records an event-listener registration and its detach
// function (signal handlers, subscription hooks).
func (r *Registry) TrackListener(owner Owner, detach func()) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.listeners[id] = &listenerRec{owner: owner, detach: detach}
	return id
}

// OnTeardown registers a callback to run during full cleanup.
func (r *Registry) OnTeardown(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardown = append(r.teardown, fn)
}

// Timers returns a snapshot of tracked timer entries for the status API.
func (r *Registry) Timers() []TimerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TimerEntry, 0, len(r.timers))
	for _, t := range r.timers {
		out = append(out, t.TimerEntry)
	}
	return out
}

// CleanupOrphaned removes render instances whose backing surface no longer
// exists, and role-scoped timers older than an hour whose role has no live
// render instance left.
func (r *Registry) CleanupOrphaned() {
	r.mu.Lock()

	alive := make(map[Owner]bool)
	var deadRenderers []render.Renderer
	for id, rec := range r.renderers {
		if rec.r.Alive() {
			alive[rec.owner] = true
			continue
		}
		deadRenderers = append(deadRenderers, rec.r)
		delete(r.renderers, id)
	}

	now := r.clock.Now()
	var staleStops []func()
	var swept int
	for id, t := range r.timers {
		if t.Owner == OwnerGlobal {
			continue
		}
		if alive[t.Owner] {
			continue
		}
		if now.Sub(t.CreatedAt) < orphanTimerAge {
			continue
		}
		staleStops = append(staleStops, t.stop)
		delete(r.timers, id)
		swept++
	}
	r.mu.Unlock()

	for _, inst := range deadRenderers {
		inst.Close()
	}
	for _, stop := range staleStops {
		stop()
	}
	if len(deadRenderers) > 0 || swept > 0 {
		r.logger.WithFields(logrus.Fields{
			"renderers": len(deadRenderers),
			"timers":    swept,
		}).Info("Swept orphaned resources")
	}
}

// Cleanup is the full teardown: stops every timer, detaches every listener,
// closes every connection and renderer, and runs registered teardown
// callbacks. Safe to call multiple times.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	timers := r.timers
	renderers := r.renderers
	conns := r.conns
	listeners := r.listeners
	callbacks := r.teardown
	r.timers = make(map[uuid.UUID]*timerRec)
	r.renderers = make(map[uuid.UUID]*rendererRec)
	r.conns = make(map[uuid.UUID]*connRec)
	r.listeners = make(map[uuid.UUID]*listenerRec)
	r.teardown = nil
	r.mu.Unlock()

	for _, t := range timers {
		t.stop()
	}
	for _, l := range listeners {
		l.detach()
	}
	for _, c := range conns {
		if err := c.c.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close tracked connection")
		}
	}
	for _, rec := range renderers {
		if err := rec.r.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close render instance")
		}
	}
	for _, fn := range callbacks {
		fn()
	}
}
