package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// DefaultCooldown is the minimum interval between completed refreshes of the
// same role. Bursty triggers (health tick, midnight transition and a push
// event firing together) collapse into a single fetch.
const DefaultCooldown = 2 * time.Second

// Fetcher is the external data-fetch collaborator. It resolves or rejects
// asynchronously and, on success, populates the snapshot store as a side
// effect of rendering the day.
type Fetcher interface {
	FetchDay(ctx context.Context, role models.Role, date string) error
}

type roleLock struct {
	inFlight bool
	lastDone time.Time
}

// Coordinator serializes refresh attempts per role. It is the sole
// writer-trigger for the snapshot store.
type Coordinator struct {
	mu    sync.Mutex
	locks map[models.Role]*roleLock

	ctx      context.Context
	clock    clock.Clock
	ref      *clock.Reference
	store    *store.Store
	reg      *registry.Registry
	fetcher  Fetcher
	cooldown time.Duration
	logger   *logrus.Entry
	wg       sync.WaitGroup
}

// New creates a coordinator bound to the agent's base context; in-flight
// fetches are cancelled when that context ends.
func New(ctx context.Context, clk clock.Clock, ref *clock.Reference, st *store.Store, reg *registry.Registry, fetcher Fetcher, cooldown time.Duration, logger *logrus.Logger) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Coordinator{
		locks:    make(map[models.Role]*roleLock),
		ctx:      ctx,
		clock:    clk,
		ref:      ref,
		store:    st,
		reg:      reg,
		fetcher:  fetcher,
		cooldown: cooldown,
		logger:   logger.WithField("component", "refresh"),
	}
}

// Request attempts a refresh for the role. It is a no-op returning false when
// a refresh is already in flight or the cool-down has not elapsed; refresh is
// idempotent under near-simultaneous triggers by design. On success the
// role's snapshot is cleared, its timers are cancelled (they belong to the
// about-to-be-replaced snapshot) and the fetch runs asynchronously; the lock
// is released unconditionally when the fetch completes either way.
func (c *Coordinator) Request(role models.Role) bool {
	if !role.Valid() {
		c.logger.WithField("role", role).Error("Refresh requested for unknown role")
		return false
	}

	c.mu.Lock()
	lock, ok := c.locks[role]
	if !ok {
		lock = &roleLock{}
		c.locks[role] = lock
	}
	now := c.clock.Now()
	if lock.inFlight {
		c.mu.Unlock()
		c.logger.WithField("role", role).Debug("Refresh already in flight, skipping")
		return false
	}
	if !lock.lastDone.IsZero() && now.Sub(lock.lastDone) < c.cooldown {
		c.mu.Unlock()
		c.logger.WithField("role", role).Debug("Refresh within cool-down, skipping")
		return false
	}
	lock.inFlight = true
	c.mu.Unlock()

	c.store.Clear(role)
	c.reg.CancelOwned(registry.RoleOwner(role))
	date := c.ref.DateFor(role)

	c.logger.WithFields(logrus.Fields{"role": role, "date": date}).Info("Refreshing")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(role)

		if err := c.fetcher.FetchDay(c.ctx, role, date); err != nil {
			// Transient by taxonomy: the next window tick or health
			// check retries. Never fatal.
			c.logger.WithError(err).WithFields(logrus.Fields{
				"role": role,
				"date": date,
			}).Warn("Refresh failed")
			return
		}
		c.logger.WithFields(logrus.Fields{"role": role, "date": date}).Info("Refresh complete")
	}()
	return true
}

func (c *Coordinator) release(role models.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock := c.locks[role]
	lock.inFlight = false
	lock.lastDone = c.clock.Now()
}

// InFlight reports whether the role currently has a refresh running.
func (c *Coordinator) InFlight(role models.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[role]
	return ok && lock.inFlight
}

// Wait blocks until outstanding fetches finish; used during shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
