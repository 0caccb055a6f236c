package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

const (
	// tickInterval is the suspend-detector heartbeat.
	tickInterval = time.Second
	// suspendGap is the heartbeat gap past which the host is assumed to have
	// been suspended and a restore event is synthesized.
	suspendGap = 30 * time.Second
)

// VersionChecker runs an on-demand, debounced version check.
type VersionChecker interface {
	Check(ctx context.Context)
}

// ChannelControl exposes the push channel's state and re-arm hook.
type ChannelControl interface {
	State() models.ConnectionState
	Kick()
}

// Coordinator reacts to host-environment transitions: process resumed
// (SIGCONT), clock jumped after a suspend, or an explicit wake notification.
// Each transition triggers a version check, re-arms the push channel if it is
// down, and revalidates data freshness.
type Coordinator struct {
	checker  VersionChecker
	channel  ChannelControl
	validate func()
	reg      *registry.Registry
	logger   *logrus.Entry

	mu       sync.Mutex
	lastTick time.Time
}

// New wires the coordinator. validate runs after each transition, typically
// the health check's RunOnce; any collaborator may be nil.
func New(checker VersionChecker, channel ChannelControl, validate func(), reg *registry.Registry, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		checker:  checker,
		channel:  channel,
		validate: validate,
		reg:      reg,
		logger:   logger.WithField("component", "lifecycle"),
	}
}

// Notify handles one host transition. The order matters: the version check
// runs first so a pending deploy is noticed before fresh data is fetched
// against the old version.
func (c *Coordinator) Notify(ctx context.Context, ev models.LifecycleEvent) {
	c.logger.WithField("event", string(ev)).Info("Host transition")
	if c.checker != nil {
		c.checker.Check(ctx)
	}
	if c.channel != nil && c.channel.State() != models.StateOpen {
		c.channel.Kick()
	}
	if c.validate != nil {
		c.validate()
	}
}

// Start attaches the SIGCONT listener and the suspend detector; both stop
// when the context ends.
func (c *Coordinator) Start(ctx context.Context) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGCONT, syscall.SIGUSR1)
	c.reg.TrackListener(registry.OwnerGlobal, func() { signal.Stop(sig) })

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				// SIGCONT means the process was resumed; SIGUSR1 is an
				// operator-triggered revalidation.
				ev := models.LifecycleVisible
				if s == syscall.SIGUSR1 {
					ev = models.LifecycleOnline
				}
				c.Notify(ctx, ev)
			}
		}
	}()

	go c.detectSuspend(ctx)
}

// detectSuspend watches for gaps in a steady heartbeat. A suspended host
// misses ticks; when they resume with a large gap the wall clock has moved on
// without us and every timer-derived assumption needs revalidating.
func (c *Coordinator) detectSuspend(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	id := c.reg.TrackTimer(registry.OwnerGlobal, "suspend-detector", ticker.Stop)
	defer func() {
		ticker.Stop()
		c.reg.ReleaseTimer(id)
	}()

	c.mu.Lock()
	c.lastTick = time.Now()
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			gap := now.Sub(c.lastTick)
			c.lastTick = now
			c.mu.Unlock()
			if gap > suspendGap {
				c.logger.WithField("gap", gap.String()).Warn("Heartbeat gap, host was suspended")
				c.Notify(ctx, models.LifecycleRestore)
			}
		}
	}
}
