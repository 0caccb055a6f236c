package live

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

const (
	// BackoffBase is the first reconnect delay; it doubles per attempt.
	BackoffBase = time.Second
	// BackoffCap bounds the reconnect delay.
	BackoffCap = 30 * time.Second
	// DefaultWatchdog aborts a connect attempt that has not reached Open.
	DefaultWatchdog = 10 * time.Second
)

// Backoff returns the reconnect delay before the given attempt (1-based):
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return BackoffCap
	}
	d := BackoffBase << (attempt - 1)
	if d > BackoffCap {
		d = BackoffCap
	}
	return d
}

// Handler consumes the two push event classes.
type Handler interface {
	HandleDayUpdated(ev models.DayUpdatedEvent)
	HandleVersion(ev models.VersionEvent)
}

// Channel maintains the push subscription: Connecting → Open → Closed →
// Connecting, with exponential-backoff reconnects and a dial watchdog.
// Channel failures are never surfaced to the user; the polling fallback
// covers the gaps.
type Channel struct {
	dialer   Dialer
	handler  Handler
	reg      *registry.Registry
	logger   *logrus.Entry
	watchdog time.Duration

	state    atomic.Int32
	attempts atomic.Int32

	kick chan struct{}
}

// NewChannel wires the channel; Run must be called to connect.
func NewChannel(dialer Dialer, handler Handler, reg *registry.Registry, watchdog time.Duration, logger *logrus.Logger) *Channel {
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	c := &Channel{
		dialer:   dialer,
		handler:  handler,
		reg:      reg,
		logger:   logger.WithField("component", "channel"),
		watchdog: watchdog,
		kick:     make(chan struct{}, 1),
	}
	c.state.Store(int32(models.StateClosed))
	return c
}

// State returns the connection state.
func (c *Channel) State() models.ConnectionState {
	return models.ConnectionState(c.state.Load())
}

// Attempts returns the current reconnect attempt counter.
func (c *Channel) Attempts() int {
	return int(c.attempts.Load())
}

// Kick cuts a pending backoff wait short so the channel re-arms immediately;
// used by the lifecycle coordinator when the host wakes up or comes online.
func (c *Channel) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drives the connect/read/reconnect loop until the context ends.
func (c *Channel) Run(ctx context.Context) {
	for ctx.Err() == nil {
		c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt := int(c.attempts.Add(1))
		delay := Backoff(attempt)
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("Push stream down, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// connectOnce dials, reads until the stream dies, and leaves the channel in
// the Closed state.
func (c *Channel) connectOnce(ctx context.Context) {
	c.state.Store(int32(models.StateConnecting))

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watchdog: if the dial has not produced an Open stream in time, abort
	// it and fall through to the backoff path.
	wd := time.AfterFunc(c.watchdog, cancel)
	wdID := c.reg.TrackTimer(registry.OwnerGlobal, "reconnect-watchdog", func() { wd.Stop() })
	stream, err := c.dialer.Dial(dialCtx)
	wd.Stop()
	c.reg.ReleaseTimer(wdID)

	if err != nil {
		c.state.Store(int32(models.StateClosed))
		c.logger.WithError(err).Debug("Push stream dial failed")
		return
	}

	c.state.Store(int32(models.StateOpen))
	c.attempts.Store(0)
	c.logger.Info("Push stream open")

	connID := c.reg.TrackConn(registry.OwnerGlobal, stream)
	defer func() {
		stream.Close()
		c.reg.ReleaseConn(connID)
		c.state.Store(int32(models.StateClosed))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			c.dispatch(ev)
		}
	}
}

func (c *Channel) dispatch(ev Event) {
	switch ev.Name {
	case "day_updated":
		var payload models.DayUpdatedEvent
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed day_updated event")
			return
		}
		c.handler.HandleDayUpdated(payload)
	case "version_update":
		var payload models.VersionEvent
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed version_update event")
			return
		}
		c.handler.HandleVersion(payload)
	default:
		c.logger.WithField("event", ev.Name).Debug("Ignoring unknown push event")
	}
}
