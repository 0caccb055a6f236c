package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// The upstream source publishes the next day's prices near 14:00 in the
// reference zone; polling is bounded to that hour to avoid indefinite tight
// polling.
const (
	WindowStartHour = 14
	WindowEndHour   = 15
)

// WindowState is the afternoon poller's state.
type WindowState int

const (
	WindowIdle WindowState = iota
	WindowActive
)

func (s WindowState) String() string {
	if s == WindowActive {
		return "active"
	}
	return "idle"
}

// AfternoonStep is the pure dispatcher for the polling window: given the
// current state and the reference hour, it returns the next state and whether
// a "tomorrow" refresh should be issued on this tick.
func AfternoonStep(state WindowState, hour int) (WindowState, bool) {
	inWindow := hour >= WindowStartHour && hour < WindowEndHour
	if !inWindow {
		return WindowIdle, false
	}
	return WindowActive, true
}

// AfternoonPoller polls for tomorrow's prices once per minute while the
// reference hour is inside the publication window.
type AfternoonPoller struct {
	ref    *clock.Reference
	coord  Refresher
	reg    *registry.Registry
	logger *logrus.Entry

	mu    sync.Mutex
	state WindowState
}

// NewAfternoonPoller creates the poller in the Idle state.
func NewAfternoonPoller(ref *clock.Reference, coord Refresher, reg *registry.Registry, logger *logrus.Logger) *AfternoonPoller {
	return &AfternoonPoller{
		ref:    ref,
		coord:  coord,
		reg:    reg,
		logger: logger.WithField("component", "afternoon"),
	}
}

// Start runs the 1-minute window check until the context ends.
func (p *AfternoonPoller) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	id := p.reg.TrackTimer(registry.OwnerGlobal, "afternoon-tick", ticker.Stop)
	go func() {
		defer func() {
			ticker.Stop()
			p.reg.ReleaseTimer(id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
}

// Tick runs one window check and, while Active, one poll.
func (p *AfternoonPoller) Tick() {
	hour := p.ref.Hour()

	p.mu.Lock()
	next, poll := AfternoonStep(p.state, hour)
	changed := next != p.state
	p.state = next
	p.mu.Unlock()

	if changed {
		p.logger.WithFields(logrus.Fields{"state": next.String(), "hour": hour}).Info("Afternoon window transition")
	}
	if poll {
		p.coord.Request(models.RoleTomorrow)
	}
}

// ForceIdle stops the window early: tomorrow's data arrived via push, the
// goal is already satisfied.
func (p *AfternoonPoller) ForceIdle() {
	p.mu.Lock()
	changed := p.state != WindowIdle
	p.state = WindowIdle
	p.mu.Unlock()
	if changed {
		p.logger.Info("Afternoon window forced idle, tomorrow's data arrived")
	}
}

// State returns the current window state.
func (p *AfternoonPoller) State() WindowState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
