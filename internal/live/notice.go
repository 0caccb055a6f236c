package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
)

// DefaultNoticeDelay is the countdown between surfacing an update notice and
// the bounded auto-action.
const DefaultNoticeDelay = 30 * time.Second

// Notice is the one user-visible condition in the subsystem: a deployed
// version differs from the running one. It surfaces a non-blocking notice and
// after a fixed countdown fires the update action unless cancelled first. A
// second trigger while one is pending is suppressed without resetting the
// countdown.
type Notice struct {
	delay  time.Duration
	action func(version string)
	reg    *registry.Registry
	logger *logrus.Entry

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
	regID   uuid.UUID
}

// NewNotice wires the notice; action runs on the countdown expiring.
func NewNotice(delay time.Duration, action func(version string), reg *registry.Registry, logger *logrus.Logger) *Notice {
	if delay <= 0 {
		delay = DefaultNoticeDelay
	}
	return &Notice{
		delay:  delay,
		action: action,
		reg:    reg,
		logger: logger.WithField("component", "notice"),
	}
}

// Trigger surfaces the notice for the given version.
func (n *Notice) Trigger(version string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending {
		n.logger.WithField("version", version).Debug("Update notice already pending, suppressing")
		return
	}
	n.pending = true
	n.logger.WithFields(logrus.Fields{
		"version":   version,
		"countdown": n.delay.String(),
	}).Warn("New version deployed, update scheduled")

	timer := time.AfterFunc(n.delay, func() {
		n.mu.Lock()
		n.pending = false
		n.timer = nil
		n.reg.ReleaseTimer(n.regID)
		n.mu.Unlock()
		n.action(version)
	})
	n.timer = timer
	n.regID = n.reg.TrackTimer(registry.OwnerGlobal, "update-notice", func() { timer.Stop() })
}

// Cancel withdraws a pending notice; the user acted first.
func (n *Notice) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.pending {
		return
	}
	n.pending = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.reg.ReleaseTimer(n.regID)
	n.logger.Info("Pending update notice cancelled")
}

// Pending reports whether a notice is counting down.
func (n *Notice) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}
