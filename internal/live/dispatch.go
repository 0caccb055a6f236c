package live

import (
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Refresher requests an asynchronous refresh for a role.
type Refresher interface {
	Request(role models.Role) bool
}

// WindowForcer pushes the afternoon window machine back to idle once the data
// it was polling for has arrived over the push channel.
type WindowForcer interface {
	ForceIdle()
}

// VersionSink consumes deployed version tokens observed on the push channel.
type VersionSink interface {
	Observe(deployed string)
}

// Dispatcher routes push events to the local state: day_updated invalidates
// the matching role and requests its refresh, version_update feeds the
// version checker.
type Dispatcher struct {
	ref      *clock.Reference
	store    *store.Store
	coord    Refresher
	window   WindowForcer
	versions VersionSink
	logger   *logrus.Entry
}

// NewDispatcher wires the dispatcher; window and versions may be nil when the
// corresponding subsystem is not running.
func NewDispatcher(ref *clock.Reference, st *store.Store, coord Refresher, window WindowForcer, versions VersionSink, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		ref:      ref,
		store:    st,
		coord:    coord,
		window:   window,
		versions: versions,
		logger:   logger.WithField("component", "dispatch"),
	}
}

// HandleDayUpdated maps the event date onto a display role. A date matching
// neither role is ignored; the midnight and health machinery own every other
// transition.
func (d *Dispatcher) HandleDayUpdated(ev models.DayUpdatedEvent) {
	switch ev.Date {
	case d.ref.DateFor(models.RoleToday):
		d.logger.WithField("date", ev.Date).Info("Today's prices updated upstream")
		d.store.Clear(models.RoleToday)
		d.coord.Request(models.RoleToday)
	case d.ref.DateFor(models.RoleTomorrow):
		d.logger.WithField("date", ev.Date).Info("Tomorrow's prices published upstream")
		d.store.Clear(models.RoleTomorrow)
		d.coord.Request(models.RoleTomorrow)
		if d.window != nil {
			d.window.ForceIdle()
		}
	default:
		d.logger.WithField("date", ev.Date).Debug("Ignoring day_updated for unrelated date")
	}
}

// HandleVersion forwards the deployed token to the version checker.
func (d *Dispatcher) HandleVersion(ev models.VersionEvent) {
	if d.versions == nil {
		return
	}
	d.versions.Observe(ev.Version)
}
