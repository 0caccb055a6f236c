package schedule

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// DefaultHealthInterval is the self-healing sweep cadence: any missed push,
// timer drift or failed refresh is caught within this interval.
const DefaultHealthInterval = 15 * time.Minute

// StaleReporter receives freshness telemetry; nil-safe implementations are
// provided by the messaging package.
type StaleReporter interface {
	PublishStale(role models.Role, expectedDate string)
}

// HealthChecker re-validates both snapshots against their expected dates on a
// fixed cadence and repairs whatever it finds wrong.
type HealthChecker struct {
	ref      *clock.Reference
	store    *store.Store
	coord    Refresher
	reg      *registry.Registry
	reporter StaleReporter
	logger   *logrus.Entry
}

// NewHealthChecker wires the checker; reporter may be nil.
func NewHealthChecker(ref *clock.Reference, st *store.Store, coord Refresher, reg *registry.Registry, reporter StaleReporter, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		ref:      ref,
		store:    st,
		coord:    coord,
		reg:      reg,
		reporter: reporter,
		logger:   logger.WithField("component", "health"),
	}
}

// Start runs the periodic sweep until the context ends.
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	id := h.reg.TrackTimer(registry.OwnerGlobal, "health-tick", ticker.Stop)
	go func() {
		defer func() {
			ticker.Stop()
			h.reg.ReleaseTimer(id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.RunOnce()
			}
		}
	}()
}

// RunOnce validates both roles and sweeps orphaned resources. A role whose
// snapshot is absent, dated wrong or stale gets a refresh; a healthy role
// gets a lightweight redraw of its current-time marker, no network involved.
func (h *HealthChecker) RunOnce() {
	for _, role := range models.Roles() {
		expected := h.ref.DateFor(role)
		snap := h.store.Get(role, expected)
		if snap == nil || h.store.IsStale(role) {
			h.logger.WithFields(logrus.Fields{"role": role, "expected": expected}).Info("Snapshot unhealthy, refreshing")
			if h.reporter != nil {
				h.reporter.PublishStale(role, expected)
			}
			h.coord.Request(role)
			continue
		}
		h.redraw(role, snap)
	}
	h.reg.CleanupOrphaned()
}

func (h *HealthChecker) redraw(role models.Role, snap *models.Snapshot) {
	r := h.reg.RendererFor(registry.RoleOwner(role))
	if r == nil {
		return
	}
	now := h.ref.Now()
	spot := 0.0
	priced := false
	// The current-price figure only applies to the day being lived through.
	if role == models.RoleToday {
		if row, ok := snap.RowForTime(now.Hour(), now.Minute()); ok {
			spot = row.Spot()
			priced = true
		}
	}
	if err := r.UpdateNow(now, spot, priced); err != nil {
		h.logger.WithError(err).WithField("role", role).Warn("Redraw failed")
	}
}
