package schedule

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

// DefaultMidnightStagger separates the two role refreshes issued by a day
// rollover so both requests do not hit the source in the same instant.
const DefaultMidnightStagger = 500 * time.Millisecond

// Refresher is the coordinator surface the schedulers drive.
type Refresher interface {
	Request(role models.Role) bool
}

// MidnightState is the day-rollover detector's state.
type MidnightState int

const (
	MidnightStable MidnightState = iota
	MidnightTransitioning
)

// MidnightEffect is a side effect requested by a midnight transition.
type MidnightEffect int

const (
	EffectClearAll MidnightEffect = iota
	EffectRefreshToday
	EffectRefreshTomorrowStaggered
)

// MidnightStep is the pure dispatcher for the rollover machine: given the
// last-known reference date and the freshly observed one, it returns the next
// state, the date to store, and the effects to apply. The first observation
// only primes the stored date. Re-entrancy is safe because the stored date is
// updated at the moment the transition is detected.
func MidnightStep(state MidnightState, lastDate, observed string) (MidnightState, string, []MidnightEffect) {
	if lastDate == "" || lastDate == observed {
		return MidnightStable, observed, nil
	}
	return MidnightTransitioning, observed, []MidnightEffect{
		EffectClearAll,
		EffectRefreshToday,
		EffectRefreshTomorrowStaggered,
	}
}

// MidnightDetector watches for the reference date changing under the agent
// (midnight, or a resume after a long suspend) and rebuilds both snapshots.
type MidnightDetector struct {
	ref     *clock.Reference
	store   *store.Store
	coord   Refresher
	reg     *registry.Registry
	logger  *logrus.Entry
	stagger time.Duration

	mu      sync.Mutex
	state   MidnightState
	current string
}

// NewMidnightDetector primes the detector with the current reference date.
func NewMidnightDetector(ref *clock.Reference, st *store.Store, coord Refresher, reg *registry.Registry, stagger time.Duration, logger *logrus.Logger) *MidnightDetector {
	if stagger <= 0 {
		stagger = DefaultMidnightStagger
	}
	return &MidnightDetector{
		ref:     ref,
		store:   st,
		coord:   coord,
		reg:     reg,
		logger:  logger.WithField("component", "midnight"),
		stagger: stagger,
		current: ref.Date(),
	}
}

// Start runs the 1-minute date check until the context ends. The ticker is
// tracked in the registry as a global timer.
func (d *MidnightDetector) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	id := d.reg.TrackTimer(registry.OwnerGlobal, "midnight-tick", ticker.Stop)
	go func() {
		defer func() {
			ticker.Stop()
			d.reg.ReleaseTimer(id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Tick()
			}
		}
	}()
}

// Tick runs one observation of the reference date.
func (d *MidnightDetector) Tick() {
	observed := d.ref.Date()

	d.mu.Lock()
	state, current, effects := MidnightStep(d.state, d.current, observed)
	previous := d.current
	d.state = state
	d.current = current
	d.mu.Unlock()

	if len(effects) == 0 {
		return
	}

	d.logger.WithFields(logrus.Fields{"from": previous, "to": observed}).Info("Reference date changed, rolling over")
	d.apply(effects)

	d.mu.Lock()
	d.state = MidnightStable
	d.mu.Unlock()
}

func (d *MidnightDetector) apply(effects []MidnightEffect) {
	for _, effect := range effects {
		switch effect {
		case EffectClearAll:
			d.store.ClearAll()
		case EffectRefreshToday:
			d.coord.Request(models.RoleToday)
		case EffectRefreshTomorrowStaggered:
			// The pending timer belongs to tomorrow: a refresh that wins the
			// race (push event, operator) cancels it along with the role's
			// other timers.
			cancelled := make(chan struct{})
			timer := time.NewTimer(d.stagger)
			id := d.reg.TrackTimer(registry.RoleOwner(models.RoleTomorrow), "midnight-stagger", func() {
				timer.Stop()
				close(cancelled)
			})
			go func() {
				select {
				case <-timer.C:
					d.reg.ReleaseTimer(id)
					d.coord.Request(models.RoleTomorrow)
				case <-cancelled:
				}
			}()
		}
	}
}

// CurrentDate exposes the stored reference date for the status API.
func (d *MidnightDetector) CurrentDate() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
