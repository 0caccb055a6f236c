package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// DateFormat is the calendar date layout used throughout the agent.
const DateFormat = "2006-01-02"

// Clock abstracts wall-clock time so schedulers can be tested with a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the real wall clock.
func System() Clock { return systemClock{} }

// Reference converts wall-clock instants into the fixed reference zone's
// calendar dates and hours. Every time-window decision in the agent goes
// through it, so "today" means the same thing regardless of host timezone.
type Reference struct {
	clock Clock
	loc   *time.Location
}

// NewReference loads the reference zone and binds it to the given clock.
func NewReference(clk Clock, zone string) (*Reference, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference zone %s: %w", zone, err)
	}
	return &Reference{clock: clk, loc: loc}, nil
}

// Now returns the current instant in the reference zone.
func (r *Reference) Now() time.Time {
	return r.clock.Now().In(r.loc)
}

// Date returns the current reference-zone calendar date.
func (r *Reference) Date() string {
	return r.Now().Format(DateFormat)
}

// Hour returns the current reference-zone hour of day.
func (r *Reference) Hour() int {
	return r.Now().Hour()
}

// DateFor computes the target date for a role: today is the current reference
// date, tomorrow is the current reference date plus one day.
func (r *Reference) DateFor(role models.Role) string {
	now := r.Now()
	if role == models.RoleTomorrow {
		now = now.AddDate(0, 0, 1)
	}
	return now.Format(DateFormat)
}

// Location exposes the reference zone for display formatting.
func (r *Reference) Location() *time.Location {
	return r.loc
}

// Fake is a settable clock for tests.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set jumps the fake clock to an absolute instant.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}
