package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls []struct {
		role models.Role
		at   time.Time
	}
}

func (r *recordingRefresher) Request(role models.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		role models.Role
		at   time.Time
	}{role, time.Now()})
	return true
}

func (r *recordingRefresher) snapshot() []struct {
	role models.Role
	at   time.Time
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		role models.Role
		at   time.Time
	}, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestMidnightStep(t *testing.T) {
	// First observation primes without effects.
	state, date, effects := MidnightStep(MidnightStable, "", "2025-01-01")
	if state != MidnightStable || date != "2025-01-01" || len(effects) != 0 {
		t.Fatalf("priming observation: state=%v date=%s effects=%v", state, date, effects)
	}

	// Same date stays stable.
	state, date, effects = MidnightStep(state, date, "2025-01-01")
	if state != MidnightStable || len(effects) != 0 {
		t.Fatalf("unchanged date must be a no-op, got effects=%v", effects)
	}

	// Date change transitions with the full effect list.
	state, date, effects = MidnightStep(state, date, "2025-01-02")
	if state != MidnightTransitioning {
		t.Fatalf("date change must transition, got %v", state)
	}
	if date != "2025-01-02" {
		t.Fatalf("stored date must update at detection, got %s", date)
	}
	want := []MidnightEffect{EffectClearAll, EffectRefreshToday, EffectRefreshTomorrowStaggered}
	if len(effects) != len(want) {
		t.Fatalf("effects got %v want %v", effects, want)
	}
	for i := range want {
		if effects[i] != want[i] {
			t.Fatalf("effect[%d] got %v want %v", i, effects[i], want[i])
		}
	}
}

func TestMidnightTransitionClearsAndStaggersRefreshes(t *testing.T) {
	// Midnight in Helsinki: 2025-01-01 21:59 UTC is 23:59 local.
	fake := clock.NewFake(time.Date(2025, 1, 1, 21, 59, 0, 0, time.UTC))
	ref, err := clock.NewReference(fake, "Europe/Helsinki")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	st := store.New(fake, 2*time.Hour, testLogger())
	reg := registry.New(fake, testLogger())
	coord := &recordingRefresher{}

	stagger := 30 * time.Millisecond
	d := NewMidnightDetector(ref, st, coord, reg, stagger, testLogger())
	if d.CurrentDate() != "2025-01-01" {
		t.Fatalf("detector must prime with the current date, got %s", d.CurrentDate())
	}

	st.Set(&models.Snapshot{Role: models.RoleToday, Date: "2025-01-01"})
	st.Set(&models.Snapshot{Role: models.RoleTomorrow, Date: "2025-01-02"})

	// No transition while the date holds.
	d.Tick()
	if got := coord.snapshot(); len(got) != 0 {
		t.Fatalf("no refresh expected before midnight, got %v", got)
	}

	// Cross midnight.
	fake.Advance(2 * time.Minute)
	d.Tick()

	if st.Get(models.RoleToday, "") != nil || st.Get(models.RoleTomorrow, "") != nil {
		t.Fatalf("both snapshots must be cleared on rollover")
	}
	if d.CurrentDate() != "2025-01-02" {
		t.Fatalf("stored date must advance, got %s", d.CurrentDate())
	}

	calls := coord.snapshot()
	if len(calls) != 1 || calls[0].role != models.RoleToday {
		t.Fatalf("today must be refreshed immediately, got %v", calls)
	}

	// Tomorrow's refresh arrives only after the stagger.
	deadline := time.Now().Add(time.Second)
	for {
		calls = coord.snapshot()
		if len(calls) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("staggered tomorrow refresh never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls[1].role != models.RoleTomorrow {
		t.Fatalf("second refresh must be tomorrow, got %v", calls[1].role)
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < stagger {
		t.Fatalf("tomorrow refresh fired after %v, want >= %v", gap, stagger)
	}

	// Re-entrant safety: another tick on the same date does nothing.
	d.Tick()
	if got := coord.snapshot(); len(got) != 2 {
		t.Fatalf("repeat tick must not re-trigger, got %d calls", len(got))
	}
}

func TestMidnightStaggerTimerOwnedByTomorrow(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 21, 59, 0, 0, time.UTC))
	ref, err := clock.NewReference(fake, "Europe/Helsinki")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	st := store.New(fake, 2*time.Hour, testLogger())
	reg := registry.New(fake, testLogger())
	coord := &recordingRefresher{}

	stagger := 250 * time.Millisecond
	d := NewMidnightDetector(ref, st, coord, reg, stagger, testLogger())

	fake.Advance(2 * time.Minute)
	d.Tick()

	var pending *registry.TimerEntry
	for _, e := range reg.Timers() {
		if e.Purpose == "midnight-stagger" {
			e := e
			pending = &e
		}
	}
	if pending == nil {
		t.Fatalf("pending stagger timer must be tracked")
	}
	if pending.Owner != registry.RoleOwner(models.RoleTomorrow) {
		t.Fatalf("stagger timer owner got %q, want tomorrow", pending.Owner)
	}

	// A tomorrow refresh that wins the race cancels the pending timer along
	// with the rest of the role's timers.
	reg.CancelOwned(registry.RoleOwner(models.RoleTomorrow))
	for _, e := range reg.Timers() {
		if e.Purpose == "midnight-stagger" {
			t.Fatalf("cancelled stagger timer still tracked")
		}
	}

	time.Sleep(2 * stagger)
	calls := coord.snapshot()
	if len(calls) != 1 || calls[0].role != models.RoleToday {
		t.Fatalf("cancelled stagger must not refresh tomorrow, got %v", calls)
	}
}
