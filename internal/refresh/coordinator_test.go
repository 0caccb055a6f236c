package refresh

import (
	"context"
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

type recordingFetcher struct {
	mu      sync.Mutex
	calls   []string // "role date"
	block   chan struct{}
	fail    bool
}

func (f *recordingFetcher) FetchDay(ctx context.Context, role models.Role, date string) error {
	f.mu.Lock()
	f.calls = append(f.calls, string(role)+" "+date)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *recordingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newFixture(t *testing.T, f Fetcher) (*Coordinator, *clock.Fake, *store.Store, *registry.Registry) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	ref, err := clock.NewReference(fake, "Europe/Helsinki")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	st := store.New(fake, 2*time.Hour, testLogger())
	reg := registry.New(fake, testLogger())
	c := New(context.Background(), fake, ref, st, reg, f, 2*time.Second, testLogger())
	return c, fake, st, reg
}

func TestDoubleRequestWithinCooldownIssuesOneFetch(t *testing.T) {
	f := &recordingFetcher{}
	c, fake, _, _ := newFixture(t, f)

	if !c.Request(models.RoleToday) {
		t.Fatalf("first request must be accepted")
	}
	c.Wait()

	// Second request lands 1s after completion, inside the 2s cool-down.
	fake.Advance(time.Second)
	if c.Request(models.RoleToday) {
		t.Fatalf("request within cool-down must be a no-op")
	}
	c.Wait()

	if got := f.count(); got != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", got)
	}

	// After the cool-down the role may refresh again.
	fake.Advance(2 * time.Second)
	if !c.Request(models.RoleToday) {
		t.Fatalf("request after cool-down must be accepted")
	}
	c.Wait()
	if got := f.count(); got != 2 {
		t.Fatalf("expected 2 fetches after cool-down, got %d", got)
	}
}

func TestInFlightRequestRejected(t *testing.T) {
	f := &recordingFetcher{block: make(chan struct{})}
	c, _, _, _ := newFixture(t, f)

	if !c.Request(models.RoleToday) {
		t.Fatalf("first request must be accepted")
	}
	if c.Request(models.RoleToday) {
		t.Fatalf("request while in flight must be a no-op")
	}
	if !c.InFlight(models.RoleToday) {
		t.Fatalf("role must report in-flight")
	}
	close(f.block)
	c.Wait()
	if c.InFlight(models.RoleToday) {
		t.Fatalf("lock must be released after completion")
	}
	if got := f.count(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestRolesRefreshIndependently(t *testing.T) {
	f := &recordingFetcher{block: make(chan struct{})}
	c, _, _, _ := newFixture(t, f)

	if !c.Request(models.RoleToday) {
		t.Fatalf("today must be accepted")
	}
	if !c.Request(models.RoleTomorrow) {
		t.Fatalf("tomorrow must be accepted while today is in flight")
	}
	close(f.block)
	c.Wait()
	if got := f.count(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestLockReleasedAfterFailure(t *testing.T) {
	f := &recordingFetcher{fail: true}
	c, fake, _, _ := newFixture(t, f)

	c.Request(models.RoleToday)
	c.Wait()

	fake.Advance(3 * time.Second)
	if !c.Request(models.RoleToday) {
		t.Fatalf("failed fetch must still release the lock")
	}
	c.Wait()
}

func TestRequestClearsSnapshotAndComputesDates(t *testing.T) {
	f := &recordingFetcher{}
	c, fake, st, _ := newFixture(t, f)

	st.Set(&models.Snapshot{Role: models.RoleToday, Date: "2025-01-01"})
	c.Request(models.RoleToday)
	c.Wait()
	if st.Get(models.RoleToday, "") != nil {
		t.Fatalf("acquiring the lock must clear the old snapshot")
	}

	fake.Advance(3 * time.Second)
	c.Request(models.RoleTomorrow)
	c.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	// 12:00 UTC Jan 1 is Jan 1 in Helsinki; tomorrow is Jan 2.
	if f.calls[0] != "today 2025-01-01" {
		t.Errorf("today fetch got %q", f.calls[0])
	}
	if f.calls[1] != "tomorrow 2025-01-02" {
		t.Errorf("tomorrow fetch got %q", f.calls[1])
	}
}

func TestRequestCancelsRoleScopedTimers(t *testing.T) {
	f := &recordingFetcher{}
	c, _, _, reg := newFixture(t, f)

	stopped := false
	reg.TrackTimer(registry.RoleOwner(models.RoleToday), "poll", func() { stopped = true })

	c.Request(models.RoleToday)
	c.Wait()

	if !stopped {
		t.Fatalf("role-scoped timers must be cancelled when the lock is acquired")
	}
}
