package live

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRegistry() *registry.Registry {
	return registry.New(clock.System(), testLogger())
}

type nopHandler struct{}

func (nopHandler) HandleDayUpdated(models.DayUpdatedEvent) {}
func (nopHandler) HandleVersion(models.VersionEvent)       {}

type scriptStream struct {
	events chan Event
}

func (s *scriptStream) Events() <-chan Event { return s.events }
func (s *scriptStream) Close() error         { return nil }

type scriptDialer struct {
	dials  atomic.Int32
	stream func() (Stream, error)
}

func (d *scriptDialer) Dial(ctx context.Context) (Stream, error) {
	d.dials.Add(1)
	if d.stream == nil {
		return nil, errors.New("refused")
	}
	return d.stream()
}

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	// The cap holds from attempt 6 onward.
	for _, attempt := range []int{7, 10, 100} {
		if got := Backoff(attempt); got != BackoffCap {
			t.Fatalf("Backoff(%d) = %v, want cap %v", attempt, got, BackoffCap)
		}
	}
	if got := Backoff(0); got != time.Second {
		t.Fatalf("Backoff(0) = %v, want clamp to base", got)
	}
}

func TestAttemptsResetOnOpen(t *testing.T) {
	events := make(chan Event)
	close(events)
	dialer := &scriptDialer{stream: func() (Stream, error) {
		return &scriptStream{events: events}, nil
	}}
	c := NewChannel(dialer, nopHandler{}, testRegistry(), time.Second, testLogger())

	// Simulate a run of failed attempts, then a successful dial.
	c.attempts.Store(5)
	c.connectOnce(context.Background())

	if got := c.Attempts(); got != 0 {
		t.Fatalf("attempt counter must reset on Open, got %d", got)
	}
	if c.State() != models.StateClosed {
		t.Fatalf("closed stream must leave the channel Closed, got %v", c.State())
	}
}

func TestWatchdogAbortsHungDial(t *testing.T) {
	c := NewChannel(&hangingDialer{}, nopHandler{}, testRegistry(), 30*time.Millisecond, testLogger())

	start := time.Now()
	c.connectOnce(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("watchdog must abort the hung dial, took %v", elapsed)
	}
	if c.State() != models.StateClosed {
		t.Fatalf("aborted dial must leave the channel Closed, got %v", c.State())
	}
}

type hangingDialer struct{}

func (hangingDialer) Dial(ctx context.Context) (Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEventsReachHandler(t *testing.T) {
	events := make(chan Event, 2)
	events <- Event{Name: "day_updated", Data: []byte(`{"type":"day_updated","date":"2025-01-16"}`)}
	events <- Event{Name: "version_update", Data: []byte(`{"type":"version_update","version":"abc123"}`)}
	close(events)

	dialer := &scriptDialer{stream: func() (Stream, error) {
		return &scriptStream{events: events}, nil
	}}
	h := &recordingHandler{}
	c := NewChannel(dialer, h, testRegistry(), time.Second, testLogger())
	c.connectOnce(context.Background())

	if len(h.days) != 1 || h.days[0].Date != "2025-01-16" {
		t.Fatalf("day_updated not delivered, got %v", h.days)
	}
	if len(h.versions) != 1 || h.versions[0].Version != "abc123" {
		t.Fatalf("version_update not delivered, got %v", h.versions)
	}
}

type recordingHandler struct {
	days     []models.DayUpdatedEvent
	versions []models.VersionEvent
}

func (r *recordingHandler) HandleDayUpdated(ev models.DayUpdatedEvent) { r.days = append(r.days, ev) }
func (r *recordingHandler) HandleVersion(ev models.VersionEvent)       { r.versions = append(r.versions, ev) }

func TestKickCutsBackoffShort(t *testing.T) {
	dialer := &scriptDialer{} // every dial fails immediately
	c := NewChannel(dialer, nopHandler{}, testRegistry(), time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// First dial fails at once, then the loop sits in a 1s backoff. A kick
	// must re-arm well before that elapses.
	deadline := time.After(2 * time.Second)
	for dialer.dials.Load() < 1 {
		select {
		case <-deadline:
			t.Fatalf("first dial never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.Kick()
	for dialer.dials.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("kick did not cut the backoff short, dials=%d", dialer.dials.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
