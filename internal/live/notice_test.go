package live

import (
	"testing"
	"time"
)

func TestNoticeFiresAfterCountdown(t *testing.T) {
	fired := make(chan string, 1)
	n := NewNotice(30*time.Millisecond, func(v string) { fired <- v }, testRegistry(), testLogger())

	n.Trigger("v2")
	if !n.Pending() {
		t.Fatalf("notice must be pending after trigger")
	}
	select {
	case v := <-fired:
		if v != "v2" {
			t.Fatalf("action got version %q, want v2", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("action never fired")
	}
	if n.Pending() {
		t.Fatalf("notice must clear after the action runs")
	}
}

func TestSecondTriggerSuppressedWithoutReset(t *testing.T) {
	fired := make(chan string, 2)
	n := NewNotice(50*time.Millisecond, func(v string) { fired <- v }, testRegistry(), testLogger())

	n.Trigger("v2")
	time.Sleep(20 * time.Millisecond)
	// Were this to reset the countdown, the action would fire ~70ms in.
	n.Trigger("v3")

	select {
	case v := <-fired:
		if v != "v2" {
			t.Fatalf("action must carry the first version, got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("action never fired")
	}
	select {
	case v := <-fired:
		t.Fatalf("suppressed trigger must not fire, got %q", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelPreventsAction(t *testing.T) {
	fired := make(chan string, 1)
	n := NewNotice(30*time.Millisecond, func(v string) { fired <- v }, testRegistry(), testLogger())

	n.Trigger("v2")
	n.Cancel()
	if n.Pending() {
		t.Fatalf("cancel must clear the pending flag")
	}
	select {
	case v := <-fired:
		t.Fatalf("cancelled notice must not fire, got %q", v)
	case <-time.After(100 * time.Millisecond):
	}

	// A fresh trigger after cancel works normally.
	n.Trigger("v3")
	select {
	case v := <-fired:
		if v != "v3" {
			t.Fatalf("re-trigger got %q, want v3", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("re-trigger never fired")
	}
}
