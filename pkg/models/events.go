package models

// ConnectionState is the live-update channel's connection state machine.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DayUpdatedEvent is the push-stream payload announcing that a day's prices
// changed on the server.
type DayUpdatedEvent struct {
	Type      string `json:"type"`
	Date      string `json:"date"` // ISO date in the reference zone
	Intervals int    `json:"intervals,omitempty"`
}

// VersionEvent is the push-stream payload carrying the deployed version token.
type VersionEvent struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// LifecycleEvent is a host-environment transition that should trigger an
// out-of-band freshness check.
type LifecycleEvent string

const (
	LifecycleVisible LifecycleEvent = "visible"
	LifecycleFocus   LifecycleEvent = "focus"
	LifecycleRestore LifecycleEvent = "restore"
	LifecycleOnline  LifecycleEvent = "online"
)

// ParseLifecycleEvent maps a wire name onto a known transition.
func ParseLifecycleEvent(s string) (LifecycleEvent, bool) {
	switch ev := LifecycleEvent(s); ev {
	case LifecycleVisible, LifecycleFocus, LifecycleRestore, LifecycleOnline:
		return ev, true
	default:
		return "", false
	}
}
