package timer

import (
	"github.com/rangebridge/kiosk/internal/event"
)

// Phase is where the shot timer is within one run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReady
	PhaseActive
	PhaseStopped
)

// String returns the display name of a phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReady:
		return "ready"
	case PhaseActive:
		return "active"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ShotUnset marks CurrentShot before any shot has been observed.
const ShotUnset = -1

// recentEventCap bounds the rolling event history kept in a snapshot.
const recentEventCap = 5

// State is the reducer-owned snapshot a panel renders. It is a value: Reduce
// returns a new State and never mutates its input, so every consumer of a
// snapshot can hold it without copying.
type State struct {
	Phase        Phase
	CurrentShot  int
	CurrentTime  float64
	RecentEvents []event.Event
}

// NewState returns the empty snapshot used at first subscription.
func NewState() State {
	return State{
		Phase:       PhaseIdle,
		CurrentShot: ShotUnset,
	}
}

// appendRecent appends ev to a fresh copy of the bounded history, evicting
// the oldest entry at capacity. Arrival order is preserved, newest last.
func appendRecent(events []event.Event, ev event.Event) []event.Event {
	if len(events) < recentEventCap {
		out := make([]event.Event, len(events), len(events)+1)
		copy(out, events)
		return append(out, ev)
	}
	out := make([]event.Event, recentEventCap)
	copy(out, events[len(events)-recentEventCap+1:])
	out[recentEventCap-1] = ev
	return out
}
