package timer

import (
	"github.com/rs/zerolog/log"

	"github.com/rangebridge/kiosk/internal/event"
)

// Rules names the event tags that move the timer phase. The authoritative
// tag list belongs to the bridge's event schema, so it is configuration
// rather than a hard-coded switch.
type Rules struct {
	ReadyTags []event.EventType `yaml:"ready_tags"`
	StopTags  []event.EventType `yaml:"stop_tags"`
}

// DefaultRules matches the tags the current bridge firmware emits.
func DefaultRules() Rules {
	return Rules{
		ReadyTags: []event.EventType{event.EventTypeTimerStarted, event.EventTypeStringStarted},
		StopTags:  []event.EventType{event.EventTypeTimerStopped},
	}
}

func contains(tags []event.EventType, t event.EventType) bool {
	for _, tag := range tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Reduce folds one event into the snapshot and returns the new snapshot.
// It is pure: events are applied strictly in arrival order, unknown event
// types are kept for visibility but never change the phase, and a shot
// number is taken from the event as-is with no reordering or validation.
func (r Rules) Reduce(s State, ev event.Event) State {
	next := s
	next.RecentEvents = appendRecent(s.RecentEvents, ev)

	switch {
	case contains(r.ReadyTags, ev.Type):
		next.Phase = PhaseReady
		next.CurrentTime = 0

	case ev.Type == event.EventTypeShotFired:
		if next.Phase != PhaseStopped {
			next.Phase = PhaseActive
		}
		payload, err := event.ParsePayload(ev)
		if err != nil {
			log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("unparseable shot payload, keeping last shot number")
			break
		}
		if shot, ok := payload.(event.ShotFiredPayload); ok {
			if shot.CurrentShot != nil {
				next.CurrentShot = *shot.CurrentShot
			}
			if shot.TimeSec > 0 {
				next.CurrentTime = shot.TimeSec
			}
		}

	case contains(r.StopTags, ev.Type):
		// A stop before any run began is stale bridge chatter; idle never
		// jumps straight to stopped.
		if next.Phase != PhaseIdle {
			next.Phase = PhaseStopped
			if payload, err := event.ParsePayload(ev); err == nil {
				if stop, ok := payload.(event.TimerStoppedPayload); ok && stop.FinalTimeSec > 0 {
					next.CurrentTime = stop.FinalTimeSec
				}
			}
		}
	}

	return next
}
