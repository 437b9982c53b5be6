package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one observation emitted by the bridge over a stream channel.
// The payload shape varies by Type; Data is kept raw so that unknown fields
// and unknown event types survive decoding untouched.
type Event struct {
	Type      EventType       `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType identifies what kind of observation an Event carries.
type EventType string

const (
	EventTypeShotFired     EventType = "shot_fired"
	EventTypeTimerStarted  EventType = "timer_started"
	EventTypeTimerStopped  EventType = "timer_stopped"
	EventTypeStringStarted EventType = "string_started"
	EventTypeSensorReading EventType = "sensor_reading"
	EventTypeDeviceStatus  EventType = "device_status"
)

// Decode parses a raw stream frame into an Event. Extra fields in the frame
// are ignored; malformed JSON is the only failure.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event frame: %w", err)
	}
	return ev, nil
}
