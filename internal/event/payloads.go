package event

import "encoding/json"

// ShotFiredPayload carries one detected shot. CurrentShot is a pointer so
// an absent field is distinguishable from shot number zero.
type ShotFiredPayload struct {
	CurrentShot *int    `json:"currentShot,omitempty"`
	TimeSec     float64 `json:"timeSec,omitempty"`
	SplitSec    float64 `json:"splitSec,omitempty"`
	EventDetail string  `json:"eventDetail,omitempty"`
}

// TimerStartedPayload signals the timer armed a new run.
type TimerStartedPayload struct {
	EventDetail string `json:"eventDetail,omitempty"`
}

// TimerStoppedPayload signals the end of a run.
type TimerStoppedPayload struct {
	FinalTimeSec float64 `json:"finalTimeSec,omitempty"`
	TotalShots   int     `json:"totalShots,omitempty"`
	EventDetail  string  `json:"eventDetail,omitempty"`
}

// StringStartedPayload signals the shooter began a new string.
type StringStartedPayload struct {
	StringNumber int    `json:"stringNumber,omitempty"`
	EventDetail  string `json:"eventDetail,omitempty"`
}

// SensorReadingPayload carries a raw sensor sample from the bridge.
type SensorReadingPayload struct {
	SensorID string  `json:"sensorId,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// DeviceStatusPayload reports bridge-side device health.
type DeviceStatusPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UnknownPayload preserves the raw data of an event type this build does not
// recognize. Newer bridge firmware may emit types we have no struct for yet.
type UnknownPayload struct {
	Raw json.RawMessage
}

// ParsePayload parses an event's data into the payload struct for its type.
// Unknown event types return UnknownPayload rather than an error so that a
// firmware upgrade on the bridge never breaks the stream consumer.
func ParsePayload(ev Event) (interface{}, error) {
	switch ev.Type {
	case EventTypeShotFired:
		var payload ShotFiredPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerStarted:
		var payload TimerStartedPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return nil, err
			}
		}
		return payload, nil

	case EventTypeTimerStopped:
		var payload TimerStoppedPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return nil, err
			}
		}
		return payload, nil

	case EventTypeStringStarted:
		var payload StringStartedPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return nil, err
			}
		}
		return payload, nil

	case EventTypeSensorReading:
		var payload SensorReadingPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeDeviceStatus:
		var payload DeviceStatusPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return UnknownPayload{Raw: ev.Data}, nil
	}
}
