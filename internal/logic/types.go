// Package logic contains the pure rules of the telemetry bridge: payload
// parsing, the threshold decision and the value types shared by every
// other package.
// This package has NO external dependencies (no MQTT, database, OS, or
// clock). Time is always passed in as a time.Time parameter.
package logic

import "time"

// LedState is the binary state of the device LED.
type LedState int

const (
	LedOff LedState = 0
	LedOn  LedState = 1
)

// Command is the actuator instruction sent to the device.
type Command string

const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// CommandFor returns the command that drives the LED to s.
func CommandFor(s LedState) Command {
	if s == LedOn {
		return CommandOn
	}
	return CommandOff
}

// EventType names a push-channel event.
type EventType string

const (
	EventTemp      EventType = "temp"
	EventLed       EventType = "led"
	EventThreshold EventType = "threshold"
)

// Event is a state change delivered to viewers.
// Value holds the temperature, the threshold, or 0/1 for led events.
type Event struct {
	Type  EventType
	Value float64
}

// TempEvent, LedEvent and ThresholdEvent build the three viewer events.
func TempEvent(t float64) Event      { return Event{Type: EventTemp, Value: t} }
func LedEvent(s LedState) Event      { return Event{Type: EventLed, Value: float64(s)} }
func ThresholdEvent(h float64) Event { return Event{Type: EventThreshold, Value: h} }

// Reading is one persisted data point.
// Temperature is nil only for an LED update recorded before any
// temperature was observed.
type Reading struct {
	Timestamp   time.Time
	Temperature *float64
	Led         LedState
}

// HasTemperature reports whether the reading carries a temperature.
func (r Reading) HasTemperature() bool {
	return r.Temperature != nil
}

// State is the control state: the current threshold, the believed LED
// state and the most recent valid temperature.
// It is a value type; copies share no memory with the owner.
type State struct {
	Threshold   float64
	Led         LedState
	Temperature *float64
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.Temperature != nil {
		t := *s.Temperature
		s.Temperature = &t
	}
	return s
}

// DefaultThreshold is the threshold used until a viewer sets one.
const DefaultThreshold = 30.0

// NewState returns the initial control state for the given threshold.
func NewState(threshold float64) State {
	return State{Threshold: threshold, Led: LedOff}
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
