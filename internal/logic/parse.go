package logic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Accepted ranges. The sensor range is deliberately wider than the
// storage range enforced by the reading store.
const (
	SensorMin    = -55.0
	SensorMax    = 150.0
	ThresholdMin = 0.0
	ThresholdMax = 100.0
)

var (
	// ErrInvalid is returned when a payload is not a number.
	ErrInvalid = errors.New("not a number")
	// ErrOutOfRange is returned when a number falls outside its domain.
	ErrOutOfRange = errors.New("out of range")
)

// ParseTemperature parses a sensor temperature payload in degrees Celsius.
func ParseTemperature(payload []byte) (float64, error) {
	return parseBounded(string(payload), SensorMin, SensorMax)
}

// ParseThreshold parses a viewer-requested threshold.
func ParseThreshold(raw string) (float64, error) {
	return parseBounded(raw, ThresholdMin, ThresholdMax)
}

// ParseLed parses an LED-state payload. "1" and "ON" mean on;
// anything else is off.
func ParseLed(payload []byte) LedState {
	switch strings.TrimSpace(string(payload)) {
	case "1", "ON":
		return LedOn
	default:
		return LedOff
	}
}

func parseBounded(raw string, lo, hi float64) (float64, error) {
	s := strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%v not in [%v, %v]: %w", v, lo, hi, ErrOutOfRange)
	}
	return v, nil
}
