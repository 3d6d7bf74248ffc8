// Package store persists readings and answers range queries over them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// Storage validation range. Narrower than the sensor range accepted by
// the control core; readings outside it are kept in memory but not stored.
const (
	MinTemperature = -50.0
	MaxTemperature = 150.0
)

// MaxHistoryRows caps a single history query.
const MaxHistoryRows = 1000

var (
	// ErrOutOfRange is returned by Append for readings the schema rejects.
	ErrOutOfRange = errors.New("reading outside storage range")
	// ErrDropped is reported when the write queue cannot take a reading.
	ErrDropped = errors.New("reading dropped")
)

// Stats aggregates readings that carry a temperature.
type Stats struct {
	Count      int
	Avg        float64
	Min        float64
	Max        float64
	LedOnCount int
}

// Appender appends readings.
type Appender interface {
	Append(ctx context.Context, r logic.Reading) error
}

// Querier reads stored readings.
type Querier interface {
	// History returns readings since the given instant that carry a
	// temperature, oldest first, at most limit rows.
	History(ctx context.Context, since time.Time, limit int) ([]logic.Reading, error)
	// Stats aggregates readings since the given instant. It returns nil
	// when nothing matches.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	// Latest returns the most recent reading, or nil for an empty store.
	Latest(ctx context.Context) (*logic.Reading, error)
}

// Store is a complete reading store.
type Store interface {
	Appender
	Querier
	Ping(ctx context.Context) error
	Close() error
}

// Validate applies the storage schema rules to r.
func Validate(r logic.Reading) error {
	if r.Led != logic.LedOff && r.Led != logic.LedOn {
		return fmt.Errorf("led_state %d: %w", r.Led, ErrOutOfRange)
	}
	if r.Temperature == nil {
		return nil
	}
	if t := *r.Temperature; t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("temperature %v not in [%v, %v]: %w", t, MinTemperature, MaxTemperature, ErrOutOfRange)
	}
	return nil
}
