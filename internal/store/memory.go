package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// Memory is an in-process store for development runs and tests.
// It applies the same validation as Postgres.
type Memory struct {
	mu       sync.Mutex
	readings []logic.Reading

	// AppendError, if set, is returned by Append.
	AppendError error

	// QueryError, if set, is returned by History, Stats and Latest.
	QueryError error
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Appender.
func (m *Memory) Append(_ context.Context, r logic.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendError != nil {
		return m.AppendError
	}
	if err := Validate(r); err != nil {
		return err
	}
	m.readings = append(m.readings, clone(r))
	return nil
}

// History implements Querier.
func (m *Memory) History(ctx context.Context, since time.Time, limit int) ([]logic.Reading, error) {
	if limit <= 0 || limit > MaxHistoryRows {
		limit = MaxHistoryRows
	}
	matched, err := m.since(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Stats implements Querier.
func (m *Memory) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	matched, err := m.since(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	s := &Stats{Min: *matched[0].Temperature, Max: *matched[0].Temperature}
	var sum float64
	for _, r := range matched {
		t := *r.Temperature
		sum += t
		if t < s.Min {
			s.Min = t
		}
		if t > s.Max {
			s.Max = t
		}
		if r.Led == logic.LedOn {
			s.LedOnCount++
		}
	}
	s.Count = len(matched)
	s.Avg = sum / float64(s.Count)
	return s, nil
}

// Latest implements Querier.
func (m *Memory) Latest(_ context.Context) (*logic.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}
	if len(m.readings) == 0 {
		return nil, nil
	}
	latest := m.readings[0]
	for _, r := range m.readings[1:] {
		if !r.Timestamp.Before(latest.Timestamp) {
			latest = r
		}
	}
	latest = clone(latest)
	return &latest, nil
}

// Ping implements Store.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// Len returns the number of stored readings.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

// Readings returns a copy of every stored reading in insertion order.
func (m *Memory) Readings() []logic.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logic.Reading, len(m.readings))
	for i, r := range m.readings {
		out[i] = clone(r)
	}
	return out
}

// since returns temperature-bearing readings at or after t, oldest first.
func (m *Memory) since(ctx context.Context, t time.Time) ([]logic.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}
	matched := []logic.Reading{}
	for _, r := range m.readings {
		if r.HasTemperature() && !r.Timestamp.Before(t) {
			matched = append(matched, clone(r))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched, nil
}

// clone returns r with its own copy of the temperature.
func clone(r logic.Reading) logic.Reading {
	if r.Temperature != nil {
		r.Temperature = logic.Float(*r.Temperature)
	}
	return r
}
