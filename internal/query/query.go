// Package query answers history and statistics requests over the
// Reading Store.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/telemetry-bridge/internal/metrics"
	"github.com/sweeney/telemetry-bridge/internal/store"
)

const (
	// DefaultMinutes is the history window used when none is given.
	DefaultMinutes = 120
	// MaxMinutes caps the history window at one day.
	MaxMinutes = 1440
	// StatsWindow is the period statistics are computed over.
	StatsWindow = 24 * time.Hour

	// TimestampLayout renders ISO-8601 UTC with milliseconds.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// HistoryPoint is one row of the history response.
type HistoryPoint struct {
	TS   string `json:"ts"`
	Temp string `json:"temp"`
	Led  int    `json:"led"`
}

// Summary is the statistics response.
type Summary struct {
	Count      int     `json:"count"`
	AvgTemp    float64 `json:"avgTemp"`
	MinTemp    float64 `json:"minTemp"`
	MaxTemp    float64 `json:"maxTemp"`
	LedOnCount int     `json:"ledOnCount"`
}

// Options configures a Service.
type Options struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Service runs bounded queries against a store.
type Service struct {
	store   store.Querier
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Service over q.
func New(q store.Querier, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: q, timeout: opts.Timeout, metrics: opts.Metrics, now: opts.Now}
}

// ClampMinutes turns the raw minutes parameter into a window length.
// Missing, unparseable or non-positive values select DefaultMinutes;
// larger values are capped at MaxMinutes.
func ClampMinutes(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultMinutes
	}
	if n > MaxMinutes {
		return MaxMinutes
	}
	return n
}

// History returns readings with a temperature from the last minutes,
// oldest first, at most store.MaxHistoryRows. The result is never nil.
func (s *Service) History(ctx context.Context, minutes int) ([]HistoryPoint, error) {
	if minutes <= 0 {
		minutes = DefaultMinutes
	}
	if minutes > MaxMinutes {
		minutes = MaxMinutes
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	since := s.now().Add(-time.Duration(minutes) * time.Minute)
	rows, err := s.store.History(ctx, since, store.MaxHistoryRows)
	s.metrics.Query("history", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	points := make([]HistoryPoint, 0, len(rows))
	for _, r := range rows {
		if r.Temperature == nil {
			continue
		}
		points = append(points, HistoryPoint{
			TS:   r.Timestamp.UTC().Format(TimestampLayout),
			Temp: strconv.FormatFloat(*r.Temperature, 'f', 1, 64),
			Led:  int(r.Led),
		})
	}
	return points, nil
}

// Stats summarises the last StatsWindow. It returns nil when there are
// no readings with a temperature.
func (s *Service) Stats(ctx context.Context) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	st, err := s.store.Stats(ctx, s.now().Add(-StatsWindow))
	s.metrics.Query("stats", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	return &Summary{
		Count:      st.Count,
		AvgTemp:    st.Avg,
		MinTemp:    st.Min,
		MaxTemp:    st.Max,
		LedOnCount: st.LedOnCount,
	}, nil
}
