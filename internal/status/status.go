// Package status tracks the bridge's connectivity to its dependencies.
// It is written by the monitor loop and read by the /health handler.
package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectionStatus reports whether a long-lived connection is up.
// Declared here so status does not import the mqtt package.
type ConnectionStatus interface {
	IsConnected() bool
}

// Pinger checks a request/response dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Snapshot is a point-in-time view of connectivity.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	StoreConnected bool
	// CacheConnected is nil when no state cache is configured.
	CacheConnected *bool
}

// Uptime returns the duration since the bridge started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds connectivity flags behind an RWMutex.
type Tracker struct {
	logger *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time.
func NewTracker(startTime time.Time, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger, snap: Snapshot{StartTime: startTime}}
}

// SetMQTTConnected sets the broker connection flag.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	changed := t.snap.MQTTConnected != connected
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
	if changed {
		t.logger.Info("mqtt connectivity changed", zap.Bool("connected", connected))
	}
}

// SetStoreConnected sets the reading store flag.
func (t *Tracker) SetStoreConnected(connected bool) {
	t.mu.Lock()
	changed := t.snap.StoreConnected != connected
	t.snap.StoreConnected = connected
	t.mu.Unlock()
	if changed {
		t.logger.Info("store connectivity changed", zap.Bool("connected", connected))
	}
}

// SetCacheConnected sets the state cache flag.
func (t *Tracker) SetCacheConnected(connected bool) {
	t.mu.Lock()
	changed := t.snap.CacheConnected == nil || *t.snap.CacheConnected != connected
	t.snap.CacheConnected = &connected
	t.mu.Unlock()
	if changed {
		t.logger.Info("cache connectivity changed", zap.Bool("connected", connected))
	}
}

// Snapshot returns a point-in-time copy of the tracked state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.CacheConnected != nil {
		v := *s.CacheConnected
		s.CacheConnected = &v
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Probes are the dependencies a Monitor checks. Cache may be nil.
type Probes struct {
	MQTT  ConnectionStatus
	Store Pinger
	Cache Pinger
}

// Monitor refreshes t from p immediately and then every interval until
// ctx is done.
func (t *Tracker) Monitor(ctx context.Context, interval time.Duration, p Probes) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t.Refresh(ctx, p, interval)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh checks every probe once. Each ping is bounded by timeout.
func (t *Tracker) Refresh(ctx context.Context, p Probes, timeout time.Duration) {
	if p.MQTT != nil {
		t.SetMQTTConnected(p.MQTT.IsConnected())
	}
	if p.Store != nil {
		t.SetStoreConnected(ping(ctx, p.Store, timeout))
	}
	if p.Cache != nil {
		t.SetCacheConnected(ping(ctx, p.Cache, timeout))
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ping(ctx) == nil
}
