// Package control owns the Control State and applies the threshold rule.
//
// Every handler runs its state mutation and side-effect emission inside one
// critical section, so broadcasts, actuator commands and persisted readings
// always agree with the state that produced them. Per-viewer sends and
// persistence writes made under the lock only enqueue. The actuator publish
// hands the command to the MQTT client, which buffers it while offline and
// otherwise waits at most its publish timeout for a stalled connection.
package control

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/metrics"
)

// Actuator sends LED commands to the device.
type Actuator interface {
	Send(cmd logic.Command) error
}

// Viewer receives push events.
type Viewer interface {
	Send(e logic.Event)
}

// Broadcaster fans events out to every joined viewer.
// Neither method may call back into Core.
type Broadcaster interface {
	Broadcast(e logic.Event)
	Join(v Viewer)
}

// Persister accepts readings for storage without blocking.
type Persister interface {
	Persist(r logic.Reading)
}

// SnapshotSink receives a copy of the state after every committed change.
// Publish must not block.
type SnapshotSink interface {
	Publish(s logic.State)
}

// Options configures a Core.
type Options struct {
	// Threshold is the initial threshold. Zero selects logic.DefaultThreshold;
	// use Restore to start from an explicit zero.
	Threshold float64
	Snapshots SnapshotSink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Core is the single owner of the Control State.
type Core struct {
	act     Actuator
	hub     Broadcaster
	persist Persister
	snaps   SnapshotSink
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	state logic.State
}

// New returns a Core with default state.
func New(act Actuator, hub Broadcaster, persist Persister, opts Options) *Core {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = logic.DefaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Core{
		act:     act,
		hub:     hub,
		persist: persist,
		snaps:   opts.Snapshots,
		metrics: opts.Metrics,
		logger:  logger,
		state:   logic.NewState(threshold),
	}
	c.metrics.Threshold(threshold)
	return c
}

// HandleTemperature processes one temperature message received at at.
func (c *Core) HandleTemperature(payload []byte, at time.Time) {
	temp, err := logic.ParseTemperature(payload)
	if err != nil {
		c.logger.Warn("temperature rejected", zap.ByteString("payload", payload), zap.Error(err))
		c.metrics.Message("temperature", metrics.StatusRejected)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Temperature = logic.Float(temp)
	c.hub.Broadcast(logic.TempEvent(temp))
	c.evaluateLocked(temp)
	c.persist.Persist(logic.Reading{
		Timestamp:   at,
		Temperature: logic.Float(temp),
		Led:         c.state.Led,
	})

	c.metrics.Message("temperature", metrics.StatusAccepted)
	c.metrics.Temperature(temp)
	c.snapshotLocked()
}

// HandleLed processes an LED state report from the device. A report equal
// to the current state is ignored.
func (c *Core) HandleLed(payload []byte, at time.Time) {
	led := logic.ParseLed(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if led == c.state.Led {
		c.metrics.Message("led", metrics.StatusIgnored)
		return
	}

	c.state.Led = led
	c.hub.Broadcast(logic.LedEvent(led))

	var temp *float64
	if c.state.Temperature != nil {
		temp = logic.Float(*c.state.Temperature)
	}
	c.persist.Persist(logic.Reading{Timestamp: at, Temperature: temp, Led: led})

	c.metrics.Message("led", metrics.StatusAccepted)
	c.snapshotLocked()
}

// HandleThresholdChange applies a threshold requested by a viewer and
// re-evaluates the LED against the last known temperature. Nothing is
// persisted.
func (c *Core) HandleThresholdChange(raw string, requesterID string) {
	threshold, err := logic.ParseThreshold(raw)
	if err != nil {
		c.logger.Warn("threshold rejected",
			zap.String("value", raw), zap.String("viewer", requesterID), zap.Error(err))
		c.metrics.Message("threshold", metrics.StatusRejected)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Threshold = threshold
	c.hub.Broadcast(logic.ThresholdEvent(threshold))
	if c.state.Temperature != nil {
		c.evaluateLocked(*c.state.Temperature)
	}

	c.logger.Info("threshold updated", zap.Float64("threshold", threshold), zap.String("viewer", requesterID))
	c.metrics.Message("threshold", metrics.StatusAccepted)
	c.metrics.Threshold(threshold)
	c.snapshotLocked()
}

// OnViewerConnect sends the current state to v and joins it to the
// broadcast set in the same critical section, so v sees every later
// change exactly once.
func (c *Core) OnViewerConnect(v Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v.Send(logic.ThresholdEvent(c.state.Threshold))
	v.Send(logic.LedEvent(c.state.Led))
	if c.state.Temperature != nil {
		v.Send(logic.TempEvent(*c.state.Temperature))
	}
	c.hub.Join(v)
}

// State returns a copy of the current Control State.
func (c *Core) State() logic.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Restore replaces the Control State, typically with one recovered at
// startup. Nothing is broadcast or commanded.
func (c *Core) Restore(s logic.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s.Clone()
	c.metrics.Threshold(s.Threshold)
	if s.Temperature != nil {
		c.metrics.Temperature(*s.Temperature)
	}
}

// evaluateLocked commands the actuator and broadcasts the new LED state
// when temp crosses the threshold.
func (c *Core) evaluateLocked(temp float64) {
	cmd, changed := logic.Transition(c.state.Led, temp, c.state.Threshold)
	if !changed {
		return
	}

	if err := c.act.Send(cmd); err != nil {
		c.logger.Error("actuator command failed", zap.String("command", string(cmd)), zap.Error(err))
		c.metrics.Command(string(cmd), true)
	} else {
		c.metrics.Command(string(cmd), false)
	}

	c.state.Led = logic.Desired(temp, c.state.Threshold)
	c.hub.Broadcast(logic.LedEvent(c.state.Led))
}

func (c *Core) snapshotLocked() {
	if c.snaps != nil {
		c.snaps.Publish(c.state.Clone())
	}
}
