// Package ws is the live push channel to browser viewers.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/control"
	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/metrics"
)

// EventSetThreshold is the only event viewers may send.
const EventSetThreshold = "set_threshold"

// Envelope is the wire form of every push message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode renders e as {"event":..., "data":<number>}.
func Encode(e logic.Event) ([]byte, error) {
	data, err := json.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return json.Marshal(Envelope{Event: string(e.Type), Data: data})
}

// member is implemented by connections the hub can hand pre-encoded
// messages to and disconnect.
type member interface {
	enqueue(msg []byte) bool
	close()
}

// Hub is the set of joined viewers.
type Hub struct {
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	viewers map[control.Viewer]struct{}
}

// NewHub returns an empty hub.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		metrics: m,
		logger:  logger,
		viewers: make(map[control.Viewer]struct{}),
	}
}

// Join adds v to the broadcast set.
func (h *Hub) Join(v control.Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers[v] = struct{}{}
	h.metrics.SetViewers(len(h.viewers))
}

// Leave removes v from the broadcast set. Unknown viewers are ignored.
func (h *Hub) Leave(v control.Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(v)
}

// Len returns the number of joined viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Broadcast sends e to every joined viewer. The message is encoded once.
// A connection whose send queue is full is disconnected rather than
// allowed to stall the others.
func (h *Hub) Broadcast(e logic.Event) {
	msg, err := Encode(e)
	if err != nil {
		h.logger.Error("broadcast dropped", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for v := range h.viewers {
		m, ok := v.(member)
		if !ok {
			v.Send(e)
			continue
		}
		if !m.enqueue(msg) {
			h.logger.Warn("viewer too slow, disconnecting", zap.String("viewer", viewerID(v)))
			h.removeLocked(v)
			m.close()
		}
	}
	h.metrics.Broadcast(string(e.Type))
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		if m, ok := v.(member); ok {
			m.close()
		}
		h.removeLocked(v)
	}
}

func (h *Hub) removeLocked(v control.Viewer) {
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	h.metrics.SetViewers(len(h.viewers))
}

func viewerID(v control.Viewer) string {
	if c, ok := v.(*Conn); ok {
		return c.ID()
	}
	return fmt.Sprintf("%p", v)
}
