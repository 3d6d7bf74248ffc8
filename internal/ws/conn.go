package ws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/control"
	"github.com/sweeney/telemetry-bridge/internal/logic"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 32
)

// Controller is the part of the control core a connection talks to.
type Controller interface {
	OnViewerConnect(v control.Viewer)
	HandleThresholdChange(raw string, requesterID string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers are served from other origins; there is no authentication.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one connected viewer.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newConn(id string, ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("viewer", id)),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Send queues e for this viewer only.
func (c *Conn) Send(e logic.Event) {
	msg, err := Encode(e)
	if err != nil {
		c.logger.Error("send dropped", zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		c.logger.Warn("send queue full")
	}
}

func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Handler upgrades requests to websocket connections. Each connection gets
// a state snapshot, then the live stream; set_threshold messages are
// forwarded to ctrl.
func (h *Hub) Handler(ctrl Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := newConn(uuid.NewString(), wsConn, h.logger)
		c.logger.Info("viewer connected", zap.String("remote", r.RemoteAddr))

		ctrl.OnViewerConnect(c)
		go c.writePump()
		c.readPump(ctrl)

		h.Leave(c)
		c.close()
		c.logger.Info("viewer disconnected")
	})
}

func (c *Conn) readPump(ctrl Controller) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		var in Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			c.logger.Warn("malformed viewer message", zap.Error(err))
			continue
		}
		if in.Event != EventSetThreshold {
			c.logger.Debug("ignoring viewer event", zap.String("event", in.Event))
			continue
		}
		ctrl.HandleThresholdChange(thresholdArg(in.Data), c.id)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// thresholdArg accepts a JSON number or a JSON string holding one and
// returns the raw text for parsing. Anything else yields text the parser
// rejects.
func thresholdArg(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s
		}
	}
	return string(data)
}
