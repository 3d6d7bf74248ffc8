// Package mqtt connects the bridge to the device over an MQTT broker:
// inbound sensor topics are routed to handlers and outbound commands are
// published, buffered while the broker is unreachable.
package mqtt

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// MessageFunc handles one inbound message. at is the arrival instant
// stamped when the message was received.
type MessageFunc func(payload []byte, at time.Time)

// Publisher sends a payload on a topic.
// Publish must not block on the network.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber routes inbound messages on a topic to a handler.
type Subscriber interface {
	Handle(topic string, fn MessageFunc)
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Options configures a Client.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// QoS for subscriptions and publishes. Defaults to 1.
	QoS byte

	// BufferSize bounds the outbox kept while disconnected. Defaults to 64.
	BufferSize int

	// ConnectTimeout bounds how long Connect waits for the first session.
	// The client keeps retrying in the background afterwards.
	ConnectTimeout time.Duration

	// PublishTimeout bounds both the hand-off to the paho writer and the
	// background wait on a publish token.
	PublishTimeout time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.QoS == 0 {
		o.QoS = 1
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Actuator sends LED commands to the device on the command topic.
type Actuator struct {
	pub   Publisher
	topic string
}

// NewActuator returns an Actuator publishing on topic.
func NewActuator(pub Publisher, topic string) *Actuator {
	return &Actuator{pub: pub, topic: topic}
}

// Send publishes cmd as its literal payload ("ON" or "OFF").
func (a *Actuator) Send(cmd logic.Command) error {
	if err := a.pub.Publish(a.topic, []byte(cmd)); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}
