package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client is a paho-backed MQTT session. Subscriptions registered with
// Handle are (re)established on every connect, and publishes made while
// disconnected are held in an outbox and flushed on reconnect.
type Client struct {
	client paho.Client
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	routes map[string]MessageFunc
	outbox *outbox
}

// NewClient builds a client for opts.Broker. It does not connect.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	c := newClient(nil, opts)

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWriteTimeout(opts.PublishTimeout).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("broker connection lost", zap.Error(err))
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			c.logger.Info("reconnecting to broker")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	return c
}

func newClient(pc paho.Client, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		client: pc,
		opts:   opts,
		logger: opts.Logger,
		routes: make(map[string]MessageFunc),
		outbox: newOutbox(opts.BufferSize, opts.Logger),
	}
}

// Handle registers fn for topic. Call before Connect; later registrations
// take effect on the next (re)connect.
func (c *Client) Handle(topic string, fn MessageFunc) {
	c.mu.Lock()
	c.routes[topic] = fn
	c.mu.Unlock()
}

// Connect starts the session. A broker that is unreachable within
// ConnectTimeout is not an error: paho keeps retrying and publishes are
// buffered until it succeeds.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.opts.ConnectTimeout) {
		c.logger.Warn("broker not reachable yet, retrying in background",
			zap.String("broker", c.opts.Broker))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// IsConnected reports whether the session is currently open.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends payload on topic at the configured QoS without waiting
// for the broker acknowledgement. While disconnected the message goes to
// the outbox. Buffered messages always reach the wire before a newer one,
// even when the session reopens before the on-connect handler has run.
// Handing the message to paho is bounded by PublishTimeout.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		c.outbox.add(pending{topic: topic, payload: payload})
		return nil
	}
	c.flushLocked()
	c.publishLocked(topic, payload)
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(1000)
	return nil
}

func (c *Client) publishLocked(topic string, payload []byte) {
	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	go c.await(token, "publish", topic)
}

func (c *Client) await(token paho.Token, op, topic string) {
	if !token.WaitTimeout(c.opts.PublishTimeout) {
		c.logger.Warn(op+" timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Warn(op+" failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Client) onConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("connected to broker", zap.String("broker", c.opts.Broker))
	for topic := range c.routes {
		token := c.client.Subscribe(topic, c.opts.QoS, c.dispatch)
		go c.await(token, "subscribe", topic)
	}

	c.flushLocked()
}

func (c *Client) flushLocked() {
	msgs := c.outbox.flush()
	if len(msgs) == 0 {
		return
	}
	c.logger.Info("flushing outbox", zap.Int("messages", len(msgs)))
	for _, m := range msgs {
		c.publishLocked(m.topic, m.payload)
	}
}

// dispatch stamps the arrival time and hands the payload to the route
// registered for the message topic.
func (c *Client) dispatch(_ paho.Client, msg paho.Message) {
	at := c.opts.Now()

	c.mu.Lock()
	fn, ok := c.routes[msg.Topic()]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("message on unrouted topic", zap.String("topic", msg.Topic()))
		return
	}
	fn(msg.Payload(), at)
}
