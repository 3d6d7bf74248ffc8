package mqtt

import (
	"sync"
	"time"
)

// Message is a payload recorded by FakeClient.
type Message struct {
	Topic   string
	Payload []byte
}

// FakeClient is an in-process stand-in for Client. It records publishes
// and lets tests inject inbound messages with Deliver.
type FakeClient struct {
	mu        sync.Mutex
	published []Message
	routes    map[string]MessageFunc
	connected bool
	pubErr    error

	// Now stamps delivered messages. Defaults to time.Now.
	Now func() time.Time
}

// NewFakeClient returns a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		routes:    make(map[string]MessageFunc),
		connected: true,
		Now:       time.Now,
	}
}

// Connect marks the fake as connected.
func (f *FakeClient) Connect() error {
	f.SetConnected(true)
	return nil
}

// Close marks the fake as disconnected.
func (f *FakeClient) Close() error {
	f.SetConnected(false)
	return nil
}

// Publish records the message, or returns the injected error.
func (f *FakeClient) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Handle registers fn for topic.
func (f *FakeClient) Handle(topic string, fn MessageFunc) {
	f.mu.Lock()
	f.routes[topic] = fn
	f.mu.Unlock()
}

// Deliver routes payload as if it had arrived on topic. It reports whether
// a handler was registered.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	fn, ok := f.routes[topic]
	now := f.Now
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(payload, now())
	return true
}

// Published returns a copy of every recorded message.
func (f *FakeClient) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.published))
	copy(out, f.published)
	return out
}

// PublishedOn returns the payloads recorded on topic, as strings.
func (f *FakeClient) PublishedOn(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

// SetConnected controls IsConnected.
func (f *FakeClient) SetConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// IsConnected reports the value set with SetConnected.
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// FailPublish makes every later Publish return err. nil restores success.
func (f *FakeClient) FailPublish(err error) {
	f.mu.Lock()
	f.pubErr = err
	f.mu.Unlock()
}

// Reset clears recorded messages and injected errors.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	f.published = nil
	f.pubErr = nil
	f.mu.Unlock()
}
