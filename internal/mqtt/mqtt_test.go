package mqtt

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// doneToken is a paho.Token that has already completed.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// stubPaho records the calls Client makes on the paho session.
type stubPaho struct {
	paho.Client

	mu         sync.Mutex
	open       bool
	published  []Message
	subscribed map[string]paho.MessageHandler
}

func newStubPaho(open bool) *stubPaho {
	return &stubPaho{open: open, subscribed: make(map[string]paho.MessageHandler)}
}

func (s *stubPaho) IsConnectionOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *stubPaho) setOpen(v bool) {
	s.mu.Lock()
	s.open = v
	s.mu.Unlock()
}

func (s *stubPaho) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, Message{Topic: topic, Payload: payload.([]byte)})
	return doneToken{}
}

func (s *stubPaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[topic] = cb
	return doneToken{}
}

func (s *stubPaho) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.published))
	for i, m := range s.published {
		out[i] = string(m.Payload)
	}
	return out
}

// stubMessage is an inbound paho.Message.
type stubMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m stubMessage) Topic() string   { return m.topic }
func (m stubMessage) Payload() []byte { return m.payload }

func TestClientPublishWhenConnected(t *testing.T) {
	stub := newStubPaho(true)
	c := newClient(stub, Options{})

	if err := c.Publish("grupo2/cmd/led", []byte("ON")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := stub.payloads(); !reflect.DeepEqual(got, []string{"ON"}) {
		t.Errorf("published: got %v, want [ON]", got)
	}
	if n := c.outbox.len(); n != 0 {
		t.Errorf("outbox: got %d, want 0", n)
	}
}

func TestClientBuffersWhileDisconnectedAndFlushesOnConnect(t *testing.T) {
	stub := newStubPaho(false)
	c := newClient(stub, Options{BufferSize: 2})

	for _, cmd := range []string{"ON", "OFF", "ON"} {
		if err := c.Publish("grupo2/cmd/led", []byte(cmd)); err != nil {
			t.Fatalf("publish %s: %v", cmd, err)
		}
	}
	if got := stub.payloads(); len(got) != 0 {
		t.Errorf("published while disconnected: %v", got)
	}
	if n := c.outbox.len(); n != 2 {
		t.Errorf("outbox: got %d, want 2", n)
	}

	stub.setOpen(true)
	c.onConnect()

	if got := stub.payloads(); !reflect.DeepEqual(got, []string{"OFF", "ON"}) {
		t.Errorf("published: got %v, want [OFF ON]", got)
	}
	if n := c.outbox.len(); n != 0 {
		t.Errorf("outbox: got %d, want 0", n)
	}
}

// paho reports the session open before its on-connect handler runs. A
// publish in that window must not overtake the buffered commands.
func TestClientPublishAfterReopenKeepsOrder(t *testing.T) {
	stub := newStubPaho(false)
	c := newClient(stub, Options{})

	c.Publish("grupo2/cmd/led", []byte("ON"))
	stub.setOpen(true)
	c.Publish("grupo2/cmd/led", []byte("OFF"))
	c.onConnect()

	got := stub.payloads()
	if !reflect.DeepEqual(got, []string{"ON", "OFF"}) {
		t.Fatalf("wire order: got %v, want [ON OFF]", got)
	}
	if last := got[len(got)-1]; last != "OFF" {
		t.Errorf("last command: got %s, want OFF", last)
	}
}

func TestClientSubscribesRoutesOnConnect(t *testing.T) {
	stub := newStubPaho(true)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newClient(stub, Options{Now: func() time.Time { return at }})

	var gotPayload string
	var gotAt time.Time
	c.Handle("grupo2/temperatura", func(p []byte, ts time.Time) {
		gotPayload = string(p)
		gotAt = ts
	})
	c.Handle("grupo2/led", func([]byte, time.Time) {})

	c.onConnect()

	if len(stub.subscribed) != 2 {
		t.Fatalf("subscriptions: got %d, want 2", len(stub.subscribed))
	}
	cb := stub.subscribed["grupo2/temperatura"]
	if cb == nil {
		t.Fatal("temperature topic not subscribed")
	}

	cb(stub, stubMessage{topic: "grupo2/temperatura", payload: []byte("23.4")})
	if gotPayload != "23.4" {
		t.Errorf("payload: got %q, want 23.4", gotPayload)
	}
	if !gotAt.Equal(at) {
		t.Errorf("arrival: got %v, want %v", gotAt, at)
	}
}

func TestClientDispatchIgnoresUnroutedTopic(t *testing.T) {
	stub := newStubPaho(true)
	c := newClient(stub, Options{})
	called := false
	c.Handle("a", func([]byte, time.Time) { called = true })

	c.dispatch(stub, stubMessage{topic: "b", payload: []byte("x")})
	if called {
		t.Error("handler for another topic was called")
	}
}

func TestClientIsConnected(t *testing.T) {
	stub := newStubPaho(false)
	c := newClient(stub, Options{})
	if c.IsConnected() {
		t.Error("expected disconnected")
	}
	stub.setOpen(true)
	if !c.IsConnected() {
		t.Error("expected connected")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.QoS != 1 {
		t.Errorf("QoS: got %d, want 1", o.QoS)
	}
	if o.BufferSize != 64 {
		t.Errorf("BufferSize: got %d, want 64", o.BufferSize)
	}
	if o.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout: got %v, want 10s", o.ConnectTimeout)
	}
	if o.PublishTimeout != 5*time.Second {
		t.Errorf("PublishTimeout: got %v, want 5s", o.PublishTimeout)
	}
	if o.Logger == nil || o.Now == nil {
		t.Error("expected Logger and Now to be set")
	}
}

func TestActuatorSend(t *testing.T) {
	f := NewFakeClient()
	a := NewActuator(f, "grupo2/cmd/led")

	if err := a.Send(logic.CommandOn); err != nil {
		t.Fatalf("send ON: %v", err)
	}
	if err := a.Send(logic.CommandOff); err != nil {
		t.Fatalf("send OFF: %v", err)
	}
	if got := f.PublishedOn("grupo2/cmd/led"); !reflect.DeepEqual(got, []string{"ON", "OFF"}) {
		t.Errorf("commands: got %v, want [ON OFF]", got)
	}
}

func TestActuatorSendError(t *testing.T) {
	f := NewFakeClient()
	boom := errors.New("boom")
	f.FailPublish(boom)

	err := NewActuator(f, "cmd").Send(logic.CommandOn)
	if !errors.Is(err, boom) {
		t.Fatalf("error: got %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "send ON") {
		t.Errorf("error message: got %q", err.Error())
	}
}

func TestFakeClientDeliver(t *testing.T) {
	f := NewFakeClient()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.Now = func() time.Time { return at }

	var got []string
	f.Handle("grupo2/led", func(p []byte, ts time.Time) {
		if !ts.Equal(at) {
			t.Errorf("arrival: got %v, want %v", ts, at)
		}
		got = append(got, string(p))
	})

	if !f.Deliver("grupo2/led", []byte("1")) {
		t.Error("expected routed delivery")
	}
	if f.Deliver("other", []byte("1")) {
		t.Error("expected unrouted topic to report false")
	}
	if !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("delivered: got %v, want [1]", got)
	}
}

func TestFakeClientRecordsAndResets(t *testing.T) {
	f := NewFakeClient()
	payload := []byte("ON")
	if err := f.Publish("t", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	payload[0] = 'X'

	msgs := f.Published()
	if len(msgs) != 1 || string(msgs[0].Payload) != "ON" {
		t.Fatalf("recorded: got %+v, want one copied ON payload", msgs)
	}

	f.FailPublish(errors.New("x"))
	if err := f.Publish("t", nil); err == nil {
		t.Error("expected injected error")
	}

	f.Reset()
	if got := f.Published(); len(got) != 0 {
		t.Errorf("after reset: got %d messages", len(got))
	}
	if err := f.Publish("t", nil); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

func TestFakeClientConnected(t *testing.T) {
	f := NewFakeClient()
	if !f.IsConnected() {
		t.Error("expected connected")
	}
	f.SetConnected(false)
	if f.IsConnected() {
		t.Error("expected disconnected")
	}
	f.Connect()
	if !f.IsConnected() {
		t.Error("expected connected after Connect")
	}
	f.Close()
	if f.IsConnected() {
		t.Error("expected disconnected after Close")
	}
}

func TestNewClientBoundsWriteTimeout(t *testing.T) {
	c := NewClient(Options{Broker: "tcp://localhost:1883", PublishTimeout: 3 * time.Second})

	r := c.client.OptionsReader()
	if got := r.WriteTimeout(); got != 3*time.Second {
		t.Errorf("write timeout: got %v, want 3s", got)
	}
}
