package mqtt

import (
	"testing"

	"go.uber.org/zap"
)

func TestOutboxEmptyFlush(t *testing.T) {
	o := newOutbox(10, zap.NewNop())
	if got := o.flush(); got != nil {
		t.Errorf("expected nil from empty flush, got %d items", len(got))
	}
}

func TestOutboxAddAndFlush(t *testing.T) {
	o := newOutbox(10, zap.NewNop())
	for i := 0; i < 5; i++ {
		o.add(pending{topic: "t", payload: []byte{byte(i)}})
	}

	got := o.flush()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}

	if again := o.flush(); again != nil {
		t.Errorf("expected nil from second flush, got %d items", len(again))
	}
}

func TestOutboxOverflowKeepsNewest(t *testing.T) {
	o := newOutbox(3, zap.NewNop())
	for _, cmd := range []string{"ON", "OFF", "ON", "OFF", "ON"} {
		o.add(pending{topic: "grupo2/cmd/led", payload: []byte(cmd)})
	}

	got := o.flush()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	want := []string{"ON", "OFF", "ON"}
	for i := range want {
		if string(got[i].payload) != want[i] {
			t.Errorf("item %d: got %s, want %s", i, got[i].payload, want[i])
		}
	}
	if string(got[len(got)-1].payload) != "ON" {
		t.Errorf("last command must survive overflow, got %s", got[len(got)-1].payload)
	}
}

func TestOutboxReuseAfterFlush(t *testing.T) {
	o := newOutbox(4, zap.NewNop())
	for i := 0; i < 3; i++ {
		o.add(pending{topic: "t", payload: []byte{byte(i)}})
	}
	o.flush()

	for i := 10; i < 14; i++ {
		o.add(pending{topic: "t", payload: []byte{byte(i)}})
	}
	got := o.flush()
	if len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
	for i, msg := range got {
		if msg.payload[0] != byte(10+i) {
			t.Errorf("item %d: got %d, want %d", i, msg.payload[0], 10+i)
		}
	}
}

func TestOutboxLen(t *testing.T) {
	o := newOutbox(2, zap.NewNop())
	if o.len() != 0 {
		t.Errorf("expected len 0, got %d", o.len())
	}
	o.add(pending{topic: "t"})
	o.add(pending{topic: "t"})
	o.add(pending{topic: "t"})
	if o.len() != 2 {
		t.Errorf("expected len capped at 2, got %d", o.len())
	}
	o.flush()
	if o.len() != 0 {
		t.Errorf("expected len 0 after flush, got %d", o.len())
	}
}

func TestOutboxMinimumCapacity(t *testing.T) {
	o := newOutbox(0, zap.NewNop())
	o.add(pending{topic: "a"})
	o.add(pending{topic: "b"})
	got := o.flush()
	if len(got) != 1 || got[0].topic != "b" {
		t.Errorf("expected only newest message, got %+v", got)
	}
}
