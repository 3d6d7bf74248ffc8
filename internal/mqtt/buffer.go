package mqtt

import "go.uber.org/zap"

// pending is an outbound message held while the broker is unreachable.
type pending struct {
	topic   string
	payload []byte
}

// outbox keeps the most recent outbound messages while disconnected.
// When full, the oldest message is overwritten. Not safe for concurrent
// use; the client serializes access.
type outbox struct {
	slots   []pending
	next    int // slot the next add writes to
	size    int
	dropped int // messages overwritten since the last flush
	logger  *zap.Logger
}

func newOutbox(capacity int, logger *zap.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{slots: make([]pending, capacity), logger: logger}
}

func (o *outbox) add(msg pending) {
	if o.size == len(o.slots) {
		if o.dropped == 0 {
			o.logger.Warn("outbox full, overwriting oldest messages", zap.Int("capacity", len(o.slots)))
		}
		o.dropped++
	} else {
		o.size++
	}
	o.slots[o.next] = msg
	o.next = (o.next + 1) % len(o.slots)
}

// flush returns the held messages oldest first and empties the outbox.
func (o *outbox) flush() []pending {
	if o.size == 0 {
		return nil
	}
	out := make([]pending, 0, o.size)
	first := (o.next - o.size + len(o.slots)) % len(o.slots)
	for i := 0; i < o.size; i++ {
		out = append(out, o.slots[(first+i)%len(o.slots)])
	}
	if o.dropped > 0 {
		o.logger.Warn("outbox overflowed while disconnected", zap.Int("dropped", o.dropped))
	}
	o.next, o.size, o.dropped = 0, 0, 0
	return out
}

func (o *outbox) len() int {
	return o.size
}
