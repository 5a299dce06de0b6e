package mqtt

import "github.com/sweeney/lc-interface-test/internal/logger"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable and
// hands them back, oldest first, when the connection returns.
//
// Only the newest retained message per topic is kept, since the broker
// would overwrite the older ones on replay anyway. When full, QoS 0
// telemetry is evicted before anything else so run events survive a long
// outage. Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // a message was evicted since the last drain
	dropped  int
	log      *logger.Logger
}

func newOutbox(capacity int, log *logger.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		log:      logger.OrNop(log),
	}
}

// push queues msg behind everything already waiting.
func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		o.supersede(msg.topic)
	}
	if len(o.msgs) == o.capacity {
		o.evict()
	}
	o.msgs = append(o.msgs, msg)
}

// requeue puts msgs back in front of anything queued since they were
// drained, so a failed replay keeps its place. Retained messages that were
// superseded in the meantime are dropped.
func (o *outbox) requeue(msgs []bufferedMsg) {
	if len(msgs) == 0 {
		return
	}
	newer := make(map[string]bool)
	for _, m := range o.msgs {
		if m.retained {
			newer[m.topic] = true
		}
	}
	merged := make([]bufferedMsg, 0, len(msgs)+len(o.msgs))
	for _, m := range msgs {
		if m.retained && newer[m.topic] {
			continue
		}
		merged = append(merged, m)
	}
	merged = append(merged, o.msgs...)
	for len(merged) > o.capacity {
		merged = evictFrom(merged)
		o.noteDrop()
	}
	o.msgs = merged
}

// drain returns every queued message in publish order and empties the
// outbox. It returns nil when nothing is waiting.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}

func (o *outbox) supersede(topic string) {
	kept := o.msgs[:0]
	for _, m := range o.msgs {
		if m.retained && m.topic == topic {
			continue
		}
		kept = append(kept, m)
	}
	o.msgs = kept
}

func (o *outbox) evict() {
	if !o.overflow {
		victim := o.msgs[victimIndex(o.msgs)]
		o.log.Warnw("outbox full, dropping", "capacity", o.capacity, "topic", victim.topic, "qos", victim.qos)
	}
	o.msgs = evictFrom(o.msgs)
	o.noteDrop()
}

func (o *outbox) noteDrop() {
	o.overflow = true
	o.dropped++
}

// victimIndex picks the oldest QoS 0 message, or the oldest message when
// every one of them was sent at QoS 1 or above.
func victimIndex(msgs []bufferedMsg) int {
	for i, m := range msgs {
		if m.qos == 0 {
			return i
		}
	}
	return 0
}

func evictFrom(msgs []bufferedMsg) []bufferedMsg {
	i := victimIndex(msgs)
	return append(msgs[:i], msgs[i+1:]...)
}
