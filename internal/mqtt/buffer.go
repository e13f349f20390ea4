package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineQueue holds messages published while the broker is unreachable.
// When full, the oldest message is dropped. Not safe for concurrent use.
type offlineQueue struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
}

func newOfflineQueue(capacity int) *offlineQueue {
	return &offlineQueue{capacity: capacity}
}

func (q *offlineQueue) push(msg bufferedMsg) {
	if len(q.msgs) == q.capacity {
		if q.dropped == 0 {
			log.Printf("mqtt: offline queue full (%d messages), dropping oldest", q.capacity)
		}
		q.dropped++
		q.msgs = append(q.msgs[:0], q.msgs[1:]...)
	}
	q.msgs = append(q.msgs, msg)
}

// drain returns queued messages oldest first and how many were dropped
// since the previous drain, then empties the queue.
func (q *offlineQueue) drain() ([]bufferedMsg, int) {
	if len(q.msgs) == 0 && q.dropped == 0 {
		return nil, 0
	}
	msgs, dropped := q.msgs, q.dropped
	q.msgs = nil
	q.dropped = 0
	return msgs, dropped
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}
