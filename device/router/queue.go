package router

import (
	"sync"

	"github.com/kabili207/mip-go/core/codec"
)

// DefaultRelayQueueSize is the default relay queue capacity.
const DefaultRelayQueueSize = 256

// RelayQueue is a bounded FIFO of frames waiting to be relayed. When full,
// the oldest frame is evicted so that relays always carry the most recent
// sensor data.
type RelayQueue struct {
	mu       sync.Mutex
	items    []*codec.RawFrame
	capacity int
}

// NewRelayQueue creates an empty relay queue. A non-positive capacity uses
// DefaultRelayQueueSize.
func NewRelayQueue(capacity int) *RelayQueue {
	if capacity <= 0 {
		capacity = DefaultRelayQueueSize
	}
	return &RelayQueue{capacity: capacity}
}

// Push appends a frame. It reports true if an older frame was evicted to
// make room.
func (q *RelayQueue) Push(frame *codec.RawFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		evicted = true
	}
	q.items = append(q.items, frame)
	return evicted
}

// Pop returns the oldest frame, or nil if the queue is empty.
func (q *RelayQueue) Pop() *codec.RawFrame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	frame := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return frame
}

// Len returns the number of queued frames.
func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
