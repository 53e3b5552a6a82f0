package mqtt

import (
	"io"
	"sync"
	"time"
)

// chunkSource adapts a queue of byte chunks to io.Reader. A Read that finds no
// chunk within the poll interval returns (0, nil), the same way a serial port
// reports a read timeout.
type chunkSource struct {
	chunks  chan []byte
	pending []byte
	poll    time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newChunkSource(depth int, poll time.Duration) *chunkSource {
	return &chunkSource{
		chunks: make(chan []byte, depth),
		poll:   poll,
		closed: make(chan struct{}),
	}
}

// push queues chunk, blocking while the queue is full. It reports false once
// the source is closed.
func (c *chunkSource) push(chunk []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.chunks <- chunk:
		return true
	case <-c.closed:
		return false
	}
}

func (c *chunkSource) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		timer := time.NewTimer(c.poll)
		defer timer.Stop()

		select {
		case chunk := <-c.chunks:
			c.pending = chunk
		case <-c.closed:
			return 0, io.EOF
		case <-timer.C:
			return 0, nil
		}
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Close unblocks pending pushes and reads. Queued chunks are discarded.
func (c *chunkSource) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
