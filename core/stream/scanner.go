package stream

import (
	"github.com/kabili207/mip-go/core/codec"
)

// State is the Scanner's position within a frame.
type State int

const (
	StateAwaitSync0 State = iota
	StateAwaitSync1
	StateAwaitDescriptor
	StateAwaitLength
	StateAwaitBody
)

func (s State) String() string {
	switch s {
	case StateAwaitSync0:
		return "await-sync0"
	case StateAwaitSync1:
		return "await-sync1"
	case StateAwaitDescriptor:
		return "await-descriptor"
	case StateAwaitLength:
		return "await-length"
	case StateAwaitBody:
		return "await-body"
	default:
		return "unknown"
	}
}

// Scanner recovers candidate frame boundaries from a byte stream, one byte at a
// time. It never looks back: bytes consumed by an aborted or rejected candidate
// are not re-examined as a new sync sequence.
type Scanner struct {
	state     State
	remaining int
	buf       []byte
}

// NewScanner returns a Scanner waiting for the first sync byte.
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, codec.HeaderSize+1+codec.MaxPayloadLength+codec.ChecksumSize)}
}

// State returns the current scan state.
func (s *Scanner) State() State {
	return s.state
}

// Buffered returns the number of bytes held for the in-progress candidate.
func (s *Scanner) Buffered() int {
	if s.state == StateAwaitSync0 {
		return 0
	}
	return len(s.buf)
}

// Reset drops any partial candidate and waits for the first sync byte.
func (s *Scanner) Reset() {
	s.state = StateAwaitSync0
	s.remaining = 0
	s.buf = s.buf[:0]
}

// Push consumes one byte. When the byte completes a candidate frame, Push
// returns its bytes and true; the slice is only valid until the next call.
func (s *Scanner) Push(b byte) ([]byte, bool) {
	switch s.state {
	case StateAwaitSync0:
		s.buf = s.buf[:0]
		if b == codec.Sync0 {
			s.buf = append(s.buf, b)
			s.state = StateAwaitSync1
		}

	case StateAwaitSync1:
		if b != codec.Sync1 {
			s.Reset()
			return nil, false
		}
		s.buf = append(s.buf, b)
		s.state = StateAwaitDescriptor

	case StateAwaitDescriptor:
		s.buf = append(s.buf, b)
		s.state = StateAwaitLength

	case StateAwaitLength:
		s.buf = append(s.buf, b)
		// Body is L record bytes plus the checksum. The byte that finds
		// remaining at zero is the last one, so L+1 here covers L+2 bytes.
		s.remaining = int(b) + 1
		s.state = StateAwaitBody

	case StateAwaitBody:
		s.buf = append(s.buf, b)
		if s.remaining == 0 {
			s.state = StateAwaitSync0
			return s.buf, true
		}
		s.remaining--
	}
	return nil, false
}
