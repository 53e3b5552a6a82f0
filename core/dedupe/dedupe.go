// Package dedupe suppresses frames that arrive more than once.
//
// A sensor reachable over two paths (for example a direct serial link and an
// MQTT bridge) delivers every frame twice. Frames are identified by an 8-byte
// truncated SHA256 of their full encoding, checksum included, and remembered
// in a fixed-size circular table. Data frames carry device timestamps, so
// byte-identical frames within the table window are repeats of the same
// sample.
package dedupe

import (
	"crypto/sha256"
	"sync"

	"github.com/kabili207/mip-go/core/codec"
)

const (
	// DefaultMaxFrameHashes is the default capacity for the frame hash table.
	DefaultMaxFrameHashes = 128
	// FrameHashSize is the truncated SHA256 hash size.
	FrameHashSize = 8
)

// FrameDeduplicator tracks recently seen frames. It is safe for concurrent
// use.
type FrameDeduplicator struct {
	mu        sync.Mutex
	hashes    []byte // circular buffer of FrameHashSize-byte hashes
	used      int
	maxHashes int
	nextHash  int
}

// New creates a FrameDeduplicator with the default table size.
func New() *FrameDeduplicator {
	return NewWithCapacity(DefaultMaxFrameHashes)
}

// NewWithCapacity creates a FrameDeduplicator remembering maxHashes frames.
// A non-positive capacity uses DefaultMaxFrameHashes.
func NewWithCapacity(maxHashes int) *FrameDeduplicator {
	if maxHashes <= 0 {
		maxHashes = DefaultMaxFrameHashes
	}
	return &FrameDeduplicator{
		hashes:    make([]byte, maxHashes*FrameHashSize),
		maxHashes: maxHashes,
	}
}

// HasSeen checks if a frame has been seen before. If not, it records the
// frame and returns false. If it has been seen, it returns true.
func (d *FrameDeduplicator) HasSeen(frame *codec.RawFrame) bool {
	hash := CalculateFrameHash(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Only filled slots are compared, so an all-zero hash cannot match
	// an empty one.
	for i := range d.used {
		offset := i * FrameHashSize
		if [FrameHashSize]byte(d.hashes[offset:offset+FrameHashSize]) == hash {
			return true
		}
	}

	offset := d.nextHash * FrameHashSize
	copy(d.hashes[offset:offset+FrameHashSize], hash[:])
	d.nextHash = (d.nextHash + 1) % d.maxHashes
	if d.used < d.maxHashes {
		d.used++
	}
	return false
}

// Clear resets the deduplicator, forgetting all previously seen frames.
func (d *FrameDeduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.hashes)
	d.used = 0
	d.nextHash = 0
}

// CalculateFrameHash computes the 8-byte deduplication hash for a frame.
func CalculateFrameHash(frame *codec.RawFrame) [FrameHashSize]byte {
	sum := sha256.Sum256(frame.Encode())
	var result [FrameHashSize]byte
	copy(result[:], sum[:FrameHashSize])
	return result
}
