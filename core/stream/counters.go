package stream

import "sync/atomic"

// Counters tracks stream statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	BytesRead          atomic.Uint64 // Bytes returned by the source
	FramesDecoded      atomic.Uint64 // Candidates that passed checksum and structure checks
	ChecksumFailures   atomic.Uint64 // Candidates dropped on checksum mismatch
	StructuralFailures atomic.Uint64 // Candidates dropped on length/slicing errors
	Unrecognized       atomic.Uint64 // Decoded frames with an unknown category id
	Timeouts           atomic.Uint64 // Reads that timed out without data
	ReadErrors         atomic.Uint64 // Non-timeout read errors
}

// Stats is a plain-value copy of Counters for reading.
type Stats struct {
	BytesRead          uint64
	FramesDecoded      uint64
	ChecksumFailures   uint64
	StructuralFailures uint64
	Unrecognized       uint64
	Timeouts           uint64
	ReadErrors         uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() Stats {
	return Stats{
		BytesRead:          c.BytesRead.Load(),
		FramesDecoded:      c.FramesDecoded.Load(),
		ChecksumFailures:   c.ChecksumFailures.Load(),
		StructuralFailures: c.StructuralFailures.Load(),
		Unrecognized:       c.Unrecognized.Load(),
		Timeouts:           c.Timeouts.Load(),
		ReadErrors:         c.ReadErrors.Load(),
	}
}

// Dropped returns the number of candidates discarded for any reason.
func (s Stats) Dropped() uint64 {
	return s.ChecksumFailures + s.StructuralFailures
}

// Add returns the field-wise sum of s and o. Transports use it to carry
// totals across restarts of their stream.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		BytesRead:          s.BytesRead + o.BytesRead,
		FramesDecoded:      s.FramesDecoded + o.FramesDecoded,
		ChecksumFailures:   s.ChecksumFailures + o.ChecksumFailures,
		StructuralFailures: s.StructuralFailures + o.StructuralFailures,
		Unrecognized:       s.Unrecognized + o.Unrecognized,
		Timeouts:           s.Timeouts + o.Timeouts,
		ReadErrors:         s.ReadErrors + o.ReadErrors,
	}
}
