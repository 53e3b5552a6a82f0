package router

import "sync/atomic"

// RouterCounters tracks frame routing statistics using atomic counters.
// All fields are safe for concurrent access.
type RouterCounters struct {
	FramesRecv   atomic.Uint64 // Frames received from all transports
	Duplicates   atomic.Uint64 // Frames dropped as already delivered
	Recognized   atomic.Uint64 // Frames whose category is in the catalog
	Unrecognized atomic.Uint64 // Frames with an unknown category id
	RecordErrors atomic.Uint64 // Known records whose fields failed to decode
	RelayQueued  atomic.Uint64 // Frames queued for relaying
	RelaySent    atomic.Uint64 // Frames published to relays
	RelayErrors  atomic.Uint64 // Failed relay publishes
	RelayDropped atomic.Uint64 // Frames evicted from a full relay queue
}

// CountersSnapshot is a plain-value copy of RouterCounters for reading.
type CountersSnapshot struct {
	FramesRecv   uint64
	Duplicates   uint64
	Recognized   uint64
	Unrecognized uint64
	RecordErrors uint64
	RelayQueued  uint64
	RelaySent    uint64
	RelayErrors  uint64
	RelayDropped uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *RouterCounters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		FramesRecv:   c.FramesRecv.Load(),
		Duplicates:   c.Duplicates.Load(),
		Recognized:   c.Recognized.Load(),
		Unrecognized: c.Unrecognized.Load(),
		RecordErrors: c.RecordErrors.Load(),
		RelayQueued:  c.RelayQueued.Load(),
		RelaySent:    c.RelaySent.Load(),
		RelayErrors:  c.RelayErrors.Load(),
		RelayDropped: c.RelayDropped.Load(),
	}
}

// Reset zeroes all counters.
func (c *RouterCounters) Reset() {
	c.FramesRecv.Store(0)
	c.Duplicates.Store(0)
	c.Recognized.Store(0)
	c.Unrecognized.Store(0)
	c.RecordErrors.Store(0)
	c.RelayQueued.Store(0)
	c.RelaySent.Store(0)
	c.RelayErrors.Store(0)
	c.RelayDropped.Store(0)
}
