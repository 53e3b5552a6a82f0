// Package router fans decoded MIP frames in from every transport and out to
// the application and to relays.
//
// The Router sits between transports (serial, MQTT, replay) and application
// logic. For every frame a transport delivers it:
//   - marks the originating stream live in the liveness manager, if any
//   - drops frames already delivered by another transport, if enabled
//   - counts the frame by outcome (recognized, unrecognized, record errors)
//   - calls the application frame handler synchronously
//   - queues the frame for relaying to publishers (e.g. an MQTT frames topic)
//
// Relays are drained on a separate goroutine so a slow broker never stalls a
// stream.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kabili207/mip-go/core/dedupe"
	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/device/connection"
	"github.com/kabili207/mip-go/transport"
)

// DefaultDrainInterval is the default interval for the relay drain loop.
const DefaultDrainInterval = 10 * time.Millisecond

var (
	// ErrNoTransports is returned by Run when no transport has been added.
	ErrNoTransports = errors.New("no transports registered")
	// ErrDuplicateTransport is returned by AddTransport for a name already
	// registered. Names key metrics and liveness.
	ErrDuplicateTransport = errors.New("duplicate transport name")
)

// FrameHandler is called by the router for every frame received from a
// transport, on that transport's stream goroutine.
type FrameHandler func(result *dispatch.Result, from transport.Transport)

// Config configures a Router.
type Config struct {
	// RelayCategories limits relaying to frames of these categories.
	// Empty relays every frame.
	RelayCategories []uint8

	// RelayQueueSize bounds the relay queue. Default: 256.
	RelayQueueSize int

	// DrainInterval is how often the relay drain loop checks for queued
	// frames. Default: 10ms.
	DrainInterval time.Duration

	// Dedupe drops byte-identical frames seen recently on any transport.
	// Enable it when one sensor is reachable over more than one path.
	Dedupe bool

	// Liveness, if set, tracks frame arrival per transport while Run is
	// active.
	Liveness *connection.Manager

	// Logger for routing events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Router routes frames from transports to the application and relays.
type Router struct {
	cfg      Config
	log      *slog.Logger
	queue    *RelayQueue
	counters RouterCounters
	relayCat map[uint8]bool
	dedup    *dedupe.FrameDeduplicator // nil when disabled

	mu         sync.RWMutex
	transports []transport.Transport
	relays     []relayEntry
	onFrame    FrameHandler
	onState    transport.StateHandler
}

type relayEntry struct {
	name      string
	publisher transport.Publisher
}

// New creates a Router with the given configuration.
func New(cfg Config) *Router {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var relayCat map[uint8]bool
	if len(cfg.RelayCategories) > 0 {
		relayCat = make(map[uint8]bool, len(cfg.RelayCategories))
		for _, c := range cfg.RelayCategories {
			relayCat[c] = true
		}
	}

	var dedup *dedupe.FrameDeduplicator
	if cfg.Dedupe {
		dedup = dedupe.New()
	}

	return &Router{
		cfg:      cfg,
		log:      logger.WithGroup("router"),
		queue:    NewRelayQueue(cfg.RelayQueueSize),
		relayCat: relayCat,
		dedup:    dedup,
	}
}

// SetFrameHandler sets the application callback for received frames.
func (r *Router) SetFrameHandler(fn FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = fn
}

// SetStateHandler sets the callback for state changes of any registered
// transport.
func (r *Router) SetStateHandler(fn transport.StateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// AddTransport registers a transport with the router. The router installs
// itself as the transport's frame and state handler. Transport names must be
// unique.
func (r *Router) AddTransport(t transport.Transport) error {
	r.mu.Lock()
	for _, existing := range r.transports {
		if existing.Name() == t.Name() {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateTransport, t.Name())
		}
	}
	r.transports = append(r.transports, t)
	r.mu.Unlock()

	t.SetFrameHandler(func(result *dispatch.Result, _ transport.FrameSource) {
		r.HandleFrame(t, result)
	})
	t.SetStateHandler(r.handleState)
	return nil
}

// AddRelay registers a publisher that receives every relayed frame.
func (r *Router) AddRelay(name string, p transport.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays = append(r.relays, relayEntry{name: name, publisher: p})
}

// Transports returns the registered transports.
func (r *Router) Transports() []transport.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.transports)
}

// Counters returns a snapshot of the routing counters.
func (r *Router) Counters() CountersSnapshot {
	return r.counters.Snapshot()
}

// QueueLen returns the number of frames waiting to be relayed.
func (r *Router) QueueLen() int {
	return r.queue.Len()
}

// HandleFrame is the routing entry point for a frame received from a
// transport.
func (r *Router) HandleFrame(from transport.Transport, result *dispatch.Result) {
	r.counters.FramesRecv.Add(1)

	if r.cfg.Liveness != nil {
		r.cfg.Liveness.Touch(from.Name())
	}

	if r.dedup != nil && result.Frame != nil && r.dedup.HasSeen(result.Frame) {
		r.counters.Duplicates.Add(1)
		return
	}

	if result.Recognized {
		r.counters.Recognized.Add(1)
	} else {
		r.counters.Unrecognized.Add(1)
	}
	if failed := result.Failed(); len(failed) > 0 {
		r.counters.RecordErrors.Add(uint64(len(failed)))
	}

	r.mu.RLock()
	handler := r.onFrame
	relaying := len(r.relays) > 0
	r.mu.RUnlock()

	if handler != nil {
		handler(result, from)
	}

	if relaying && r.shouldRelay(result) {
		r.counters.RelayQueued.Add(1)
		if r.queue.Push(result.Frame) {
			r.counters.RelayDropped.Add(1)
		}
	}
}

func (r *Router) shouldRelay(result *dispatch.Result) bool {
	if result.Frame == nil {
		return false
	}
	return r.relayCat == nil || r.relayCat[result.Category]
}

// Run starts every registered transport and the relay drain loop, and blocks
// until ctx is cancelled or a transport fails to start. All transports are
// stopped before Run returns. Cancellation returns nil.
func (r *Router) Run(ctx context.Context) error {
	entries := r.Transports()
	if len(entries) == 0 {
		return ErrNoTransports
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.drainLoop(gctx)
		return nil
	})

	if r.cfg.Liveness != nil {
		g.Go(func() error {
			r.cfg.Liveness.Start(gctx)
			return nil
		})
	}

	for _, t := range entries {
		g.Go(func() error {
			return r.runTransport(gctx, t)
		})
	}

	return g.Wait()
}

func (r *Router) runTransport(ctx context.Context, t transport.Transport) error {
	if r.cfg.Liveness != nil {
		r.cfg.Liveness.Register(t.Name())
		defer r.cfg.Liveness.Remove(t.Name())
	}

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("starting %s: %w", t.Name(), err)
	}
	r.log.Debug("transport started", "transport", t.Name())

	<-ctx.Done()

	if err := t.Stop(); err != nil {
		r.log.Warn("failed to stop transport", "transport", t.Name(), "error", err)
	}
	r.log.Debug("transport stopped", "transport", t.Name())
	return nil
}

// drainLoop pops queued frames and publishes them to every relay.
func (r *Router) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain()
		}
	}
}

func (r *Router) drain() {
	r.mu.RLock()
	relays := slices.Clone(r.relays)
	r.mu.RUnlock()

	for {
		frame := r.queue.Pop()
		if frame == nil {
			return
		}
		for _, relay := range relays {
			if err := relay.publisher.PublishFrame(frame); err != nil {
				r.counters.RelayErrors.Add(1)
				r.log.Warn("failed to relay frame", "relay", relay.name, "error", err)
				continue
			}
			r.counters.RelaySent.Add(1)
		}
	}
}

func (r *Router) handleState(t transport.Transport, event transport.Event) {
	switch event {
	case transport.EventError, transport.EventDisconnected:
		r.log.Warn("transport state changed", "transport", t.Name(), "event", event)
	default:
		r.log.Info("transport state changed", "transport", t.Name(), "event", event)
	}

	r.mu.RLock()
	handler := r.onState
	r.mu.RUnlock()

	if handler != nil {
		handler(t, event)
	}
}
