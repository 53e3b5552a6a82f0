// Package connection tracks whether each byte stream is still producing valid
// frames.
//
// A sensor that is unplugged, misconfigured to a different baud rate, or
// streaming garbage keeps its transport open but stops yielding frames. The
// Manager records when each stream last produced a frame and reports it stale
// once it has been quiet for FrameInterval × StaleMultiplier. A later frame
// marks the stream live again.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFrameInterval is the expected maximum gap between frames.
	DefaultFrameInterval = time.Second

	// DefaultStaleMultiplier is applied to FrameInterval to get the stale
	// threshold.
	DefaultStaleMultiplier = 2.5

	// checkInterval is the resolution of the manager's check loop.
	checkInterval = 250 * time.Millisecond
)

// StreamState tracks one stream's activity.
type StreamState struct {
	Name      string
	LastFrame time.Time
	Frames    uint64
	Stale     bool
}

// ManagerConfig configures a connection Manager.
type ManagerConfig struct {
	// FrameInterval is the expected maximum gap between frames.
	// Default: 1 second.
	FrameInterval time.Duration

	// StaleMultiplier is applied to FrameInterval to determine when a
	// stream is considered stale. Default: 2.5.
	StaleMultiplier float64

	// Logger for liveness events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Manager tracks stream liveness and detects silent streams.
type Manager struct {
	cfg       ManagerConfig
	log       *slog.Logger
	mu        sync.Mutex
	streams   map[string]*StreamState
	onStale   func(state StreamState)
	onRecover func(state StreamState)
	cancel    context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewManager creates a connection manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.StaleMultiplier <= 0 {
		cfg.StaleMultiplier = DefaultStaleMultiplier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     logger.WithGroup("connection"),
		streams: make(map[string]*StreamState),
		nowFn:   time.Now,
	}
}

// Timeout returns the silence after which a stream is reported stale.
func (m *Manager) Timeout() time.Duration {
	return time.Duration(float64(m.cfg.FrameInterval) * m.cfg.StaleMultiplier)
}

// SetOnStale sets the callback invoked when a stream goes quiet.
func (m *Manager) SetOnStale(fn func(state StreamState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStale = fn
}

// SetOnRecover sets the callback invoked when a stale stream produces a
// frame again.
func (m *Manager) SetOnRecover(fn func(state StreamState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecover = fn
}

// Register starts tracking a stream. The grace period before it can be
// reported stale starts now. Registering a tracked stream resets it.
func (m *Manager) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = &StreamState{
		Name:      name,
		LastFrame: m.nowFn(),
	}
}

// Touch records a valid frame from a stream. Does nothing if the stream is
// not tracked.
func (m *Manager) Touch(name string) {
	m.mu.Lock()
	s, ok := m.streams[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.LastFrame = m.nowFn()
	s.Frames++
	recovered := s.Stale
	s.Stale = false
	state := *s
	onRecover := m.onRecover
	m.mu.Unlock()

	if recovered {
		m.log.Info("stream recovered", "stream", name)
		if onRecover != nil {
			onRecover(state)
		}
	}
}

// Remove stops tracking a stream. No callback is fired.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, name)
}

// IsLive returns true if the stream is tracked and not stale.
func (m *Manager) IsLive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	return ok && !s.Stale
}

// State returns a copy of the stream's state.
func (m *Manager) State(name string) (StreamState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	if !ok {
		return StreamState{}, false
	}
	return *s, true
}

// LiveCount returns the number of tracked streams that are not stale.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if !s.Stale {
			n++
		}
	}
	return n
}

// CheckTimeouts marks streams that have been quiet past the timeout as stale.
// Each stream is reported once per silence.
func (m *Manager) CheckTimeouts() {
	m.mu.Lock()
	now := m.nowFn()
	timeout := m.Timeout()

	var stale []StreamState
	for _, s := range m.streams {
		if !s.Stale && now.Sub(s.LastFrame) > timeout {
			s.Stale = true
			stale = append(stale, *s)
		}
	}

	onStale := m.onStale
	m.mu.Unlock()

	// Fire callbacks outside the lock
	for _, s := range stale {
		m.log.Warn("stream stale", "stream", s.Name, "silent_for", now.Sub(s.LastFrame))
		if onStale != nil {
			onStale(s)
		}
	}
}

// Start runs the periodic check loop. Blocks until the context is cancelled
// or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckTimeouts()
		}
	}
}

// Stop cancels the manager's context, stopping the check loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
