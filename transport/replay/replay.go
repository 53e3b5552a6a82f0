// Package replay decodes recorded MIP byte captures through the same stream
// path as a live device.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/stream"
	"github.com/kabili207/mip-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// Config holds the configuration for a replay transport.
type Config struct {
	// Name identifies the transport. Defaults to "replay:" + Path.
	Name string
	// Path is the capture file to read. Ignored when Reader is set.
	Path string
	// Reader supplies the capture directly. It is closed on Stop if it
	// implements io.Closer.
	Reader io.Reader
	// Dispatcher assembles decoded frames. Defaults to the built-in catalog.
	Dispatcher *dispatch.Dispatcher
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport replays a capture. The stream ends at the end of the capture.
type Transport struct {
	cfg          Config
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	reader       *stream.Synchronizer
	done         chan struct{}
	retired      stream.Stats // totals of replays that have ended
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new replay transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Name == "" {
		cfg.Name = "replay:" + cfg.Path
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("replay"),
	}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Start opens the capture and begins decoding it. A finished or stopped
// replay can be started again; a Path capture is reread from the beginning.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.reader != nil {
		t.mu.Unlock()
		return stream.ErrAlreadyStarted
	}
	t.mu.Unlock()

	src := t.cfg.Reader
	if src == nil {
		if t.cfg.Path == "" {
			return errors.New("capture path is required")
		}
		f, err := os.Open(t.cfg.Path)
		if err != nil {
			return fmt.Errorf("opening capture: %w", err)
		}
		src = f
	}

	reader := stream.New(src, t.handleResult, stream.Config{
		Dispatcher: t.cfg.Dispatcher,
		Logger:     t.cfg.Logger,
	})
	if err := reader.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.reader = reader
	t.done = done
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("replaying capture", "name", t.cfg.Name)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	go t.watch(reader, src, done)
	return nil
}

// Stop ends the replay early and waits for decoding to finish.
func (t *Transport) Stop() error {
	t.mu.RLock()
	reader := t.reader
	done := t.done
	t.mu.RUnlock()

	if reader == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	err := reader.Stop()
	<-done
	return err
}

// Done is closed once the whole capture has been decoded or the replay was
// stopped. It is nil before Start.
func (t *Transport) Done() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// IsConnected returns true while the capture is being decoded.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for decoded frames.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// Stats returns the stream counters, accumulated over every Start. It is
// zero before the first Start.
func (t *Transport) Stats() stream.Stats {
	t.mu.RLock()
	reader := t.reader
	retired := t.retired
	t.mu.RUnlock()

	if reader == nil {
		return retired
	}
	return retired.Add(reader.Stats())
}

func (t *Transport) handleResult(result *dispatch.Result) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(result, transport.FrameSourceReplay)
	}
}

func (t *Transport) watch(reader *stream.Synchronizer, src io.Reader, done chan struct{}) {
	defer close(done)
	<-reader.Done()

	// Files are not closed by the stream at EOF.
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}

	stats := reader.Stats()

	t.mu.Lock()
	if t.reader == reader {
		t.retired = t.retired.Add(stats)
		t.reader = nil
	}
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("replay finished",
		"name", t.cfg.Name,
		"bytes", stats.BytesRead,
		"frames", stats.FramesDecoded,
		"dropped", stats.Dropped(),
	)

	if handler != nil {
		if reader.Err() != nil {
			handler(t, transport.EventError)
		}
		handler(t, transport.EventDisconnected)
	}
}
