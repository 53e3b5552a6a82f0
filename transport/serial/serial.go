// Package serial provides a serial transport for reading MIP frames from an
// inertial sensor.
//
// The port is opened with a short read timeout and handed to a
// stream.Synchronizer, which recovers frame boundaries from the raw bytes. The
// transport only reads: commands to the device are not sent.
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/stream"
	"github.com/kabili207/mip-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the factory baud rate of MIP devices.
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds each read so the stream loop can observe
	// cancellation.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Name identifies the transport. Defaults to "serial:" + Port.
	Name string
	// Port is the serial port path (e.g., "/dev/ttyACM0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// ReadTimeout is the per-read timeout. Defaults to 100ms.
	ReadTimeout time.Duration
	// Dispatcher assembles decoded frames. Defaults to the built-in catalog.
	Dispatcher *dispatch.Dispatcher
	// MaxConsecutiveErrors is passed to the stream. Zero uses the stream default.
	MaxConsecutiveErrors int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// OpenFunc opens a serial port. serial.Open satisfies it.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	cfg          Config
	open         OpenFunc
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	stopping     bool
	reader       *stream.Synchronizer
	watchDone    chan struct{}
	retired      stream.Stats // totals of streams that have ended
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "serial:" + cfg.Port
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:  cfg,
		open: serial.Open,
		log:  cfg.Logger.WithGroup("serial"),
	}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Start opens the serial port and begins decoding frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	t.mu.Lock()
	if t.reader != nil {
		t.mu.Unlock()
		return stream.ErrAlreadyStarted
	}
	t.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := t.open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}

	reader := stream.New(port, t.handleResult, stream.Config{
		Dispatcher:           t.cfg.Dispatcher,
		MaxConsecutiveErrors: t.cfg.MaxConsecutiveErrors,
		Logger:               t.cfg.Logger,
	})

	if err := reader.Start(ctx); err != nil {
		_ = port.Close()
		return err
	}

	t.mu.Lock()
	t.reader = reader
	t.connected = true
	t.stopping = false
	t.watchDone = make(chan struct{})
	watchDone := t.watchDone
	handler := t.stateHandler
	t.mu.Unlock()

	go t.watch(reader, watchDone)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and waits for the stream to finish. The
// transport can be started again afterwards.
func (t *Transport) Stop() error {
	t.mu.Lock()
	reader := t.reader
	watchDone := t.watchDone
	handler := t.stateHandler
	t.stopping = true
	t.mu.Unlock()

	if reader == nil {
		return nil
	}

	err := reader.Stop()
	<-watchDone

	t.mu.Lock()
	t.retire(reader)
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if wasConnected && handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
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

// retire folds a finished stream into the totals and clears it so the
// transport can be started again. Callers hold t.mu.
func (t *Transport) retire(reader *stream.Synchronizer) {
	if t.reader != reader {
		return
	}
	t.retired = t.retired.Add(reader.Stats())
	t.reader = nil
	t.watchDone = nil
}

func (t *Transport) handleResult(result *dispatch.Result) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(result, transport.FrameSourceSerial)
	}
}

// watch reports a disconnect when the stream ends on its own.
func (t *Transport) watch(reader *stream.Synchronizer, watchDone chan struct{}) {
	defer close(watchDone)
	<-reader.Done()

	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return
	}
	t.retire(reader)
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	// Release the port so a later Start can reopen it.
	_ = reader.Stop()

	err := reader.Err()
	if err != nil {
		t.log.Error("serial disconnected", "port", t.cfg.Port, "error", err)
	} else {
		t.log.Info("serial stream ended", "port", t.cfg.Port)
	}

	if handler != nil {
		if err != nil {
			handler(t, transport.EventError)
		}
		handler(t, transport.EventDisconnected)
	}
}
