// Package stream turns a noisy byte source into decoded MIP frames.
//
// A Synchronizer owns one byte source. It reads into a buffer, feeds every byte
// to a Scanner, decodes each completed candidate, dispatches it against the
// schema catalog and calls the handler inline before reading again, so a slow
// handler stalls ingestion instead of dropping frames. Candidates that fail to
// decode are counted, logged and discarded.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/dispatch"
)

const (
	// DefaultReadBufferSize is the size of the read buffer.
	DefaultReadBufferSize = 512

	// DefaultMaxConsecutiveErrors is how many non-timeout read errors in a row
	// end the stream.
	DefaultMaxConsecutiveErrors = 10

	// DefaultRetryDelay is the pause after a failed read.
	DefaultRetryDelay = 100 * time.Millisecond
)

var (
	ErrTooManyReadErrors = errors.New("too many consecutive read errors")
	ErrAlreadyStarted    = errors.New("synchronizer already started")
)

// Handler receives each checksum-valid, structurally valid frame.
type Handler func(result *dispatch.Result)

// Config configures a Synchronizer.
type Config struct {
	// Dispatcher assembles results. Defaults to the built-in catalog.
	Dispatcher *dispatch.Dispatcher
	// ReadBufferSize is the size of each read. Default: 512.
	ReadBufferSize int
	// MaxConsecutiveErrors ends Run after that many non-timeout read errors
	// in a row. Default: 10. Negative retries forever.
	MaxConsecutiveErrors int
	// RetryDelay is the pause after a failed read. Default: 100ms.
	RetryDelay time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Synchronizer extracts frames from a byte source.
type Synchronizer struct {
	src        io.Reader
	handler    Handler
	cfg        Config
	log        *slog.Logger
	dispatcher *dispatch.Dispatcher
	scanner    *Scanner
	counters   Counters

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a Synchronizer reading from src. The Synchronizer owns src:
// Stop closes it if it implements io.Closer.
//
// A read that returns (0, nil), an error whose Timeout method reports true, or
// os.ErrDeadlineExceeded is treated as a timeout and retried. io.EOF ends the
// stream.
func New(src io.Reader, handler Handler, cfg Config) *Synchronizer {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(nil)
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Synchronizer{
		src:        src,
		handler:    handler,
		cfg:        cfg,
		log:        cfg.Logger.WithGroup("stream"),
		dispatcher: cfg.Dispatcher,
		scanner:    NewScanner(),
	}
}

// Run reads and decodes until ctx is cancelled, the source reports io.EOF, or
// read errors exceed the configured limit. Cancellation and EOF return nil.
// Run must not be called concurrently with itself or with Start.
func (s *Synchronizer) Run(ctx context.Context) error {
	buf := make([]byte, s.cfg.ReadBufferSize)
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := s.src.Read(buf)
		if n > 0 {
			s.counters.BytesRead.Add(uint64(n))
			s.feed(buf[:n])
		}

		switch {
		case err == nil:
			if n == 0 {
				s.counters.Timeouts.Add(1)
			}
			failures = 0

		case ctx.Err() != nil:
			return nil

		case isTimeout(err):
			s.counters.Timeouts.Add(1)
			failures = 0

		case errors.Is(err, io.EOF):
			s.log.Debug("byte source exhausted")
			return nil

		default:
			failures++
			s.counters.ReadErrors.Add(1)
			s.log.Error("read error", "error", err, "consecutive", failures)
			if s.cfg.MaxConsecutiveErrors > 0 && failures >= s.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %w", ErrTooManyReadErrors, err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
}

// Start runs the Synchronizer on its own goroutine.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		err := s.Run(runCtx)
		if err != nil {
			s.log.Warn("stream stopped", "error", err)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Stop cancels the read loop, closes the source if it is an io.Closer, and
// waits for the loop to exit. A source without read timeouts that is not
// closable keeps Stop waiting until its pending Read returns.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	var err error
	if c, ok := s.src.(io.Closer); ok {
		err = c.Close()
	}
	<-done
	return err
}

// Done is closed when a started Synchronizer's loop exits. It is nil before Start.
func (s *Synchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that ended a started loop, if any.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the stream counters.
func (s *Synchronizer) Stats() Stats {
	return s.counters.Snapshot()
}

func (s *Synchronizer) feed(data []byte) {
	for _, b := range data {
		if candidate, ok := s.scanner.Push(b); ok {
			s.handleCandidate(candidate)
		}
	}
}

func (s *Synchronizer) handleCandidate(candidate []byte) {
	frame, err := codec.DecodeFrame(candidate)
	if err != nil {
		if errors.Is(err, codec.ErrBadChecksum) {
			s.counters.ChecksumFailures.Add(1)
		} else {
			s.counters.StructuralFailures.Add(1)
		}
		s.log.Debug("dropping candidate frame", "error", err, "size", len(candidate))
		return
	}

	s.counters.FramesDecoded.Add(1)
	result := s.dispatcher.Dispatch(frame)
	if !result.Recognized {
		s.counters.Unrecognized.Add(1)
		s.log.Debug("unrecognized category", "category", fmt.Sprintf("%#02x", result.Category))
	}
	for _, slot := range result.Failed() {
		s.log.Debug("record decode failed", "record", slot.Layout.Name, "error", slot.Err)
	}

	if s.handler != nil {
		s.handler(result)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
