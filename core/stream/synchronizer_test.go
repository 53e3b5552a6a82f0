package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/internal/fixture"
)

// step is one scripted Read result.
type step struct {
	data []byte
	err  error
}

// scriptedSource replays steps, then reports io.EOF.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	st := s.steps[0]
	n := copy(p, st.data)
	if n < len(st.data) {
		s.steps[0].data = st.data[n:]
		return n, nil
	}
	s.steps = s.steps[1:]
	return n, st.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

// collect returns a handler that records results and a getter for them.
func collect() (Handler, func() []*dispatch.Result) {
	var mu sync.Mutex
	var results []*dispatch.Result
	return func(r *dispatch.Result) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, r)
		}, func() []*dispatch.Result {
			mu.Lock()
			defer mu.Unlock()
			return append([]*dispatch.Result(nil), results...)
		}
}

func TestRun_Resynchronizes(t *testing.T) {
	frame := fixture.IMUFrame()
	handler, results := collect()

	s := New(bytes.NewReader(append([]byte{0xFF}, frame...)), handler, Config{})
	require.NoError(t, s.Run(context.Background()))

	got := results()
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0].Frame.Encode())
	assert.Equal(t, uint8(0x80), got[0].Category)
	assert.Equal(t, len(fixture.IMUTypeIDs), got[0].Populated())

	stats := s.Stats()
	assert.Equal(t, uint64(len(frame)+1), stats.BytesRead)
	assert.Equal(t, uint64(1), stats.FramesDecoded)
	assert.Equal(t, uint64(0), stats.Dropped())
}

func TestRun_ByteAtATime(t *testing.T) {
	frame := fixture.IMUFrame()
	handler, results := collect()

	s := New(bytes.NewReader(append(frame, frame...)), handler, Config{ReadBufferSize: 1})
	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, results(), 2)
}

func TestRun_CorruptFrameDropped(t *testing.T) {
	frame := fixture.IMUFrame()
	corrupt := bytes.Clone(frame)
	corrupt[20] ^= 0x01

	handler, results := collect()
	data := append(append(corrupt, 0x00), frame...)

	s := New(bytes.NewReader(data), handler, Config{})
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, results(), 1)
	assert.Equal(t, frame, results()[0].Frame.Encode())
	assert.Equal(t, uint64(1), s.Stats().ChecksumFailures)
}

func TestRun_StructuralFailureDropped(t *testing.T) {
	// Checksum-valid candidate whose record overruns the payload.
	body := []byte{codec.Sync0, codec.Sync1, 0x80, 0x04, 0x08, 0x04, 0x01, 0x02}
	bad := append(body, codec.Fletcher8(body).Bytes()...)

	handler, results := collect()
	s := New(bytes.NewReader(append(bad, fixture.IMUFrame()...)), handler, Config{})
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, results(), 1)
	assert.Equal(t, uint64(1), s.Stats().StructuralFailures)
}

func TestRun_UnrecognizedCategoryReachesHandler(t *testing.T) {
	rec, err := codec.NewRawRecord(0x01, []byte{0xAA})
	require.NoError(t, err)
	frame, err := codec.NewRawFrame(0x42, rec)
	require.NoError(t, err)

	handler, results := collect()
	s := New(bytes.NewReader(frame.Encode()), handler, Config{})
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, results(), 1)
	assert.False(t, results()[0].Recognized)
	assert.ErrorIs(t, results()[0].Err(), dispatch.ErrUnrecognizedCategory)
	assert.Equal(t, uint64(1), s.Stats().Unrecognized)
}

func TestRun_TimeoutsAreRetried(t *testing.T) {
	frame := fixture.IMUFrame()
	src := &scriptedSource{steps: []step{
		{data: frame[:10]},
		{}, // (0, nil) from a serial port read timeout
		{err: timeoutErr{}},
		{err: os.ErrDeadlineExceeded},
		{data: frame[10:]},
	}}

	handler, results := collect()
	s := New(src, handler, Config{MaxConsecutiveErrors: 1})
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, results(), 1)
	assert.Equal(t, uint64(3), s.Stats().Timeouts)
	assert.Equal(t, uint64(0), s.Stats().ReadErrors)
}

func TestRun_TransientErrorsRecover(t *testing.T) {
	frame := fixture.IMUFrame()
	boom := errors.New("boom")
	src := &scriptedSource{steps: []step{
		{err: boom},
		{err: boom},
		{data: frame},
	}}

	handler, results := collect()
	s := New(src, handler, Config{MaxConsecutiveErrors: 3, RetryDelay: time.Millisecond})
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, results(), 1)
	assert.Equal(t, uint64(2), s.Stats().ReadErrors)
}

func TestRun_EscalatesAfterConsecutiveErrors(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedSource{steps: []step{{err: boom}, {err: boom}, {err: boom}}}

	s := New(src, nil, Config{MaxConsecutiveErrors: 3, RetryDelay: time.Millisecond})
	err := s.Run(context.Background())

	assert.ErrorIs(t, err, ErrTooManyReadErrors)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(3), s.Stats().ReadErrors)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{steps: []step{{data: fixture.IMUFrame()}}}
	handler, results := collect()
	s := New(src, handler, Config{})

	require.NoError(t, s.Run(ctx))
	assert.Empty(t, results())
	assert.Equal(t, uint64(0), s.Stats().BytesRead)
}

func TestStartStop_ClosesSource(t *testing.T) {
	pr, pw := io.Pipe()
	received := make(chan *dispatch.Result, 1)

	s := New(pr, func(r *dispatch.Result) { received <- r }, Config{})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	go func() {
		_, _ = pw.Write(fixture.IMUFrame())
	}()

	select {
	case r := <-received:
		assert.Equal(t, uint8(0x80), r.Category)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	require.NoError(t, s.Stop())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	assert.NoError(t, s.Err())
}

func TestStart_EndsAtEOF(t *testing.T) {
	s := New(bytes.NewReader(fixture.IMUFrame()), nil, Config{})
	assert.Nil(t, s.Done())

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("synchronizer did not finish at EOF")
	}
	assert.NoError(t, s.Err())
	assert.Equal(t, uint64(1), s.Stats().FramesDecoded)
	assert.NoError(t, s.Stop())
}

func TestStop_NotStarted(t *testing.T) {
	s := New(bytes.NewReader(nil), nil, Config{})
	assert.NoError(t, s.Stop())
}

func TestNew_Defaults(t *testing.T) {
	s := New(bytes.NewReader(nil), nil, Config{})
	assert.Equal(t, DefaultReadBufferSize, s.cfg.ReadBufferSize)
	assert.Equal(t, DefaultMaxConsecutiveErrors, s.cfg.MaxConsecutiveErrors)
	assert.Equal(t, DefaultRetryDelay, s.cfg.RetryDelay)
	assert.NotNil(t, s.dispatcher)
	assert.NotNil(t, s.log)
}
