package mqtt

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/stream"
	"github.com/kabili207/mip-go/internal/fixture"
	"github.com/kabili207/mip-go/transport"
)

// fakeMessage is a paho.Message carrying a fixed payload.
type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func rawMessage(data []byte) *fakeMessage {
	return &fakeMessage{
		topic:   "mip/imu-1/raw",
		payload: []byte(base64.StdEncoding.EncodeToString(data)),
	}
}

func waitFrame(t *testing.T, received <-chan *dispatch.Result) *dispatch.Result {
	t.Helper()
	select {
	case r := <-received:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{
		Broker:   "tcp://localhost:1883",
		DeviceID: "imu-1",
	})

	if tr.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, tr.cfg.TopicPrefix)
	}
	if tr.cfg.ChunkBuffer != DefaultChunkBuffer {
		t.Errorf("expected default chunk buffer %d, got %d", DefaultChunkBuffer, tr.cfg.ChunkBuffer)
	}
	if tr.Name() != "mqtt:imu-1" {
		t.Errorf("unexpected default name %q", tr.Name())
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	tr := New(Config{
		Name:        "bridge",
		Broker:      "tcp://broker.example.com:1883",
		Username:    "user",
		Password:    "pass",
		TopicPrefix: "lab",
		DeviceID:    "gx5",
	})

	if tr.Name() != "bridge" {
		t.Errorf("expected name bridge, got %q", tr.Name())
	}
	if got := tr.rawTopic(); got != "lab/gx5/raw" {
		t.Errorf("rawTopic() = %q", got)
	}
	if got := tr.framesTopic(); got != "lab/gx5/frames" {
		t.Errorf("framesTopic() = %q", got)
	}
}

func TestStart_MissingBroker(t *testing.T) {
	tr := New(Config{DeviceID: "imu-1"})
	if err := tr.Start(context.Background()); err == nil {
		t.Error("expected error with empty broker")
	}
}

func TestStart_MissingDeviceID(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	if err := tr.Start(context.Background()); err == nil {
		t.Error("expected error with empty device id")
	}
}

func TestPublishFrame_NotConnected(t *testing.T) {
	tr := New(Config{
		Broker:   "tcp://localhost:1883",
		DeviceID: "imu-1",
	})

	frame, err := codec.DecodeFrame(fixture.IMUFrame())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	if err := tr.PublishFrame(frame); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestIsConnected_Default(t *testing.T) {
	tr := New(Config{
		Broker:   "tcp://localhost:1883",
		DeviceID: "imu-1",
	})
	if tr.IsConnected() {
		t.Error("expected not connected before Start")
	}
	if s := tr.Stats(); s != (stream.Stats{}) {
		t.Errorf("expected zero stats, got %+v", s)
	}
}

func TestHandleMessage_FrameSplitAcrossChunks(t *testing.T) {
	tr := New(Config{DeviceID: "imu-1"})

	received := make(chan *dispatch.Result, 4)
	tr.SetFrameHandler(func(r *dispatch.Result, source transport.FrameSource) {
		if source != transport.FrameSourceMQTT {
			t.Errorf("expected FrameSourceMQTT, got %v", source)
		}
		received <- r
	})

	if err := tr.startStream(context.Background()); err != nil {
		t.Fatalf("startStream: %v", err)
	}
	if err := tr.startStream(context.Background()); !errors.Is(err, stream.ErrAlreadyStarted) {
		t.Errorf("second startStream: got %v, want ErrAlreadyStarted", err)
	}

	frame := fixture.IMUFrame()
	tr.handleMessage(nil, rawMessage(append([]byte{0xFF, 0x00}, frame[:7]...)))
	tr.handleMessage(nil, &fakeMessage{topic: "mip/imu-1/raw", payload: []byte("not base64!")})
	tr.handleMessage(nil, rawMessage(frame[7:60]))
	tr.handleMessage(nil, rawMessage(nil))
	tr.handleMessage(nil, rawMessage(append(frame[60:], frame...)))

	for i := range 2 {
		r := waitFrame(t, received)
		if !bytes.Equal(r.Frame.Encode(), frame) {
			t.Errorf("frame %d does not re-encode to the fixture", i)
		}
		if !r.Recognized {
			t.Errorf("frame %d not recognized", i)
		}
	}

	if got := tr.Stats().FramesDecoded; got != 2 {
		t.Errorf("FramesDecoded = %d, want 2", got)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Messages after Stop are ignored.
	tr.handleMessage(nil, rawMessage(frame))
	if len(received) != 0 {
		t.Errorf("%d frames delivered after Stop", len(received))
	}
}

func TestStream_Restart(t *testing.T) {
	tr := New(Config{DeviceID: "imu-1"})
	received := make(chan *dispatch.Result, 1)
	tr.SetFrameHandler(func(r *dispatch.Result, _ transport.FrameSource) { received <- r })

	for i := range 2 {
		if err := tr.startStream(context.Background()); err != nil {
			t.Fatalf("startStream #%d: %v", i+1, err)
		}
		tr.handleMessage(nil, rawMessage(fixture.IMUFrame()))
		waitFrame(t, received)
		if err := tr.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}

	if got := tr.Stats().FramesDecoded; got != 2 {
		t.Errorf("FramesDecoded = %d, want 2 across both runs", got)
	}
}

func TestChunkSource_Read(t *testing.T) {
	src := newChunkSource(2, 10*time.Millisecond)

	// Empty queue times out without error.
	buf := make([]byte, 4)
	if n, err := src.Read(buf); n != 0 || err != nil {
		t.Fatalf("Read on empty queue = (%d, %v), want (0, nil)", n, err)
	}

	if !src.push([]byte{1, 2, 3, 4, 5, 6}) || !src.push([]byte{7}) {
		t.Fatal("push failed on open source")
	}

	for _, want := range [][]byte{{1, 2, 3, 4}, {5, 6}, {7}} {
		n, err := src.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Errorf("Read = %v, want %v", buf[:n], want)
		}
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if src.push([]byte{8}) {
		t.Error("push after Close should fail")
	}
	if _, err := src.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close = %v, want io.EOF", err)
	}
}

func TestChunkSource_CloseUnblocksPush(t *testing.T) {
	src := newChunkSource(1, time.Second)
	if !src.push([]byte{1}) {
		t.Fatal("push failed on open source")
	}

	result := make(chan bool)
	go func() { result <- src.push([]byte{2}) }()

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case ok := <-result:
		if ok {
			t.Error("blocked push should fail once closed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("push did not unblock on Close")
	}
}
