// Package mqtt provides an MQTT transport for MIP byte streams relayed by a
// network bridge.
//
// A bridge attached to the sensor publishes the raw serial bytes as
// base64-encoded chunks to "{prefix}/{device}/raw". Chunk boundaries carry no
// meaning: the chunks are concatenated in arrival order and fed to a
// stream.Synchronizer, so frames split across messages are recovered. Validated
// frames can be published back, byte-exact, to "{prefix}/{device}/frames".
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/stream"
	"github.com/kabili207/mip-go/transport"
)

// Compile-time interface checks.
var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Publisher = (*Transport)(nil)
)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "mip"

	// DefaultChunkBuffer is how many undecoded chunks may queue before the
	// subscription callback blocks.
	DefaultChunkBuffer = 64
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("not connected")

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Name identifies the transport. Defaults to "mqtt:" + DeviceID.
	Name string
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "mip").
	TopicPrefix string
	// DeviceID identifies the sensor. The transport subscribes to
	// "{TopicPrefix}/{DeviceID}/raw" and publishes to "{TopicPrefix}/{DeviceID}/frames".
	DeviceID string
	// ChunkBuffer is the chunk queue depth. Defaults to 64.
	ChunkBuffer int
	// Dispatcher assembles decoded frames. Defaults to the built-in catalog.
	Dispatcher *dispatch.Dispatcher
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg          Config
	client       paho.Client
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	source       *chunkSource
	reader       *stream.Synchronizer
	retired      stream.Stats // totals of streams that have ended
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ChunkBuffer <= 0 {
		cfg.ChunkBuffer = DefaultChunkBuffer
	}
	if cfg.Name == "" {
		cfg.Name = "mqtt:" + cfg.DeviceID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Start starts the decoding stream, connects to the MQTT broker and subscribes
// to the raw byte topic.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.DeviceID == "" {
		return errors.New("device ID is required")
	}

	if err := t.startStream(ctx); err != nil {
		return err
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "mip-" + randomString(16)
	}

	// Chunks are pieces of one byte stream, so they must be handled in order.
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		t.stopStream()
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		t.stopStream()
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop disconnects from the MQTT broker and ends the decoding stream.
func (t *Transport) Stop() error {
	t.mu.Lock()
	client := t.client
	t.connected = false
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(1000)
	}
	return t.stopStream()
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
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

// PublishFrame publishes the base64 encoding of frame to the frames topic.
func (t *Transport) PublishFrame(frame *codec.RawFrame) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	payload := base64.StdEncoding.EncodeToString(frame.Encode())

	token := t.client.Publish(t.framesTopic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (t *Transport) rawTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.DeviceID + "/raw"
}

func (t *Transport) framesTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.DeviceID + "/frames"
}

// startStream creates the chunk source and starts decoding it.
func (t *Transport) startStream(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reader != nil {
		return stream.ErrAlreadyStarted
	}

	source := newChunkSource(t.cfg.ChunkBuffer, stream.DefaultRetryDelay)
	reader := stream.New(source, t.handleResult, stream.Config{
		Dispatcher: t.cfg.Dispatcher,
		Logger:     t.cfg.Logger,
	})
	if err := reader.Start(ctx); err != nil {
		return err
	}

	t.source = source
	t.reader = reader
	return nil
}

func (t *Transport) stopStream() error {
	t.mu.Lock()
	reader := t.reader
	t.source = nil
	t.reader = nil
	t.mu.Unlock()

	if reader == nil {
		return nil
	}
	err := reader.Stop()

	t.mu.Lock()
	t.retired = t.retired.Add(reader.Stats())
	t.mu.Unlock()
	return err
}

func (t *Transport) subscribe() {
	topic := t.rawTopic()
	t.client.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed to raw topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.mu.RLock()
	source := t.source
	t.mu.RUnlock()

	if source == nil {
		return
	}

	chunk, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		t.log.Debug("failed to decode base64 payload", "topic", message.Topic(), "error", err)
		return
	}
	if len(chunk) == 0 {
		return
	}

	if !source.push(chunk) {
		t.log.Debug("dropping chunk after stream closed", "size", len(chunk))
	}
}

func (t *Transport) handleResult(result *dispatch.Result) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(result, transport.FrameSourceMQTT)
	}
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
