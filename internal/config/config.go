// Package config loads the mipstream TOML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned for configurations that parse but cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the resolved configuration.
type Config struct {
	LogLevel    slog.Level
	CatalogPath string
	MetricsAddr string

	// FrameInterval is the expected maximum gap between frames on a stream.
	FrameInterval time.Duration
	// StaleMultiplier scales FrameInterval into the stale threshold.
	StaleMultiplier float64

	// Dedupe drops frames already delivered by another transport.
	Dedupe bool

	Relay  RelayConfig
	Serial []SerialConfig
	MQTT   []MQTTConfig
}

// RelayConfig selects which frames are relayed to MQTT frames topics.
type RelayConfig struct {
	Categories []uint8
	QueueSize  int
}

// SerialConfig describes one serial-attached sensor.
type SerialConfig struct {
	Name        string
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// TransportName returns Name, or the serial transport's default name.
func (s SerialConfig) TransportName() string {
	if s.Name != "" {
		return s.Name
	}
	return "serial:" + s.Port
}

// MQTTConfig describes one sensor reached through an MQTT bridge.
type MQTTConfig struct {
	Name        string
	Broker      string
	Username    string
	Password    string
	UseTLS      bool
	ClientID    string
	TopicPrefix string
	DeviceID    string
	// Relay publishes validated frames from every stream to this bridge's
	// frames topic.
	Relay bool
}

// TransportName returns Name, or the MQTT transport's default name.
func (m MQTTConfig) TransportName() string {
	if m.Name != "" {
		return m.Name
	}
	return "mqtt:" + m.DeviceID
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		LogLevel:        slog.LevelInfo,
		FrameInterval:   time.Second,
		StaleMultiplier: 2.5,
	}
}

type fileConfig struct {
	LogLevel        string       `toml:"log_level"`
	Catalog         string       `toml:"catalog"`
	MetricsAddr     string       `toml:"metrics_addr"`
	FrameInterval   string       `toml:"frame_interval"`
	StaleMultiplier float64      `toml:"stale_multiplier"`
	Dedupe          bool         `toml:"dedupe"`
	Relay           fileRelay    `toml:"relay"`
	Serial          []fileSerial `toml:"serial"`
	MQTT            []fileMQTT   `toml:"mqtt"`
}

type fileRelay struct {
	Categories []int `toml:"categories"`
	QueueSize  int   `toml:"queue_size"`
}

type fileSerial struct {
	Name        string `toml:"name"`
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	ReadTimeout string `toml:"read_timeout"`
}

type fileMQTT struct {
	Name        string `toml:"name"`
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TLS         bool   `toml:"tls"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	Device      string `toml:"device"`
	Relay       bool   `toml:"relay"`
}

// Load reads and resolves the configuration file at path.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return resolve(raw, meta)
}

// Parse resolves configuration from TOML text.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return Config{}, fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
		}
	}

	cfg.CatalogPath = strings.TrimSpace(raw.Catalog)
	cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	cfg.Dedupe = raw.Dedupe

	if meta.IsDefined("frame_interval") {
		d, err := parseDuration("frame_interval", raw.FrameInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.FrameInterval = d
	}
	if meta.IsDefined("stale_multiplier") {
		if raw.StaleMultiplier <= 0 {
			return Config{}, fmt.Errorf("%w: stale_multiplier must be positive", ErrInvalidConfig)
		}
		cfg.StaleMultiplier = raw.StaleMultiplier
	}

	for _, c := range raw.Relay.Categories {
		if c < 0 || c > 0xFF {
			return Config{}, fmt.Errorf("%w: relay category %d out of range", ErrInvalidConfig, c)
		}
		cfg.Relay.Categories = append(cfg.Relay.Categories, uint8(c))
	}
	cfg.Relay.QueueSize = raw.Relay.QueueSize

	for i, s := range raw.Serial {
		sc := SerialConfig{
			Name:     strings.TrimSpace(s.Name),
			Port:     strings.TrimSpace(s.Port),
			BaudRate: s.Baud,
		}
		if sc.Port == "" {
			return Config{}, fmt.Errorf("%w: serial[%d]: port is required", ErrInvalidConfig, i)
		}
		if s.ReadTimeout != "" {
			d, err := parseDuration(fmt.Sprintf("serial[%d].read_timeout", i), s.ReadTimeout)
			if err != nil {
				return Config{}, err
			}
			sc.ReadTimeout = d
		}
		cfg.Serial = append(cfg.Serial, sc)
	}

	for i, m := range raw.MQTT {
		mc := MQTTConfig{
			Name:        strings.TrimSpace(m.Name),
			Broker:      strings.TrimSpace(m.Broker),
			Username:    m.Username,
			Password:    m.Password,
			UseTLS:      m.TLS,
			ClientID:    strings.TrimSpace(m.ClientID),
			TopicPrefix: strings.TrimSpace(m.TopicPrefix),
			DeviceID:    strings.TrimSpace(m.Device),
			Relay:       m.Relay,
		}
		if mc.Broker == "" || mc.DeviceID == "" {
			return Config{}, fmt.Errorf("%w: mqtt[%d]: broker and device are required", ErrInvalidConfig, i)
		}
		cfg.MQTT = append(cfg.MQTT, mc)
	}

	// Names key metrics and liveness, so they must be unique.
	seen := make(map[string]bool, len(cfg.Serial)+len(cfg.MQTT))
	names := make([]string, 0, len(cfg.Serial)+len(cfg.MQTT))
	for _, s := range cfg.Serial {
		names = append(names, s.TransportName())
	}
	for _, m := range cfg.MQTT {
		names = append(names, m.TransportName())
	}
	for _, name := range names {
		if seen[name] {
			return Config{}, fmt.Errorf("%w: duplicate stream name %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
	}
	return d, nil
}
