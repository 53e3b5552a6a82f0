package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/device/connection"
	"github.com/kabili207/mip-go/device/router"
	"github.com/kabili207/mip-go/internal/config"
	"github.com/kabili207/mip-go/transport"
	"github.com/kabili207/mip-go/transport/mqtt"
	"github.com/kabili207/mip-go/transport/serial"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream frames from every configured sensor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
		if err != nil {
			return err
		}
		disp, err := loadDispatcher(cfg.CatalogPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runStreams(ctx, cfg, disp, logger)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "mipstream.toml", "configuration file")
}

// buildRouter wires every configured transport and relay into a router.
func buildRouter(cfg config.Config, disp *dispatch.Dispatcher, logger *slog.Logger) (*router.Router, error) {
	if len(cfg.Serial) == 0 && len(cfg.MQTT) == 0 {
		return nil, errors.New("no serial or mqtt streams configured")
	}

	live := connection.NewManager(connection.ManagerConfig{
		FrameInterval:   cfg.FrameInterval,
		StaleMultiplier: cfg.StaleMultiplier,
		Logger:          logger,
	})

	r := router.New(router.Config{
		RelayCategories: cfg.Relay.Categories,
		RelayQueueSize:  cfg.Relay.QueueSize,
		Dedupe:          cfg.Dedupe,
		Liveness:        live,
		Logger:          logger,
	})

	for _, s := range cfg.Serial {
		err := r.AddTransport(serial.New(serial.Config{
			Name:        s.Name,
			Port:        s.Port,
			BaudRate:    s.BaudRate,
			ReadTimeout: s.ReadTimeout,
			Dispatcher:  disp,
			Logger:      logger,
		}))
		if err != nil {
			return nil, err
		}
	}

	for _, m := range cfg.MQTT {
		t := mqtt.New(mqtt.Config{
			Name:        m.Name,
			Broker:      m.Broker,
			Username:    m.Username,
			Password:    m.Password,
			UseTLS:      m.UseTLS,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			DeviceID:    m.DeviceID,
			Dispatcher:  disp,
			Logger:      logger,
		})
		if err := r.AddTransport(t); err != nil {
			return nil, err
		}
		if m.Relay {
			r.AddRelay(t.Name(), t)
		}
	}

	return r, nil
}

func runStreams(ctx context.Context, cfg config.Config, disp *dispatch.Dispatcher, logger *slog.Logger) error {
	r, err := buildRouter(cfg, disp, logger)
	if err != nil {
		return err
	}

	r.SetFrameHandler(func(result *dispatch.Result, from transport.Transport) {
		if !result.Recognized {
			logger.Debug("unrecognized frame", "transport", from.Name(), "category", fmt.Sprintf("%#02x", result.Category))
			return
		}
		for _, slot := range result.Slots {
			if !slot.Empty() {
				logger.Debug("record", "transport", from.Name(), "record", slot.Record.String())
			}
		}
	})

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, r, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("streaming", "transports", len(r.Transports()))
	return r.Run(ctx)
}

// serveMetrics exposes the router collector and Go runtime metrics on
// addr/metrics.
func serveMetrics(addr string, r *router.Router, logger *slog.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(router.NewCollector(r)); err != nil {
		return nil, fmt.Errorf("register router metrics: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register runtime metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv, nil
}
