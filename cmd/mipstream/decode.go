package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/device/router"
	"github.com/kabili207/mip-go/transport"
	"github.com/kabili207/mip-go/transport/replay"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Decode a recorded byte capture and print every frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr(), slog.LevelWarn)
		if err != nil {
			return err
		}
		disp, err := loadDispatcher("")
		if err != nil {
			return err
		}
		return decodeCapture(cmd.Context(), cmd.OutOrStdout(), args[0], disp, logger)
	},
}

// decodeCapture replays the capture at path through a router and writes one
// block per frame to out.
func decodeCapture(ctx context.Context, out io.Writer, path string, disp *dispatch.Dispatcher, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rp := replay.New(replay.Config{Path: path, Dispatcher: disp, Logger: logger})
	r := router.New(router.Config{Logger: logger})
	if err := r.AddTransport(rp); err != nil {
		return err
	}

	r.SetFrameHandler(func(result *dispatch.Result, _ transport.Transport) {
		writeResult(out, result)
	})
	r.SetStateHandler(func(_ transport.Transport, event transport.Event) {
		if event == transport.EventDisconnected {
			cancel()
		}
	})

	if err := r.Run(ctx); err != nil {
		return err
	}

	stats := rp.Stats()
	counters := r.Counters()
	fmt.Fprintf(out, "%d bytes, %d frames (%d unrecognized), %d dropped (%d checksum, %d structure)\n",
		stats.BytesRead, counters.FramesRecv, counters.Unrecognized,
		stats.Dropped(), stats.ChecksumFailures, stats.StructuralFailures)
	return nil
}

// writeResult prints a frame header line followed by one line per record.
func writeResult(out io.Writer, result *dispatch.Result) {
	if !result.Recognized {
		n := 0
		if result.Frame != nil {
			n = len(result.Frame.Payload.Records)
		}
		fmt.Fprintf(out, "unrecognized category %#02x (%d records)\n", result.Category, n)
		return
	}

	fmt.Fprintf(out, "%s %#02x: %d records\n", result.Name, result.Category, result.Populated())
	for _, slot := range result.Slots {
		switch {
		case slot.Err != nil:
			fmt.Fprintf(out, "  %s: %v\n", slot.Layout.Name, slot.Err)
		case !slot.Empty():
			fmt.Fprintf(out, "  %s\n", slot.Record)
		}
	}
	if len(result.Unknown) > 0 {
		ids := make([]string, len(result.Unknown))
		for i, id := range result.Unknown {
			ids[i] = fmt.Sprintf("%#02x", id)
		}
		fmt.Fprintf(out, "  unknown types: %s\n", strings.Join(ids, " "))
	}
}
