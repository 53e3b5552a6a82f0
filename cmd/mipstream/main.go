// Command mipstream reads MIP sensor streams from serial ports, MQTT bridges
// or capture files and decodes them against the record catalog.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/schema"
)

var (
	logLevel    string
	catalogPath string
)

var rootCmd = &cobra.Command{
	Use:           "mipstream",
	Short:         "Decode MIP inertial sensor streams",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "record catalog TOML file; overrides the config file")
	rootCmd.AddCommand(runCmd, decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mipstream:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. The --log-level flag wins over level.
func newLogger(w io.Writer, level slog.Level) (*slog.Logger, error) {
	if logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// loadDispatcher returns a dispatcher over the catalog at path, or over the
// built-in catalog when path is empty. The --catalog flag wins over path.
func loadDispatcher(path string) (*dispatch.Dispatcher, error) {
	if catalogPath != "" {
		path = catalogPath
	}
	if path == "" {
		return dispatch.New(nil), nil
	}
	cat, err := schema.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return dispatch.New(cat), nil
}
