// Miiobridged is the bridge daemon for Xiaomi miio devices.
//
// It polls every configured device over the local encrypted UDP
// protocol, publishes the devices to Home Assistant via MQTT discovery,
// and serves a local HTTP API with status, control, Prometheus metrics
// and a websocket update stream.
//
// Usage:
//
//	miiobridged serve [flags]
//
// Devices are configured with the companion 'miiobridge' utility.
// See 'miiobridged serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/bridge"
	"github.com/muurk/miiobridge/internal/cloud"
	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/logging"
	"github.com/muurk/miiobridge/internal/miio"
	"github.com/muurk/miiobridge/internal/server"
	"github.com/muurk/miiobridge/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "miiobridged",
	Short: "Xiaomi miio Bridge Daemon",
	Long: `The bridge daemon for Xiaomi miio devices.

Polls configured devices over the local encrypted UDP protocol and
publishes them to Home Assistant through MQTT discovery. A local HTTP
API exposes device status, control endpoints, Prometheus metrics and a
websocket update stream.

Note: devices are configured with the separate 'miiobridge' utility.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	listenAddr string
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge daemon",
	Long: `Start the bridge daemon.

Every device in the configuration is polled on the configured interval.
When MQTT broker settings are present the devices are announced to Home
Assistant through MQTT discovery; without them only the HTTP API runs.

Device specs are read from the on-disk cache and fetched from the
public miot-spec registry on a cache miss.`,
	Example: `  # Start with settings from the configuration file
  miiobridged serve

  # Start on a custom listen address with debug logging
  miiobridged serve --listen 0.0.0.0:9810 --log-level debug`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP API listen address (overrides the configured value)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	defer logging.Sync()

	registry, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(registry.Entries) == 0 {
		return fmt.Errorf("no devices configured; run 'miiobridge' to add one")
	}

	prefs := registry.Preferences
	if prefs == nil {
		return fmt.Errorf("configuration has no preferences section")
	}

	addr := listenAddr
	if addr == "" {
		addr = prefs.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(&server.Config{Addr: addr})

	var br *bridge.Bridge
	if prefs.MQTT != nil {
		br, err = bridge.New(prefs.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		defer br.Close()
	} else {
		logging.Warn("No MQTT broker configured, running with HTTP API only")
	}

	started := 0
	for deviceID, entry := range registry.Entries {
		if err := startDevice(ctx, srv, br, prefs, deviceID, entry); err != nil {
			logging.Error("Skipping device",
				zap.String("device_id", deviceID),
				zap.String("model", entry.Model),
				zap.Error(err),
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no device could be started")
	}

	logging.Info("Bridge daemon running",
		zap.Int("devices", started),
		zap.String("listen_addr", addr),
		zap.Bool("mqtt", br != nil),
	)

	return srv.Run(ctx)
}

// startDevice wires one configured entry: protocol client, spec
// descriptors, entities, poll coordinator, HTTP registration and MQTT
// discovery.
func startDevice(ctx context.Context, srv *server.Server, br *bridge.Bridge, prefs *config.Preferences, deviceID string, entry *config.Entry) error {
	if entry.Model == "" {
		return fmt.Errorf("entry has no model; re-add the device")
	}

	specCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	raw, err := cloud.FetchSpec(specCtx, entry.Model, false)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching spec: %w", err)
	}
	coll, err := descriptor.ParseSpec(entry.Model, raw)
	if err != nil {
		return fmt.Errorf("parsing spec: %w", err)
	}
	if entry.UseGeneric {
		// Without a device type no composite platform matches and every
		// property becomes an individual entity.
		coll.DeviceType = ""
	}

	client, err := miio.NewClient(entry.Host, entry.Token)
	if err != nil {
		return err
	}
	device := miio.NewDevice(client, coll)
	entities := entity.Build(deviceID, coll)

	coord := coordinator.New(deviceID, entry.Model, device, coordinator.Config{
		Interval: time.Duration(prefs.PollInterval) * time.Second,
	})

	if err := srv.AddDevice(deviceID, entry.Name, entry.Host, entry.Model, entities, coord, device); err != nil {
		return err
	}

	if br != nil {
		meta := bridge.DeviceMeta{
			DeviceID: deviceID,
			Name:     entry.Name,
			Model:    entry.Model,
		}
		// Firmware version is presentation only; a device that does not
		// answer miIO.info still gets bridged.
		infoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if info, err := device.Info(infoCtx); err == nil {
			meta.FirmwareVersion = info.FirmwareVersion
		}
		cancel()

		if err := br.AddDevice(meta, entities, device, coord); err != nil {
			srv.RemoveDevice(deviceID)
			return fmt.Errorf("announcing over MQTT: %w", err)
		}
	}

	go coord.Run(ctx)
	return nil
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("miiobridged %s (commit: %s)\n", version.Version, version.Commit)
	},
}
