package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/miiobridge/internal/cloud"
	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/discovery"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/miio"
)

// Command flags
var (
	scanTimeout   int
	deviceName    string
	deviceModel   string
	cloudUsername string
	cloudRegion   string
	refreshSpec   bool
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(cloudCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(actionCmd)
}

// scanCmd discovers devices on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for miio devices on the network",
	Long: `Scan for miio devices using mDNS browsing and hello broadcast.

mDNS reveals the device model and ID for devices that announce the
_miio._udp service; the hello broadcast additionally finds devices that
answer the protocol handshake but do not announce themselves. Neither
method reveals device tokens.`,
	Example: `  # Scan for 10 seconds (default)
  miiobridge scan

  # Quick 3-second scan
  miiobridge scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for miio devices (timeout: %ds)...\n\n", scanTimeout)

	timeout := time.Duration(scanTimeout) * time.Second
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
	defer cancel()

	scanner := discovery.NewScanner()
	scanner.Timeout = timeout
	devices, mdnsErr := scanner.ScanForDevicesWithContext(ctx)

	prober := discovery.NewProber()
	prober.Timeout = timeout
	probed, probeErr := prober.Probe(ctx)
	if mdnsErr != nil && probeErr != nil {
		return fmt.Errorf("scan failed: %w", mdnsErr)
	}

	seen := make(map[string]bool, len(devices))
	for _, dev := range devices {
		seen[dev.DeviceID] = true
	}
	for _, dev := range probed {
		if !seen[dev.DeviceID] {
			devices = append(devices, dev)
			seen[dev.DeviceID] = true
		}
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure devices are powered on and on the same network segment")
		fmt.Println("  - Multicast and broadcast do not cross most VLAN boundaries")
		fmt.Println("  - Provisioned devices may stop announcing; use 'miiobridge cloud devices'")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))

	registry, _ := config.LoadRegistry()
	for i, device := range devices {
		model := device.Model
		if model == "" {
			model = "unknown model"
		}
		configured := ""
		if registry != nil && registry.GetEntry(device.DeviceID) != nil {
			configured = " (configured)"
			registry.UpdateLastSeen(device.DeviceID, device.IP)
		}
		fmt.Printf("%d. %s%s\n", i+1, model, configured)
		fmt.Printf("   Device ID: %s\n", device.DeviceID)
		fmt.Printf("   IP:        %s\n", device.IP)
		fmt.Printf("   Found via: %s\n", device.Source)
		fmt.Println()
	}

	fmt.Println("Use 'miiobridge devices add <host> <token>' to configure a device")
	fmt.Println("Use 'miiobridge' for the interactive wizard")

	return nil
}

// devicesCmd groups the registry management commands
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage configured devices",
}

func init() {
	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesAddCmd)
	devicesCmd.AddCommand(devicesRemoveCmd)
	devicesCmd.AddCommand(devicesRenameCmd)

	devicesAddCmd.Flags().StringVar(&deviceName, "name", "", "Friendly name for the device")
	devicesAddCmd.Flags().StringVar(&deviceModel, "model", "", "Device model (detected automatically if omitted)")
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if len(registry.Entries) == 0 {
			fmt.Println("No devices configured. Run 'miiobridge' to add one.")
			return nil
		}

		ids := make([]string, 0, len(registry.Entries))
		for id := range registry.Entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			entry := registry.Entries[id]
			fmt.Printf("%s\n", entry.Name)
			fmt.Printf("   Device ID: %s\n", id)
			fmt.Printf("   Model:     %s\n", entry.Model)
			fmt.Printf("   Host:      %s\n", entry.Host)
			if !entry.LastSeen.IsZero() {
				fmt.Printf("   Last seen: %s\n", entry.LastSeen.Format(time.RFC3339))
			}
			fmt.Println()
		}
		return nil
	},
}

var devicesAddCmd = &cobra.Command{
	Use:   "add <host> <token>",
	Short: "Add a device by host and token",
	Long: `Add a device to the configuration.

The command connects to the device, verifies the token with a handshake
and a miIO.info call, detects the model, and saves the entry under the
device ID the handshake reveals.`,
	Example: `  miiobridge devices add 192.168.1.42 00112233445566778899aabbccddeeff
  miiobridge devices add 192.168.1.42 00112233445566778899aabbccddeeff --name "Living room purifier"`,
	Args: cobra.ExactArgs(2),
	RunE: runDevicesAdd,
}

func runDevicesAdd(cmd *cobra.Command, args []string) error {
	host, token := args[0], args[1]

	registry, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	client, err := miio.NewClient(host, token)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Connecting to %s...\n", host)
	if err := client.Handshake(ctx); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	deviceID := strconv.FormatUint(uint64(client.DeviceID()), 10)

	model := deviceModel
	info, err := miio.NewDevice(client, nil).Info(ctx)
	switch {
	case err == nil:
		model = info.Model
	case miio.IsChecksum(err):
		return fmt.Errorf("the device rejected the token; check it was copied correctly: %w", err)
	case model == "":
		return fmt.Errorf("reading device info failed and no --model given: %w", err)
	}

	entry := &config.Entry{
		Name:  deviceName,
		Host:  host,
		Token: token,
		Model: model,
	}
	if err := registry.SetEntry(deviceID, entry); err != nil {
		return err
	}
	if err := registry.Save(); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}

	fmt.Printf("✓ Added %s (ID %s, model %s)\n", entry.Name, deviceID, model)
	return nil
}

var devicesRemoveCmd = &cobra.Command{
	Use:   "remove <device-id>",
	Short: "Remove a configured device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if !registry.RemoveEntry(args[0]) {
			return fmt.Errorf("unknown device: %s", args[0])
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Printf("✓ Removed device %s\n", args[0])
		return nil
	},
}

var devicesRenameCmd = &cobra.Command{
	Use:   "rename <device-id> <name>",
	Short: "Rename a configured device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := registry.RenameEntry(args[0], args[1]); err != nil {
			return err
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Printf("✓ Renamed device %s to %q\n", args[0], args[1])
		return nil
	},
}

// cloudCmd groups the Xiaomi cloud commands
var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Xiaomi cloud account operations",
	Long: `Operations against the Xiaomi cloud account.

The account password is prompted interactively and used for the session
only; it is never written to disk. The session token is cached so
subsequent commands may not need the password at all.`,
}

func init() {
	cloudCmd.AddCommand(cloudLoginCmd)
	cloudCmd.AddCommand(cloudDevicesCmd)
	cloudCmd.AddCommand(cloudSpecCmd)
	cloudCmd.AddCommand(cloudLogoutCmd)

	cloudCmd.PersistentFlags().StringVar(&cloudUsername, "username", "", "Xiaomi account email or ID")
	cloudCmd.PersistentFlags().StringVar(&cloudRegion, "region", "", "Account region (cn, de, i2, ru, sg, us)")

	cloudSpecCmd.Flags().BoolVar(&refreshSpec, "refresh", false, "Bypass the on-disk spec cache")
}

// cloudLogin resolves credentials and authenticates against the cloud.
func cloudLogin() (*cloud.Client, *config.Registry, error) {
	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	username := cloudUsername
	region := cloudRegion
	if prefs := registry.Preferences; prefs != nil && prefs.Cloud != nil {
		if username == "" {
			username = prefs.Cloud.Username
		}
		if region == "" {
			region = prefs.Cloud.Region
		}
	}
	if region == "" {
		region = cloud.DefaultRegion
	}
	if username == "" {
		return nil, nil, fmt.Errorf("no username configured; pass --username")
	}
	if !cloud.IsValidRegion(region) {
		return nil, nil, fmt.Errorf("unknown region %q", region)
	}

	fmt.Printf("Password for %s (never stored): ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, nil, fmt.Errorf("reading password: %w", err)
	}

	client, err := cloud.Login(username, string(password), region)
	if err != nil {
		return nil, nil, fmt.Errorf("cloud login failed: %w", err)
	}
	if err := client.SaveSession(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not cache session: %v\n", err)
	}

	if registry.Preferences == nil {
		registry.Preferences = &config.Preferences{}
	}
	registry.Preferences.Cloud = &config.CloudPrefs{Username: username, Region: region}

	return client, registry, nil
}

var cloudLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log into the Xiaomi cloud and cache the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := cloudLogin()
		if err != nil {
			return err
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Println("✓ Logged in; session cached")
		return nil
	},
}

var cloudDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices registered to the cloud account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, registry, err := cloudLogin()
		if err != nil {
			return err
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		devices, err := client.Devices(ctx)
		if err != nil {
			return fmt.Errorf("listing devices failed: %w", err)
		}

		if len(devices) == 0 {
			fmt.Println("The account has no devices.")
			return nil
		}

		fmt.Printf("Found %d device(s):\n\n", len(devices))
		for i, dev := range devices {
			fmt.Printf("%d. %s\n", i+1, dev.Name)
			fmt.Printf("   Device ID: %s\n", dev.DID)
			fmt.Printf("   Model:     %s\n", dev.Model)
			if dev.IsChild() {
				fmt.Printf("   Note:      child device behind %s, no direct control\n", dev.ParentID)
			} else {
				fmt.Printf("   IP:        %s\n", dev.LocalIP)
				fmt.Printf("   Token:     %s\n", dev.Token)
			}
			if registry.GetEntry(dev.DID) != nil {
				fmt.Printf("   Status:    already configured\n")
			}
			fmt.Println()
		}
		return nil
	},
}

var cloudSpecCmd = &cobra.Command{
	Use:   "spec <model>",
	Short: "Fetch and print the MiOT spec of a model",
	Long: `Fetch the MiOT instance specification for a device model.

The spec is fetched from the public miot-spec registry (no account
needed) and cached on disk. The parsed property and action summary is
printed; use --refresh to bypass the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := args[0]

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		raw, err := cloud.FetchSpec(ctx, model, refreshSpec)
		if err != nil {
			return fmt.Errorf("fetching spec failed: %w", err)
		}

		coll, err := descriptor.ParseSpec(model, raw)
		if err != nil {
			return fmt.Errorf("parsing spec failed: %w", err)
		}

		fmt.Printf("%s (%s)\n\n", model, coll.DeviceType)
		fmt.Println("Properties:")
		for _, p := range coll.Properties() {
			fmt.Printf("  %-28s siid %2d piid %2d  %-6s [%s]\n",
				p.ID, p.SIID, p.PIID, p.Format, p.Access)
		}
		if actions := coll.Actions(); len(actions) > 0 {
			fmt.Println("\nActions:")
			for _, a := range actions {
				fmt.Printf("  %-28s siid %2d aiid %2d  (%d args)\n", a.ID, a.SIID, a.AIID, len(a.In))
			}
		}
		return nil
	},
}

var cloudLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the cached cloud session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cloud.ClearSession(); err != nil {
			return err
		}
		fmt.Println("✓ Session cleared")
		return nil
	},
}

// openDevice builds a connected device handle for a configured entry.
func openDevice(ctx context.Context, deviceID string) (*miio.Device, *config.Entry, error) {
	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	entry := registry.GetEntry(deviceID)
	if entry == nil {
		return nil, nil, fmt.Errorf("unknown device %s (see 'miiobridge devices list')", deviceID)
	}

	if entry.Model == "" {
		return nil, nil, fmt.Errorf("device %s has no model; re-add it or set one with 'miiobridge devices add --model'", deviceID)
	}

	raw, err := cloud.FetchSpec(ctx, entry.Model, false)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching spec for %s failed: %w", entry.Model, err)
	}
	coll, err := descriptor.ParseSpec(entry.Model, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing spec for %s failed: %w", entry.Model, err)
	}

	client, err := miio.NewClient(entry.Host, entry.Token)
	if err != nil {
		return nil, nil, err
	}
	return miio.NewDevice(client, coll), entry, nil
}

// statusCmd reads the current property values of a device
var statusCmd = &cobra.Command{
	Use:   "status <device-id>",
	Short: "Read the current status of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		device, entry, err := openDevice(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Polling %s (%s)...\n\n", entry.Name, entry.Host)
		status, err := device.Status(ctx)
		if err != nil {
			return fmt.Errorf("status poll failed: %w", err)
		}

		ids := make([]string, 0, len(status))
		for id := range status {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			value := status[id]
			if p := device.Descriptors().Property(id); p != nil {
				if text, ok := entity.FormatPropertyValue(p, value); ok {
					unit := ""
					if p.Unit != "" {
						unit = " " + p.Unit
					}
					fmt.Printf("  %-28s %s%s\n", id, text, unit)
					continue
				}
			}
			fmt.Printf("  %-28s %v\n", id, value)
		}
		return nil
	},
}

// setCmd writes a settable property
var setCmd = &cobra.Command{
	Use:   "set <device-id> <setting> <value>",
	Short: "Write a settable property",
	Long: `Write a settable property of a configured device.

Boolean properties take on/off or true/false; enumerated properties
take the choice name; ranged properties take a number within bounds.
The value is validated against the device spec before anything is sent.`,
	Example: `  miiobridge set 120009025 on true
  miiobridge set 120009025 mode Sleep
  miiobridge set 120009025 favorite_level 7`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, settingID, rawValue := args[0], args[1], args[2]

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		device, _, err := openDevice(ctx, deviceID)
		if err != nil {
			return err
		}

		prop := device.Descriptors().Property(settingID)
		if prop == nil {
			return fmt.Errorf("unknown property %q on %s", settingID, device.Model())
		}
		value, err := entity.ParsePropertyCommand(prop, rawValue)
		if err != nil {
			return err
		}

		if err := device.SetProperty(ctx, settingID, value); err != nil {
			return fmt.Errorf("set failed: %w", err)
		}
		fmt.Printf("✓ %s = %s\n", settingID, rawValue)
		return nil
	},
}

// actionCmd invokes a device action
var actionCmd = &cobra.Command{
	Use:   "action <device-id> <action> [args...]",
	Short: "Invoke a device action",
	Example: `  miiobridge action 120009025 reset_filter
  miiobridge action 44996 start_sweep`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, actionID := args[0], args[1]

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		device, _, err := openDevice(ctx, deviceID)
		if err != nil {
			return err
		}

		extra := make([]any, 0, len(args)-2)
		for _, arg := range args[2:] {
			extra = append(extra, parseActionArg(arg))
		}

		if err := device.CallAction(ctx, actionID, extra...); err != nil {
			return fmt.Errorf("action failed: %w", err)
		}
		fmt.Printf("✓ %s invoked\n", actionID)
		return nil
	},
}

// parseActionArg guesses the wire type of a positional action argument.
func parseActionArg(arg string) any {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(arg); err == nil {
		return b
	}
	return arg
}
