package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/logging"
)

const (
	// ServiceType is the mDNS service type miio devices announce
	ServiceType = "_miio._udp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 10 * time.Second
)

// hostnamePattern matches miio device hostnames, e.g.
// "zhimi-airpurifier-mb3_miio120009025.local." or
// "yeelink-light-bslamp2_mibt12345678.local.". The model segment uses
// dashes where the model string uses dots.
var hostnamePattern = regexp.MustCompile(`^(.+)_mi(?:io|bt)(\d+)\.local\.?$`)

// Scanner handles mDNS device discovery
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForDevices discovers all miio devices announcing on the local
// network. Returns a list of discovered devices or an error.
func (s *Scanner) ScanForDevices() ([]*Device, error) {
	return s.ScanForDevicesWithContext(context.Background())
}

// ScanForDevicesWithContext discovers devices with a custom context
func (s *Scanner) ScanForDevicesWithContext(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	devices := make([]*Device, 0)
	seen := make(map[string]bool)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			device := parseServiceEntry(entry)
			if device == nil {
				logging.Debug("Skipping mDNS entry with unparsable hostname",
					zap.String("hostname", entry.HostName),
				)
				continue
			}
			if !seen[device.DeviceID] {
				seen[device.DeviceID] = true
				devices = append(devices, device)
			}
		}
	}()

	err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// Wait for context to complete (timeout or cancellation)
	<-ctx.Done()

	return devices, nil
}

// WaitForDevice waits for a specific device by device ID.
// Returns the device or an error if not found within timeout.
func (s *Scanner) WaitForDevice(deviceID string) (*Device, error) {
	return s.WaitForDeviceWithContext(context.Background(), deviceID)
}

// WaitForDeviceWithContext waits for a specific device with a custom context
func (s *Scanner) WaitForDeviceWithContext(ctx context.Context, deviceID string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	deviceChan := make(chan *Device, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			device := parseServiceEntry(entry)
			if device != nil && device.DeviceID == deviceID {
				deviceChan <- device
				cancel() // Found the device, cancel context
				return
			}
		}
	}()

	err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case device := <-deviceChan:
		return device, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("device %s not found within timeout", deviceID)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry does not look like a miio device.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	hostname := entry.HostName
	if hostname == "" {
		return nil
	}

	model, deviceID, ok := ParseHostname(hostname)
	if !ok {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	return &Device{
		DeviceID:     deviceID,
		Model:        model,
		Hostname:     hostname,
		IP:           ip,
		Source:       SourceMDNS,
		DiscoveredAt: time.Now(),
	}
}

// ParseHostname extracts the model and device ID from a miio mDNS
// hostname. The hostname encodes the model with dashes instead of dots:
// "zhimi-airpurifier-mb3_miio120009025.local." means model
// "zhimi.airpurifier.mb3" with device ID "120009025".
func ParseHostname(hostname string) (model, deviceID string, ok bool) {
	matches := hostnamePattern.FindStringSubmatch(hostname)
	if len(matches) < 3 {
		return "", "", false
	}
	// Guard against hostnames with absurd ID segments.
	if _, err := strconv.ParseUint(matches[2], 10, 64); err != nil {
		return "", "", false
	}
	return strings.ReplaceAll(matches[1], "-", "."), matches[2], true
}

// ScanForDevices is a convenience function to scan for devices with a custom timeout
func ScanForDevices(timeout time.Duration) ([]*Device, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForDevices()
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan() ([]*Device, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.ScanForDevices()
}
