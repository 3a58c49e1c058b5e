package discovery

import (
	"fmt"
	"time"
)

// Source records which mechanism found a device.
type Source string

const (
	// SourceMDNS means the device was found via its mDNS announcement
	SourceMDNS Source = "mdns"
	// SourceProbe means the device answered a hello broadcast
	SourceProbe Source = "probe"
)

// Device represents a discovered miio device on the network
type Device struct {
	// DeviceID is the numeric device identifier as a decimal string
	// (e.g., "120009025"). It is the stable key a device is configured
	// under; IP addresses change, device IDs do not.
	DeviceID string

	// Model is the device model (e.g., "zhimi.airpurifier.mb3").
	// Only mDNS discovery learns the model; probe results leave it empty
	// until a handshake with a token fills it in.
	Model string

	// Hostname is the mDNS hostname (e.g., "zhimi-airpurifier-mb3_miio120009025.local.")
	Hostname string

	// IP is the IPv4 address (e.g., "192.168.4.16")
	IP string

	// Source is the mechanism that found the device
	Source Source

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	model := d.Model
	if model == "" {
		model = "unknown model"
	}
	return fmt.Sprintf("miio device %s (%s) at %s", d.DeviceID, model, d.IP)
}
