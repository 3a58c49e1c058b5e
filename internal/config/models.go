package config

import (
	"fmt"
	"regexp"
	"time"
)

// tokenPattern matches a miio device token: exactly 32 hex characters.
var tokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Registry represents the entire configuration file.
// It stores one entry per configured device plus application preferences.
type Registry struct {
	Version     int               `yaml:"version"`
	Entries     map[string]*Entry `yaml:"devices,omitempty"` // Keyed by device ID
	Preferences *Preferences      `yaml:"preferences,omitempty"`
}

// Entry represents the stored configuration of a single miio device.
// This is keyed by the numeric device ID (as a decimal string) in the
// Registry; the device ID doubles as the unique identifier towards
// Home Assistant.
type Entry struct {
	Name       string    `yaml:"name,omitempty"`        // User-friendly name
	Host       string    `yaml:"host"`                  // IP address or hostname
	Token      string    `yaml:"token"`                 // 32 hex chars
	Model      string    `yaml:"model,omitempty"`       // e.g. "zhimi.airpurifier.mb3"
	UseGeneric bool      `yaml:"use_generic,omitempty"` // Force the generic MiOT profile
	AddedAt    time.Time `yaml:"added_at,omitempty"`
	LastSeen   time.Time `yaml:"last_seen,omitempty"`
}

// Preferences represents application-wide settings.
type Preferences struct {
	PollInterval    int         `yaml:"poll_interval"`    // Seconds between status polls
	DiscoverTimeout int         `yaml:"discover_timeout"` // mDNS discovery timeout in seconds
	ListenAddr      string      `yaml:"listen_addr"`      // HTTP API listen address
	MQTT            *MQTTPrefs  `yaml:"mqtt,omitempty"`
	Cloud           *CloudPrefs `yaml:"cloud,omitempty"`
}

// MQTTPrefs holds the broker settings for the Home Assistant bridge.
type MQTTPrefs struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"` // Defaults to "homeassistant"
}

// CloudPrefs holds the Xiaomi cloud account settings.
// The account password is NEVER stored - it is always prompted; only the
// session token blob is cached (see the cloud package).
type CloudPrefs struct {
	Username string `yaml:"username,omitempty"`
	Region   string `yaml:"region,omitempty"` // cn, de, i2, ru, sg, us
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Entries:     make(map[string]*Entry),
		Preferences: defaultPreferences(),
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{
		PollInterval:    15,
		DiscoverTimeout: 10,
		ListenAddr:      "127.0.0.1:9810",
	}
}

// Validate checks that an entry contains enough information to connect.
func (e *Entry) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if !tokenPattern.MatchString(e.Token) {
		return fmt.Errorf("token must be exactly 32 hexadecimal characters")
	}
	return nil
}

// GetEntry retrieves a device entry by device ID.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetEntry(deviceID string) *Entry {
	return r.Entries[deviceID]
}

// SetEntry validates and stores an entry under the given device ID.
// Re-adding an existing device ID updates the entry in place, keeping
// its original AddedAt timestamp.
func (r *Registry) SetEntry(deviceID string, entry *Entry) error {
	if deviceID == "" {
		return fmt.Errorf("device ID must not be empty")
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry for %s: %w", deviceID, err)
	}

	if r.Entries == nil {
		r.Entries = make(map[string]*Entry)
	}

	if existing, ok := r.Entries[deviceID]; ok {
		entry.AddedAt = existing.AddedAt
	} else if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	if entry.Name == "" {
		entry.Name = fmt.Sprintf("%s (%s)", entry.Model, deviceID)
	}

	r.Entries[deviceID] = entry
	return nil
}

// RemoveEntry deletes a device entry. Returns true if it existed.
func (r *Registry) RemoveEntry(deviceID string) bool {
	if _, ok := r.Entries[deviceID]; !ok {
		return false
	}
	delete(r.Entries, deviceID)
	return true
}

// RenameEntry sets a user-friendly name for a device.
func (r *Registry) RenameEntry(deviceID, name string) error {
	entry, ok := r.Entries[deviceID]
	if !ok {
		return fmt.Errorf("unknown device: %s", deviceID)
	}
	entry.Name = name
	return nil
}

// UpdateLastSeen updates the last seen timestamp and host for a device.
// Used when discovery observes a device at a new address.
func (r *Registry) UpdateLastSeen(deviceID, host string) {
	entry, ok := r.Entries[deviceID]
	if !ok {
		return
	}
	entry.LastSeen = time.Now()
	if host != "" {
		entry.Host = host
	}
}
