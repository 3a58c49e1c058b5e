package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	// Should not be empty
	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	// Should contain "miiobridge"
	if !strings.Contains(configDir, "miiobridge") {
		t.Errorf("GetConfigDir() = %v, should contain 'miiobridge'", configDir)
	}

	// Platform-specific checks
	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	// Should end with config.yaml
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}

	if reg.Entries == nil {
		t.Error("NewRegistry().Entries should not be nil")
	}

	if reg.Preferences == nil {
		t.Fatal("NewRegistry().Preferences should not be nil")
	}

	if reg.Preferences.PollInterval != 15 {
		t.Errorf("NewRegistry().Preferences.PollInterval = %v, want 15", reg.Preferences.PollInterval)
	}

	if reg.Preferences.DiscoverTimeout != 10 {
		t.Errorf("NewRegistry().Preferences.DiscoverTimeout = %v, want 10", reg.Preferences.DiscoverTimeout)
	}
}

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{
			name: "valid entry",
			entry: Entry{
				Host:  "192.168.1.10",
				Token: "00112233445566778899aabbccddeeff",
				Model: "zhimi.airpurifier.mb3",
			},
			wantErr: false,
		},
		{
			name: "uppercase token accepted",
			entry: Entry{
				Host:  "192.168.1.10",
				Token: "00112233445566778899AABBCCDDEEFF",
			},
			wantErr: false,
		},
		{
			name: "empty host",
			entry: Entry{
				Token: "00112233445566778899aabbccddeeff",
			},
			wantErr: true,
		},
		{
			name: "token too short",
			entry: Entry{
				Host:  "192.168.1.10",
				Token: "0011223344",
			},
			wantErr: true,
		},
		{
			name: "token too long",
			entry: Entry{
				Host:  "192.168.1.10",
				Token: "00112233445566778899aabbccddeeff00",
			},
			wantErr: true,
		},
		{
			name: "token with non-hex characters",
			entry: Entry{
				Host:  "192.168.1.10",
				Token: "00112233445566778899aabbccddeegg",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistrySetEntry(t *testing.T) {
	reg := NewRegistry()

	entry := &Entry{
		Host:  "192.168.1.10",
		Token: "00112233445566778899aabbccddeeff",
		Model: "zhimi.airpurifier.mb3",
	}

	if err := reg.SetEntry("112233445", entry); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	got := reg.GetEntry("112233445")
	if got == nil {
		t.Fatal("GetEntry() returned nil after SetEntry()")
	}

	if got.AddedAt.IsZero() {
		t.Error("SetEntry() should populate AddedAt")
	}

	// A default name is derived from model and device ID
	if got.Name != "zhimi.airpurifier.mb3 (112233445)" {
		t.Errorf("SetEntry() default name = %q", got.Name)
	}
}

func TestRegistrySetEntryUpdatesInPlace(t *testing.T) {
	reg := NewRegistry()

	first := &Entry{
		Name:    "Living room purifier",
		Host:    "192.168.1.10",
		Token:   "00112233445566778899aabbccddeeff",
		Model:   "zhimi.airpurifier.mb3",
		AddedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := reg.SetEntry("112233445", first); err != nil {
		t.Fatalf("SetEntry() error = %v", err)
	}

	// Re-adding the same device ID replaces the entry but keeps AddedAt.
	second := &Entry{
		Name:  "Living room purifier",
		Host:  "192.168.1.99",
		Token: "ffeeddccbbaa99887766554433221100",
		Model: "zhimi.airpurifier.mb3",
	}
	if err := reg.SetEntry("112233445", second); err != nil {
		t.Fatalf("SetEntry() update error = %v", err)
	}

	got := reg.GetEntry("112233445")
	if got.Host != "192.168.1.99" {
		t.Errorf("updated entry host = %v, want 192.168.1.99", got.Host)
	}
	if !got.AddedAt.Equal(first.AddedAt) {
		t.Errorf("update should keep original AddedAt, got %v", got.AddedAt)
	}

	if len(reg.Entries) != 1 {
		t.Errorf("registry should contain exactly one entry, got %d", len(reg.Entries))
	}
}

func TestRegistrySetEntryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()

	err := reg.SetEntry("112233445", &Entry{Host: "192.168.1.10", Token: "short"})
	if err == nil {
		t.Error("SetEntry() should reject an invalid token")
	}

	err = reg.SetEntry("", &Entry{Host: "192.168.1.10", Token: "00112233445566778899aabbccddeeff"})
	if err == nil {
		t.Error("SetEntry() should reject an empty device ID")
	}
}

func TestRegistryRemoveEntry(t *testing.T) {
	reg := NewRegistry()
	_ = reg.SetEntry("112233445", &Entry{
		Host:  "192.168.1.10",
		Token: "00112233445566778899aabbccddeeff",
	})

	if !reg.RemoveEntry("112233445") {
		t.Error("RemoveEntry() = false for existing entry")
	}
	if reg.RemoveEntry("112233445") {
		t.Error("RemoveEntry() = true for missing entry")
	}
}

func TestRegistryRenameEntry(t *testing.T) {
	reg := NewRegistry()
	_ = reg.SetEntry("112233445", &Entry{
		Host:  "192.168.1.10",
		Token: "00112233445566778899aabbccddeeff",
		Model: "zhimi.airpurifier.mb3",
	})

	if err := reg.RenameEntry("112233445", "Bedroom purifier"); err != nil {
		t.Fatalf("RenameEntry() error = %v", err)
	}
	if got := reg.GetEntry("112233445").Name; got != "Bedroom purifier" {
		t.Errorf("RenameEntry() name = %q", got)
	}

	if err := reg.RenameEntry("999999999", "nope"); err == nil {
		t.Error("RenameEntry() should fail for unknown device")
	}
}

func TestRegistryUpdateLastSeen(t *testing.T) {
	reg := NewRegistry()
	_ = reg.SetEntry("112233445", &Entry{
		Host:  "192.168.1.10",
		Token: "00112233445566778899aabbccddeeff",
	})

	reg.UpdateLastSeen("112233445", "192.168.1.50")

	entry := reg.GetEntry("112233445")
	if entry.Host != "192.168.1.50" {
		t.Errorf("UpdateLastSeen() host = %v, want 192.168.1.50", entry.Host)
	}
	if entry.LastSeen.IsZero() {
		t.Error("UpdateLastSeen() should set LastSeen")
	}

	// Unknown device is a no-op
	reg.UpdateLastSeen("999999999", "10.0.0.1")
}
