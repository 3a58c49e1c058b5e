package cloud

import (
	"encoding/json"
	"testing"
)

func TestIsValidRegion(t *testing.T) {
	for _, region := range Regions {
		if !IsValidRegion(region) {
			t.Errorf("IsValidRegion(%q) = false", region)
		}
	}
	for _, region := range []string{"", "eu", "CN", "mars"} {
		if IsValidRegion(region) {
			t.Errorf("IsValidRegion(%q) = true", region)
		}
	}
}

func TestDeviceInfoDecode(t *testing.T) {
	// Shape of the cloud device list after the JSON round-trip.
	raw := `[
		{"did":"120009025","name":"Living Room Purifier","model":"zhimi.airpurifier.mb3",
		 "localip":"192.168.4.16","token":"00112233445566778899aabbccddeeff",
		 "mac":"54:EF:44:00:00:01","parent_id":"","isOnline":true},
		{"did":"blt.3.abc","name":"Door Sensor","model":"lumi.sensor_magnet.v2",
		 "localip":"","token":"","parent_id":"120001111","isOnline":true}
	]`

	var devices []DeviceInfo
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}

	purifier := devices[0]
	if purifier.DID != "120009025" || purifier.Model != "zhimi.airpurifier.mb3" {
		t.Errorf("purifier = %+v", purifier)
	}
	if purifier.IsChild() {
		t.Error("purifier should not be a child device")
	}

	sensor := devices[1]
	if !sensor.IsChild() {
		t.Error("gateway child should be flagged as child")
	}
}
