package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/miio"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeMQTT records publishes and lets tests inject incoming messages.
type fakeMQTT struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]func([]byte)
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]func([]byte))}
}

func (f *fakeMQTT) publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, payload, retained})
	return nil
}

func (f *fakeMQTT) subscribe(topic string, cb func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	return func() {}, nil
}

func (f *fakeMQTT) close() {}

func (f *fakeMQTT) find(topic string) *published {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return &f.published[i]
		}
	}
	return nil
}

func (f *fakeMQTT) inject(topic string, payload string) bool {
	f.mu.Lock()
	cb := f.handlers[topic]
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	cb([]byte(payload))
	return true
}

// fakeCommander records device writes.
type fakeCommander struct {
	mu      sync.Mutex
	sets    map[string]any
	actions []string
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{sets: make(map[string]any)}
}

func (f *fakeCommander) SetProperty(_ context.Context, id string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[id] = value
	return nil
}

func (f *fakeCommander) CallAction(_ context.Context, id string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, id)
	return nil
}

type nopFetcher struct{}

func (nopFetcher) Status(context.Context) (miio.Status, error) {
	return miio.Status{}, nil
}

func purifierEntities(t *testing.T) []*entity.Entity {
	t.Helper()
	coll := descriptor.NewCollection("zhimi.airpurifier.mb3")
	coll.DeviceType = "air_purifier"
	coll.Description = "Air Purifier"
	coll.AddProperty(&descriptor.Property{
		ID: "on", Name: "Power", SIID: 2, PIID: 1,
		Format: descriptor.FormatBool,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
	})
	coll.AddProperty(&descriptor.Property{
		ID: "mode", Name: "Mode", SIID: 2, PIID: 4,
		Format: descriptor.FormatInt,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
		Choices: []descriptor.Choice{
			{Name: "Auto", Value: 0},
			{Name: "Sleep", Value: 1},
		},
	})
	coll.AddProperty(&descriptor.Property{
		ID: "led", Name: "LED", SIID: 6, PIID: 1,
		Format: descriptor.FormatBool,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
	})
	coll.AddProperty(&descriptor.Property{
		ID: "pm2.5_density", Name: "PM2.5", SIID: 3, PIID: 6,
		Format: descriptor.FormatFloat,
		Access: descriptor.AccessRead,
		Unit:   "µg/m³",
	})
	coll.AddAction(&descriptor.Action{ID: "reset_filter", Name: "Reset Filter", SIID: 4, AIID: 1})
	return entity.Build("120009025", coll)
}

func testMeta() DeviceMeta {
	return DeviceMeta{
		DeviceID:        "120009025",
		Name:            "Living Room Purifier",
		Model:           "zhimi.airpurifier.mb3",
		FirmwareVersion: "2.1.8",
	}
}

func setupBridge(t *testing.T) (*Bridge, *fakeMQTT, *fakeCommander, *coordinator.Coordinator) {
	t.Helper()
	client := newFakeMQTT()
	b := newWithClient(client, DefaultDiscoveryPrefix)
	device := newFakeCommander()
	coord := coordinator.New("120009025", "zhimi.airpurifier.mb3", nopFetcher{}, coordinator.Config{})

	if err := b.AddDevice(testMeta(), purifierEntities(t), device, coord); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	return b, client, device, coord
}

func TestAddDevicePublishesDiscovery(t *testing.T) {
	_, client, _, _ := setupBridge(t)

	pub := client.find("homeassistant/switch/miiobridge_120009025/led/config")
	if pub == nil {
		t.Fatal("missing switch discovery config")
	}
	if !pub.retained {
		t.Error("discovery configs must be retained")
	}

	var cfg map[string]any
	if err := json.Unmarshal(pub.payload, &cfg); err != nil {
		t.Fatalf("config payload not JSON: %v", err)
	}
	if cfg["uniq_id"] != "120009025_switch_led" {
		t.Errorf("uniq_id = %v", cfg["uniq_id"])
	}
	if cfg["stat_t"] != "miiobridge/120009025/state" {
		t.Errorf("stat_t = %v", cfg["stat_t"])
	}
	if cfg["cmd_t"] != "miiobridge/120009025/set/led" {
		t.Errorf("cmd_t = %v", cfg["cmd_t"])
	}
	if cfg["avty_t"] != "miiobridge/120009025/availability" {
		t.Errorf("avty_t = %v", cfg["avty_t"])
	}
	dev, _ := cfg["dev"].(map[string]any)
	if dev == nil || dev["mf"] != "Xiaomi" || dev["mdl"] != "zhimi.airpurifier.mb3" {
		t.Errorf("dev block = %v", dev)
	}

	// The composite fan gets its own config with preset modes.
	pub = client.find("homeassistant/fan/miiobridge_120009025/air_purifier/config")
	if pub == nil {
		t.Fatal("missing fan discovery config")
	}
	if err := json.Unmarshal(pub.payload, &cfg); err != nil {
		t.Fatalf("fan payload not JSON: %v", err)
	}
	if cfg["pr_mode_cmd_t"] != "miiobridge/120009025/set/mode" {
		t.Errorf("pr_mode_cmd_t = %v", cfg["pr_mode_cmd_t"])
	}
	modes, _ := cfg["pr_modes"].([]any)
	if len(modes) != 2 {
		t.Errorf("pr_modes = %v", cfg["pr_modes"])
	}

	// The sensor carries its unit and category.
	pub = client.find("homeassistant/sensor/miiobridge_120009025/pm2.5_density/config")
	if pub == nil {
		t.Fatal("missing sensor discovery config")
	}
	if err := json.Unmarshal(pub.payload, &cfg); err != nil {
		t.Fatalf("sensor payload not JSON: %v", err)
	}
	if cfg["unit_of_meas"] != "µg/m³" {
		t.Errorf("unit_of_meas = %v", cfg["unit_of_meas"])
	}
	if cfg["ent_cat"] != "diagnostic" {
		t.Errorf("ent_cat = %v", cfg["ent_cat"])
	}
}

func TestCommandDispatch(t *testing.T) {
	_, client, device, _ := setupBridge(t)

	if !client.inject("miiobridge/120009025/set/led", "ON") {
		t.Fatal("no handler for led command topic")
	}
	device.mu.Lock()
	got := device.sets["led"]
	device.mu.Unlock()
	if got != true {
		t.Errorf("SetProperty(led) = %v, want true", got)
	}

	// Composite member commands route through the same dispatcher.
	if !client.inject("miiobridge/120009025/set/mode", "Sleep") {
		t.Fatal("no handler for mode command topic")
	}
	device.mu.Lock()
	got = device.sets["mode"]
	device.mu.Unlock()
	if got != "Sleep" {
		t.Errorf("SetProperty(mode) = %v, want Sleep", got)
	}

	// Garbage payloads are rejected before reaching the device.
	client.inject("miiobridge/120009025/set/led", "garbage")
	device.mu.Lock()
	still := device.sets["led"]
	device.mu.Unlock()
	if still != true {
		t.Errorf("led = %v after garbage payload, want unchanged", still)
	}
}

func TestButtonDispatch(t *testing.T) {
	_, client, device, _ := setupBridge(t)

	if !client.inject("miiobridge/120009025/set/reset_filter", "PRESS") {
		t.Fatal("no handler for button topic")
	}
	device.mu.Lock()
	defer device.mu.Unlock()
	if len(device.actions) != 1 || device.actions[0] != "reset_filter" {
		t.Errorf("actions = %v", device.actions)
	}
}

func TestPublishUpdate(t *testing.T) {
	b, client, _, _ := setupBridge(t)

	b.mu.Lock()
	bind := b.devices["120009025"]
	b.mu.Unlock()

	b.publishUpdate(bind, coordinator.Update{
		DeviceID:  "120009025",
		Available: true,
		Status: miio.Status{
			"on":            true,
			"mode":          int64(1),
			"led":           false,
			"pm2.5_density": 12.5,
		},
	})

	avail := client.find("miiobridge/120009025/availability")
	if avail == nil || string(avail.payload) != "online" || !avail.retained {
		t.Errorf("availability publish = %+v", avail)
	}

	state := client.find("miiobridge/120009025/state")
	if state == nil {
		t.Fatal("missing state publish")
	}
	var doc map[string]string
	if err := json.Unmarshal(state.payload, &doc); err != nil {
		t.Fatalf("state payload not JSON: %v", err)
	}
	want := map[string]string{
		"on":            "ON",
		"mode":          "Sleep",
		"led":           "OFF",
		"pm2.5_density": "12.5",
	}
	for k, v := range want {
		if doc[k] != v {
			t.Errorf("state[%s] = %q, want %q", k, doc[k], v)
		}
	}
}

func TestPublishUpdateUnavailableKeepsLastState(t *testing.T) {
	b, client, _, _ := setupBridge(t)

	b.mu.Lock()
	bind := b.devices["120009025"]
	b.mu.Unlock()

	b.publishUpdate(bind, coordinator.Update{
		DeviceID:  "120009025",
		Available: false,
		Status:    miio.Status{"on": true},
	})

	avail := client.find("miiobridge/120009025/availability")
	if avail == nil || string(avail.payload) != "offline" {
		t.Errorf("availability = %+v", avail)
	}
	// The retained snapshot still goes out so HA shows last-known state.
	if client.find("miiobridge/120009025/state") == nil {
		t.Error("state should still be published with the last snapshot")
	}
}

func TestRemoveDevice(t *testing.T) {
	b, client, _, _ := setupBridge(t)

	if err := b.RemoveDevice("120009025"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	cleared := client.find("homeassistant/switch/miiobridge_120009025/led/config")
	if cleared == nil || len(cleared.payload) != 0 || !cleared.retained {
		t.Errorf("discovery config not cleared: %+v", cleared)
	}
	avail := client.find("miiobridge/120009025/availability")
	if avail == nil || string(avail.payload) != "offline" {
		t.Errorf("availability = %+v", avail)
	}

	if err := b.RemoveDevice("120009025"); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestStateDocumentDerivesMireds(t *testing.T) {
	coll := descriptor.NewCollection("yeelink.light.bslamp2")
	coll.DeviceType = "light"
	coll.Description = "Bedside Lamp"
	coll.AddProperty(&descriptor.Property{
		ID: "on", SIID: 2, PIID: 1,
		Format: descriptor.FormatBool,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
	})
	coll.AddProperty(&descriptor.Property{
		ID: "color_temperature", SIID: 2, PIID: 3,
		Format: descriptor.FormatInt,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
		HasRange: true, Min: 1700, Max: 6500, Step: 1,
	})
	entities := entity.Build("7", coll)

	doc := stateDocument(entities, miio.Status{
		"on":                true,
		"color_temperature": int64(4000),
	})
	if doc["on"] != "ON" {
		t.Errorf("doc[on] = %q", doc["on"])
	}
	if doc["color_temperature_mireds"] != "250" {
		t.Errorf("doc[mireds] = %q, want 250", doc["color_temperature_mireds"])
	}
}

func TestVacuumStateMapping(t *testing.T) {
	tests := []struct {
		choice string
		want   string
	}{
		{"Sweeping", "cleaning"},
		{"Mopping", "cleaning"},
		{"Charging", "docked"},
		{"Paused", "paused"},
		{"Go Charging", "docked"},
		{"Returning To Dock", "returning"},
		{"Error", "error"},
		{"Standby", "idle"},
	}
	for _, tt := range tests {
		if got := vacuumState(tt.choice); got != tt.want {
			t.Errorf("vacuumState(%q) = %q, want %q", tt.choice, got, tt.want)
		}
	}
}
