package descriptor

import (
	"testing"
)

// A trimmed air purifier spec document exercising the interesting cases:
// bool switch, enumerated mode, ranged number, read-only sensor, an action
// and an unsupported format.
const sampleSpec = `{
  "type": "urn:miot-spec-v2:device:air-purifier:0000A007:zhimi-mb3:1",
  "description": "Air Purifier",
  "services": [
    {
      "iid": 1,
      "type": "urn:miot-spec-v2:service:device-information:00007801:zhimi-mb3:1",
      "description": "Device Information",
      "properties": [
        {"iid": 1, "type": "urn:miot-spec-v2:property:manufacturer:00000001:zhimi-mb3:1",
         "description": "Device Manufacturer", "format": "string", "access": ["read"]}
      ]
    },
    {
      "iid": 2,
      "type": "urn:miot-spec-v2:service:air-purifier:00007811:zhimi-mb3:1",
      "description": "Air Purifier",
      "properties": [
        {"iid": 1, "type": "urn:miot-spec-v2:property:on:00000006:zhimi-mb3:1",
         "description": "Switch Status", "format": "bool", "access": ["read", "write", "notify"]},
        {"iid": 4, "type": "urn:miot-spec-v2:property:mode:00000008:zhimi-mb3:1",
         "description": "Mode", "format": "uint8", "access": ["read", "write", "notify"],
         "value-list": [
           {"value": 0, "description": "Auto"},
           {"value": 1, "description": "Sleep"},
           {"value": 2, "description": "Favorite"}
         ]},
        {"iid": 5, "type": "urn:miot-spec-v2:property:fan-level:00000004:zhimi-mb3:1",
         "description": "Fan Level", "format": "uint8", "access": ["read", "write"],
         "value-range": [1, 3, 1]}
      ],
      "actions": [
        {"iid": 1, "type": "urn:miot-spec-v2:action:toggle:00002811:zhimi-mb3:1",
         "description": "Toggle", "in": [], "out": []}
      ]
    },
    {
      "iid": 3,
      "type": "urn:miot-spec-v2:service:environment:0000780A:zhimi-mb3:1",
      "description": "Environment",
      "properties": [
        {"iid": 6, "type": "urn:miot-spec-v2:property:pm2.5-density:00000034:zhimi-mb3:1",
         "description": "PM2.5 Density", "format": "float", "access": ["read", "notify"],
         "unit": "μg/m3", "value-range": [0, 600, 1]},
        {"iid": 7, "type": "urn:miot-spec-v2:property:raw-blob:000000FF:zhimi-mb3:1",
         "description": "Raw Blob", "format": "hex", "access": ["read"]}
      ]
    }
  ]
}`

func TestParseSpec(t *testing.T) {
	coll, err := ParseSpec("zhimi.airpurifier.mb3", []byte(sampleSpec))
	if err != nil {
		t.Fatalf("ParseSpec() error = %v", err)
	}

	if coll.Model != "zhimi.airpurifier.mb3" {
		t.Errorf("Model = %v", coll.Model)
	}
	if coll.DeviceType != "air_purifier" {
		t.Errorf("DeviceType = %v, want air_purifier", coll.DeviceType)
	}

	// device-information service is skipped entirely
	if coll.Property("manufacturer") != nil {
		t.Error("device-information properties should be skipped")
	}

	// unsupported format is skipped, not fatal
	if coll.Property("raw_blob") != nil {
		t.Error("unsupported formats should be skipped")
	}

	on := coll.Property("on")
	if on == nil {
		t.Fatal("missing 'on' property")
	}
	if on.Format != FormatBool {
		t.Errorf("on.Format = %v, want bool", on.Format)
	}
	if !on.Readable() || !on.Settable() {
		t.Errorf("on.Access = %v, want rw", on.Access)
	}
	if on.SIID != 2 || on.PIID != 1 {
		t.Errorf("on siid/piid = %d/%d, want 2/1", on.SIID, on.PIID)
	}

	mode := coll.Property("mode")
	if mode == nil {
		t.Fatal("missing 'mode' property")
	}
	if len(mode.Choices) != 3 {
		t.Fatalf("mode.Choices = %d, want 3", len(mode.Choices))
	}
	if mode.Choices[1].Name != "Sleep" || mode.Choices[1].Value != 1 {
		t.Errorf("mode.Choices[1] = %+v", mode.Choices[1])
	}

	fan := coll.Property("fan_level")
	if fan == nil {
		t.Fatal("missing 'fan_level' property")
	}
	if !fan.HasRange || fan.Min != 1 || fan.Max != 3 || fan.Step != 1 {
		t.Errorf("fan_level range = %+v", fan)
	}

	pm := coll.Property("pm2.5_density")
	if pm == nil {
		t.Fatal("missing 'pm2.5_density' property")
	}
	if pm.Settable() {
		t.Error("pm2.5_density should not be settable")
	}
	if pm.Unit != "µg/m³" {
		t.Errorf("pm2.5_density unit = %q", pm.Unit)
	}

	toggle := coll.Action("toggle")
	if toggle == nil {
		t.Fatal("missing 'toggle' action")
	}
	if toggle.SIID != 2 || toggle.AIID != 1 {
		t.Errorf("toggle siid/aiid = %d/%d, want 2/1", toggle.SIID, toggle.AIID)
	}
}

func TestParseSpecErrors(t *testing.T) {
	if _, err := ParseSpec("x", []byte("not json")); err == nil {
		t.Error("ParseSpec() should fail on malformed JSON")
	}
	if _, err := ParseSpec("x", []byte(`{"type":"t","services":[]}`)); err == nil {
		t.Error("ParseSpec() should fail on empty service list")
	}
}

func TestParseUnitDensities(t *testing.T) {
	tests := []struct {
		unit string
		want string
	}{
		{"mg/m3", "mg/m³"},
		{"ug/m3", "µg/m³"},
		{"μg/m3", "µg/m³"},
	}
	for _, tt := range tests {
		if got := parseUnit(tt.unit); got != tt.want {
			t.Errorf("parseUnit(%q) = %q, want %q", tt.unit, got, tt.want)
		}
	}
}

func TestCollectionGrouping(t *testing.T) {
	coll, err := ParseSpec("zhimi.airpurifier.mb3", []byte(sampleSpec))
	if err != nil {
		t.Fatalf("ParseSpec() error = %v", err)
	}

	sensors := coll.Sensors()
	if len(sensors) != 1 || sensors[0].ID != "pm2.5_density" {
		t.Errorf("Sensors() = %v", ids(sensors))
	}

	settings := coll.Settings()
	if len(settings) != 3 {
		t.Errorf("Settings() = %v, want on/mode/fan_level", ids(settings))
	}

	readables := coll.Readables()
	if len(readables) != 4 {
		t.Errorf("Readables() = %v", ids(readables))
	}
}

func TestCollectionIDCollisions(t *testing.T) {
	coll := NewCollection("test.model.v1")
	coll.AddProperty(&Property{ID: "temperature", SIID: 2, PIID: 1, Format: FormatFloat})
	coll.AddProperty(&Property{ID: "temperature", SIID: 3, PIID: 1, Format: FormatFloat})

	if coll.Property("temperature") == nil {
		t.Error("first property should keep its ID")
	}
	second := coll.Property("temperature_2")
	if second == nil {
		t.Fatal("second property should get a suffixed ID")
	}
	if second.SIID != 3 {
		t.Errorf("suffixed property siid = %d, want 3", second.SIID)
	}
}

func TestChoiceLookups(t *testing.T) {
	p := &Property{
		ID: "mode",
		Choices: []Choice{
			{Name: "Auto", Value: 0},
			{Name: "Sleep", Value: 1},
		},
	}

	c, err := p.ChoiceByName("Sleep")
	if err != nil || c.Value != 1 {
		t.Errorf("ChoiceByName(Sleep) = %+v, %v", c, err)
	}
	if _, err := p.ChoiceByName("Turbo"); err == nil {
		t.Error("ChoiceByName() should fail for unknown name")
	}

	c, err = p.ChoiceByValue(0)
	if err != nil || c.Name != "Auto" {
		t.Errorf("ChoiceByValue(0) = %+v, %v", c, err)
	}
	if _, err := p.ChoiceByValue(9); err == nil {
		t.Error("ChoiceByValue() should fail for unknown value")
	}
}

func TestFilterStandard(t *testing.T) {
	props := []*Property{
		{ID: "on"},
		{ID: "mode"},
		{ID: "filter_life_level"},
	}
	filtered := FilterStandard(props)
	if len(filtered) != 1 || filtered[0].ID != "filter_life_level" {
		t.Errorf("FilterStandard() = %v", ids(filtered))
	}
}

func ids(props []*Property) []string {
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = p.ID
	}
	return out
}
