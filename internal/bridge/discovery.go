package bridge

import (
	"fmt"

	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/entity"
)

const (
	// DefaultDiscoveryPrefix is the topic prefix Home Assistant listens
	// on for MQTT discovery by default.
	DefaultDiscoveryPrefix = "homeassistant"

	// baseTopicRoot prefixes every state/command/availability topic.
	baseTopicRoot = "miiobridge"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// discoveryConfig is a Home Assistant MQTT discovery payload using the
// abbreviated key names.
type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"uniq_id"`
	StateTopic        string `json:"stat_t,omitempty"`
	ValueTemplate     string `json:"val_tpl,omitempty"`
	CommandTopic      string `json:"cmd_t,omitempty"`
	AvailabilityTopic string `json:"avty_t"`
	EntityCategory    string `json:"ent_cat,omitempty"`
	UnitOfMeasurement string `json:"unit_of_meas,omitempty"`
	StateClass        string `json:"stat_cla,omitempty"`

	// select
	Options []string `json:"ops,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// light
	BrightnessStateTopic    string   `json:"bri_stat_t,omitempty"`
	BrightnessCommandTopic  string   `json:"bri_cmd_t,omitempty"`
	BrightnessValueTemplate string   `json:"bri_val_tpl,omitempty"`
	BrightnessScale         *float64 `json:"bri_scl,omitempty"`
	ColorTempStateTopic     string   `json:"clr_temp_stat_t,omitempty"`
	ColorTempCommandTopic   string   `json:"clr_temp_cmd_t,omitempty"`
	ColorTempValueTemplate  string   `json:"clr_temp_val_tpl,omitempty"`

	// fan
	PresetModeStateTopic    string   `json:"pr_mode_stat_t,omitempty"`
	PresetModeCommandTopic  string   `json:"pr_mode_cmd_t,omitempty"`
	PresetModeValueTemplate string   `json:"pr_mode_val_tpl,omitempty"`
	PresetModes             []string `json:"pr_modes,omitempty"`
	PercentageStateTopic    string   `json:"pct_stat_t,omitempty"`
	PercentageCommandTopic  string   `json:"pct_cmd_t,omitempty"`
	PercentageValueTemplate string   `json:"pct_val_tpl,omitempty"`
	SpeedRangeMin           *float64 `json:"spd_rng_min,omitempty"`
	SpeedRangeMax           *float64 `json:"spd_rng_max,omitempty"`

	// humidifier
	TargetHumidityStateTopic    string   `json:"hum_stat_t,omitempty"`
	TargetHumidityCommandTopic  string   `json:"hum_cmd_t,omitempty"`
	TargetHumidityValueTemplate string   `json:"hum_state_tpl,omitempty"`
	MinHumidity                 *float64 `json:"min_hum,omitempty"`
	MaxHumidity                 *float64 `json:"max_hum,omitempty"`
	Modes                       []string `json:"modes,omitempty"`
	ModeStateTopic              string   `json:"mode_stat_t,omitempty"`
	ModeCommandTopic            string   `json:"mode_cmd_t,omitempty"`
	ModeStateTemplate           string   `json:"mode_stat_tpl,omitempty"`

	// vacuum
	Schema            string   `json:"schema,omitempty"`
	SupportedFeatures []string `json:"sup_feat,omitempty"`

	Device *deviceBlock `json:"dev"`
}

// deviceBlock groups every entity of a physical device in the Home
// Assistant registry.
type deviceBlock struct {
	Identifiers     []string `json:"ids"`
	Name            string   `json:"name"`
	Model           string   `json:"mdl"`
	Manufacturer    string   `json:"mf"`
	SoftwareVersion string   `json:"sw,omitempty"`
}

// DeviceMeta is the identity published in the discovery device block.
type DeviceMeta struct {
	DeviceID        string
	Name            string
	Model           string
	FirmwareVersion string
}

func (m DeviceMeta) block() *deviceBlock {
	return &deviceBlock{
		Identifiers:     []string{baseTopicRoot + "_" + m.DeviceID},
		Name:            m.Name,
		Model:           m.Model,
		Manufacturer:    "Xiaomi",
		SoftwareVersion: m.FirmwareVersion,
	}
}

// Topic helpers. Every per-device topic hangs off miiobridge/<deviceID>.

func baseTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s", baseTopicRoot, deviceID)
}

func stateTopic(deviceID string) string {
	return baseTopic(deviceID) + "/state"
}

func availabilityTopic(deviceID string) string {
	return baseTopic(deviceID) + "/availability"
}

func commandTopic(deviceID, id string) string {
	return fmt.Sprintf("%s/set/%s", baseTopic(deviceID), id)
}

func vacuumStateTopic(deviceID string) string {
	return baseTopic(deviceID) + "/vacuum"
}

// BridgeAvailabilityTopic is the will topic marking the whole bridge
// process online or offline.
const BridgeAvailabilityTopic = baseTopicRoot + "/bridge/availability"

func configTopic(prefix string, platform entity.Platform, deviceID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s_%s/%s/config", prefix, platform, baseTopicRoot, deviceID, objectID)
}

// valueTemplate extracts one entity's value from the device state JSON.
// Bracket syntax because descriptor IDs may contain dots.
func valueTemplate(id string) string {
	return fmt.Sprintf("{{ value_json[%q] }}", id)
}

// buildDiscoveryConfig renders the discovery payload for one entity.
func buildDiscoveryConfig(meta DeviceMeta, e *entity.Entity) *discoveryConfig {
	cfg := &discoveryConfig{
		Name:              e.Name,
		UniqueID:          e.UniqueID,
		AvailabilityTopic: availabilityTopic(meta.DeviceID),
		EntityCategory:    string(e.Category),
		Device:            meta.block(),
	}

	switch e.Platform {
	case entity.PlatformSensor:
		cfg.StateTopic = stateTopic(meta.DeviceID)
		cfg.ValueTemplate = valueTemplate(e.EntityID)
		cfg.UnitOfMeasurement = e.Property.Unit
		if e.Property.Format == descriptor.FormatInt || e.Property.Format == descriptor.FormatFloat {
			cfg.StateClass = "measurement"
		}
	case entity.PlatformBinarySensor:
		cfg.StateTopic = stateTopic(meta.DeviceID)
		cfg.ValueTemplate = valueTemplate(e.EntityID)
	case entity.PlatformSwitch:
		cfg.StateTopic = stateTopic(meta.DeviceID)
		cfg.ValueTemplate = valueTemplate(e.EntityID)
		cfg.CommandTopic = commandTopic(meta.DeviceID, e.EntityID)
	case entity.PlatformSelect:
		cfg.StateTopic = stateTopic(meta.DeviceID)
		cfg.ValueTemplate = valueTemplate(e.EntityID)
		cfg.CommandTopic = commandTopic(meta.DeviceID, e.EntityID)
		for _, c := range e.Property.Choices {
			cfg.Options = append(cfg.Options, c.Name)
		}
	case entity.PlatformNumber:
		cfg.StateTopic = stateTopic(meta.DeviceID)
		cfg.ValueTemplate = valueTemplate(e.EntityID)
		cfg.CommandTopic = commandTopic(meta.DeviceID, e.EntityID)
		cfg.Min = f64(e.Property.Min)
		cfg.Max = f64(e.Property.Max)
		cfg.Step = f64(e.Property.Step)
		cfg.UnitOfMeasurement = e.Property.Unit
	case entity.PlatformButton:
		cfg.CommandTopic = commandTopic(meta.DeviceID, e.EntityID)
	case entity.PlatformLight:
		buildLightConfig(meta, e, cfg)
	case entity.PlatformFan:
		buildFanConfig(meta, e, cfg)
	case entity.PlatformHumidifier:
		buildHumidifierConfig(meta, e, cfg)
	case entity.PlatformVacuum:
		buildVacuumConfig(meta, e, cfg)
	}

	return cfg
}

func buildLightConfig(meta DeviceMeta, e *entity.Entity, cfg *discoveryConfig) {
	cfg.StateTopic = stateTopic(meta.DeviceID)
	cfg.ValueTemplate = valueTemplate("on")
	cfg.CommandTopic = commandTopic(meta.DeviceID, "on")

	if bri := e.Members["brightness"]; bri != nil {
		cfg.BrightnessStateTopic = stateTopic(meta.DeviceID)
		cfg.BrightnessValueTemplate = valueTemplate("brightness")
		cfg.BrightnessCommandTopic = commandTopic(meta.DeviceID, "brightness")
		if bri.HasRange {
			cfg.BrightnessScale = f64(bri.Max)
		}
	}
	if e.Members["color_temperature"] != nil {
		// Color temperature is carried in mireds on the HA side; the
		// bridge converts from the device's kelvin scale and publishes
		// the derived key into the state JSON.
		cfg.ColorTempStateTopic = stateTopic(meta.DeviceID)
		cfg.ColorTempValueTemplate = valueTemplate(colorTempMiredsKey)
		cfg.ColorTempCommandTopic = commandTopic(meta.DeviceID, colorTempMiredsKey)
	}
}

func buildFanConfig(meta DeviceMeta, e *entity.Entity, cfg *discoveryConfig) {
	cfg.StateTopic = stateTopic(meta.DeviceID)
	cfg.ValueTemplate = valueTemplate("on")
	cfg.CommandTopic = commandTopic(meta.DeviceID, "on")

	if mode := e.Members["mode"]; mode != nil && len(mode.Choices) > 0 {
		cfg.PresetModeStateTopic = stateTopic(meta.DeviceID)
		cfg.PresetModeValueTemplate = valueTemplate("mode")
		cfg.PresetModeCommandTopic = commandTopic(meta.DeviceID, "mode")
		for _, c := range mode.Choices {
			cfg.PresetModes = append(cfg.PresetModes, c.Name)
		}
	}
	if level := e.Members["fan_level"]; level != nil && level.HasRange {
		cfg.PercentageStateTopic = stateTopic(meta.DeviceID)
		cfg.PercentageValueTemplate = valueTemplate("fan_level")
		cfg.PercentageCommandTopic = commandTopic(meta.DeviceID, "fan_level")
		cfg.SpeedRangeMin = f64(level.Min)
		cfg.SpeedRangeMax = f64(level.Max)
	}
}

func buildHumidifierConfig(meta DeviceMeta, e *entity.Entity, cfg *discoveryConfig) {
	cfg.StateTopic = stateTopic(meta.DeviceID)
	cfg.ValueTemplate = valueTemplate("on")
	cfg.CommandTopic = commandTopic(meta.DeviceID, "on")

	if target := e.Members["target_humidity"]; target != nil {
		cfg.TargetHumidityStateTopic = stateTopic(meta.DeviceID)
		cfg.TargetHumidityValueTemplate = valueTemplate("target_humidity")
		cfg.TargetHumidityCommandTopic = commandTopic(meta.DeviceID, "target_humidity")
		if target.HasRange {
			cfg.MinHumidity = f64(target.Min)
			cfg.MaxHumidity = f64(target.Max)
		}
	}
	if mode := e.Members["mode"]; mode != nil && len(mode.Choices) > 0 {
		cfg.ModeStateTopic = stateTopic(meta.DeviceID)
		cfg.ModeStateTemplate = valueTemplate("mode")
		cfg.ModeCommandTopic = commandTopic(meta.DeviceID, "mode")
		for _, c := range mode.Choices {
			cfg.Modes = append(cfg.Modes, c.Name)
		}
	}
}

func buildVacuumConfig(meta DeviceMeta, e *entity.Entity, cfg *discoveryConfig) {
	cfg.Schema = "state"
	cfg.StateTopic = vacuumStateTopic(meta.DeviceID)
	cfg.SupportedFeatures = []string{"status", "battery"}
}

func f64(v float64) *float64 {
	return &v
}
