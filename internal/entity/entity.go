package entity

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/muurk/miiobridge/internal/descriptor"
)

// Platform is the Home Assistant platform an entity surfaces on.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformSelect       Platform = "select"
	PlatformNumber       Platform = "number"
	PlatformButton       Platform = "button"
	PlatformLight        Platform = "light"
	PlatformFan          Platform = "fan"
	PlatformHumidifier   Platform = "humidifier"
	PlatformVacuum       Platform = "vacuum"
)

// Category is the Home Assistant entity category.
type Category string

const (
	CategoryNone       Category = ""
	CategoryDiagnostic Category = "diagnostic"
	CategoryConfig     Category = "config"
)

// Entity is one addressable surface of a device: either a single
// property or action, or a composite device-level platform that consumes
// several standard properties at once.
type Entity struct {
	// UniqueID is stable across restarts: <deviceID>_<platform>_<id>
	UniqueID string

	// EntityID is the descriptor or action ID this entity is built from.
	// Composite entities use the device type.
	EntityID string

	// Name is the human-readable entity name
	Name string

	Platform Platform
	Category Category

	// Property backs sensor/binary_sensor/switch/select/number entities
	Property *descriptor.Property

	// Action backs button entities
	Action *descriptor.Action

	// Members backs composite entities, keyed by role ("on", "mode",
	// "brightness", ...). Only the roles the model actually has are set.
	Members map[string]*descriptor.Property
}

// compositeRoles maps a MiOT device type to the platform that represents
// the whole device, with the standard property the platform cannot work
// without.
var compositePlatforms = map[string]struct {
	platform Platform
	required string
}{
	"light":        {PlatformLight, "on"},
	"fan":          {PlatformFan, "on"},
	"ceiling_fan":  {PlatformFan, "on"},
	"air_purifier": {PlatformFan, "on"},
	"air_fresh":    {PlatformFan, "on"},
	"humidifier":   {PlatformHumidifier, "on"},
	"dehumidifier": {PlatformHumidifier, "on"},
	"vacuum":       {PlatformVacuum, "status"},
}

// Build derives the entity set for a device from its descriptors.
//
// A device type with a composite platform gets one device-level entity
// consuming the standard properties (on, mode, fan_level, ...); the
// remaining properties become auxiliary entities. Devices without a
// composite platform expose every property individually.
func Build(deviceID string, coll *descriptor.Collection) []*Entity {
	var entities []*Entity

	props := coll.Properties()
	composite := buildComposite(deviceID, coll)
	if composite != nil {
		entities = append(entities, composite)
		props = descriptor.FilterStandard(props)
	}

	for _, p := range props {
		if e := buildPropertyEntity(deviceID, p); e != nil {
			entities = append(entities, e)
		}
	}

	for _, a := range coll.Actions() {
		entities = append(entities, &Entity{
			UniqueID: uniqueID(deviceID, PlatformButton, a.ID),
			EntityID: a.ID,
			Name:     displayName(a.Name, a.ID),
			Platform: PlatformButton,
			Category: CategoryConfig,
			Action:   a,
		})
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].UniqueID < entities[j].UniqueID })
	return entities
}

// buildComposite returns the device-level entity for the model, or nil
// when the device type has no composite platform or lacks the required
// standard property.
func buildComposite(deviceID string, coll *descriptor.Collection) *Entity {
	spec, ok := compositePlatforms[coll.DeviceType]
	if !ok {
		return nil
	}
	if coll.Property(spec.required) == nil {
		return nil
	}

	members := make(map[string]*descriptor.Property)
	for role := range standardRoles {
		if p := coll.Property(role); p != nil {
			members[role] = p
		}
	}

	return &Entity{
		UniqueID: uniqueID(deviceID, spec.platform, coll.DeviceType),
		EntityID: coll.DeviceType,
		Name:     displayName(coll.Description, coll.DeviceType),
		Platform: spec.platform,
		Members:  members,
	}
}

// standardRoles is the set of property IDs composite platforms consume.
var standardRoles = map[string]bool{
	"on":                true,
	"brightness":        true,
	"color_temperature": true,
	"mode":              true,
	"fan_level":         true,
	"target_humidity":   true,
	"battery_level":     true,
	"status":            true,
}

// buildPropertyEntity maps one property to its auxiliary platform, or
// nil when the property cannot be surfaced.
func buildPropertyEntity(deviceID string, p *descriptor.Property) *Entity {
	var platform Platform
	var category Category

	switch {
	case p.Settable() && p.Format == descriptor.FormatBool:
		platform, category = PlatformSwitch, CategoryConfig
	case p.Settable() && len(p.Choices) > 0:
		platform, category = PlatformSelect, CategoryConfig
	case p.Settable() && p.HasRange:
		platform, category = PlatformNumber, CategoryConfig
	case p.Readable() && p.Format == descriptor.FormatBool:
		platform, category = PlatformBinarySensor, CategoryDiagnostic
	case p.Readable():
		platform, category = PlatformSensor, CategoryDiagnostic
	default:
		// Settable string or unconstrained settable without read access;
		// nothing sensible to surface.
		return nil
	}

	return &Entity{
		UniqueID: uniqueID(deviceID, platform, p.ID),
		EntityID: p.ID,
		Name:     displayName(p.Name, p.ID),
		Platform: platform,
		Category: category,
		Property: p,
	}
}

func uniqueID(deviceID string, platform Platform, id string) string {
	return fmt.Sprintf("%s_%s_%s", deviceID, platform, id)
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// ParseCommand converts an incoming command payload into the value
// SetProperty expects for this entity's property.
func (e *Entity) ParseCommand(payload string) (any, error) {
	if e.Property == nil {
		return nil, fmt.Errorf("entity %s takes no property commands", e.UniqueID)
	}
	return ParsePropertyCommand(e.Property, payload)
}

// ParsePropertyCommand converts a command payload into the value
// SetProperty expects for the given property. Composite platforms use
// this directly for their member properties.
func ParsePropertyCommand(p *descriptor.Property, payload string) (any, error) {
	switch {
	case p.Format == descriptor.FormatBool:
		switch payload {
		case "ON", "on", "true":
			return true, nil
		case "OFF", "off", "false":
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean payload %q for %s", payload, p.ID)
		}
	case len(p.Choices) > 0:
		// Choice names pass through; the device layer maps them.
		return payload, nil
	case p.Format == descriptor.FormatFloat:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number payload %q for %s", payload, p.ID)
		}
		return f, nil
	case p.Format == descriptor.FormatInt:
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			// Integral floats like "2.0" arrive from number sliders.
			f, ferr := strconv.ParseFloat(payload, 64)
			if ferr != nil || f != float64(int64(f)) {
				return nil, fmt.Errorf("invalid number payload %q for %s", payload, p.ID)
			}
			n = int64(f)
		}
		return n, nil
	case p.Format == descriptor.FormatString:
		return payload, nil
	default:
		return nil, fmt.Errorf("property %s takes no commands", p.ID)
	}
}

// StatePayload renders the entity's current value from a status snapshot
// as an MQTT state payload. ok is false when the snapshot has no value
// for the entity.
func (e *Entity) StatePayload(status map[string]any) (string, bool) {
	if e.Property == nil {
		return "", false
	}
	v, ok := status[e.Property.ID]
	if !ok {
		return "", false
	}

	return FormatPropertyValue(e.Property, v)
}

// FormatPropertyValue renders one property value as a state payload:
// booleans as ON/OFF, enumerated values as their choice name, numbers
// and strings verbatim. ok is false for values that cannot be rendered,
// e.g. a choice value missing from the descriptor.
func FormatPropertyValue(p *descriptor.Property, v any) (string, bool) {
	if p.Format == descriptor.FormatBool {
		b, ok := v.(bool)
		if !ok {
			return "", false
		}
		if b {
			return "ON", true
		}
		return "OFF", true
	}
	if len(p.Choices) > 0 {
		n, ok := toChoiceValue(v)
		if !ok {
			return "", false
		}
		c, err := p.ChoiceByValue(n)
		if err != nil {
			return "", false
		}
		return c.Name, true
	}
	return formatValue(v), true
}

func toChoiceValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "ON"
		}
		return "OFF"
	default:
		return fmt.Sprintf("%v", val)
	}
}
