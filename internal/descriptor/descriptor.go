package descriptor

import (
	"fmt"
	"sort"
)

// AccessFlags describes how a property may be used.
type AccessFlags uint8

const (
	// AccessRead marks a property readable via get_properties
	AccessRead AccessFlags = 1 << iota
	// AccessWrite marks a property settable via set_properties
	AccessWrite
	// AccessNotify marks a property that the device pushes unsolicited
	AccessNotify
)

// Has reports whether all given flags are set.
func (a AccessFlags) Has(flags AccessFlags) bool {
	return a&flags == flags
}

// String returns a compact representation like "rw" or "r-n".
func (a AccessFlags) String() string {
	out := []byte("---")
	if a.Has(AccessRead) {
		out[0] = 'r'
	}
	if a.Has(AccessWrite) {
		out[1] = 'w'
	}
	if a.Has(AccessNotify) {
		out[2] = 'n'
	}
	return string(out)
}

// Format is the value format a property reports.
type Format string

const (
	FormatBool   Format = "bool"
	FormatInt    Format = "int"
	FormatFloat  Format = "float"
	FormatString Format = "string"
)

// Choice is one option of an enumerated property.
type Choice struct {
	Name  string
	Value int64
}

// Property describes one readable and/or settable device attribute.
// This mirrors the sensor/setting descriptors the device library exposes:
// identity (service/property instance IDs), value format, constraints and
// presentation hints.
type Property struct {
	ID     string // stable identifier, e.g. "fan_level"
	Name   string // human-readable description from the spec
	SIID   int
	PIID   int
	Format Format
	Access AccessFlags
	Unit   string

	// Range constraint (numeric formats only)
	HasRange bool
	Min      float64
	Max      float64
	Step     float64

	// Choice constraint (enumerated properties)
	Choices []Choice
}

// Readable reports whether the property can be polled.
func (p *Property) Readable() bool { return p.Access.Has(AccessRead) }

// Settable reports whether the property can be written.
func (p *Property) Settable() bool { return p.Access.Has(AccessWrite) }

// ChoiceByName returns the choice matching the given name.
func (p *Property) ChoiceByName(name string) (Choice, error) {
	for _, c := range p.Choices {
		if c.Name == name {
			return c, nil
		}
	}
	return Choice{}, fmt.Errorf("property %s has no choice named %q", p.ID, name)
}

// ChoiceByValue returns the choice matching the given value.
func (p *Property) ChoiceByValue(value int64) (Choice, error) {
	for _, c := range p.Choices {
		if c.Value == value {
			return c, nil
		}
	}
	return Choice{}, fmt.Errorf("property %s has no choice with value %d", p.ID, value)
}

// Action describes one invocable device operation.
type Action struct {
	ID   string
	Name string
	SIID int
	AIID int
	// Property IDs consumed as input arguments, in order
	In []string
}

// Collection holds all descriptors of one device model, keyed by ID.
type Collection struct {
	Model       string
	DeviceType  string // e.g. "air-purifier"
	Description string

	properties map[string]*Property
	actions    map[string]*Action
}

// NewCollection creates an empty collection for the given model.
func NewCollection(model string) *Collection {
	return &Collection{
		Model:      model,
		properties: make(map[string]*Property),
		actions:    make(map[string]*Action),
	}
}

// AddProperty inserts a property descriptor. Colliding IDs get a numeric
// suffix so every descriptor stays addressable.
func (c *Collection) AddProperty(p *Property) {
	id := p.ID
	for i := 2; ; i++ {
		if _, exists := c.properties[id]; !exists {
			break
		}
		id = fmt.Sprintf("%s_%d", p.ID, i)
	}
	p.ID = id
	c.properties[id] = p
}

// AddAction inserts an action descriptor, deduplicating IDs like AddProperty.
func (c *Collection) AddAction(a *Action) {
	id := a.ID
	for i := 2; ; i++ {
		if _, exists := c.actions[id]; !exists {
			break
		}
		id = fmt.Sprintf("%s_%d", a.ID, i)
	}
	a.ID = id
	c.actions[id] = a
}

// Property returns a property descriptor by ID, or nil.
func (c *Collection) Property(id string) *Property {
	return c.properties[id]
}

// Action returns an action descriptor by ID, or nil.
func (c *Collection) Action(id string) *Action {
	return c.actions[id]
}

// Properties returns all property descriptors sorted by ID.
func (c *Collection) Properties() []*Property {
	out := make([]*Property, 0, len(c.properties))
	for _, p := range c.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sensors returns the readable, non-settable properties.
func (c *Collection) Sensors() []*Property {
	var out []*Property
	for _, p := range c.Properties() {
		if p.Readable() && !p.Settable() {
			out = append(out, p)
		}
	}
	return out
}

// Settings returns the settable properties.
func (c *Collection) Settings() []*Property {
	var out []*Property
	for _, p := range c.Properties() {
		if p.Settable() {
			out = append(out, p)
		}
	}
	return out
}

// Readables returns every pollable property, settable or not.
func (c *Collection) Readables() []*Property {
	var out []*Property
	for _, p := range c.Properties() {
		if p.Readable() {
			out = append(out, p)
		}
	}
	return out
}

// Actions returns all action descriptors sorted by ID.
func (c *Collection) Actions() []*Action {
	out := make([]*Action, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Standard identifiers, i.e. properties that device-level platforms
// (light, fan, humidifier, vacuum) consume directly. Auxiliary entities
// are not generated for these to avoid duplicating controls.
var standardIdentifiers = map[string]bool{
	"on":                true,
	"brightness":        true,
	"color_temperature": true,
	"mode":              true,
	"fan_level":         true,
	"target_humidity":   true,
	"battery_level":     true,
	"status":            true,
}

// IsStandard reports whether the given descriptor ID is one of the
// standard identifiers consumed by device-level platforms.
func IsStandard(id string) bool {
	return standardIdentifiers[id]
}

// FilterStandard returns a copy of the properties with standard
// identifiers removed.
func FilterStandard(props []*Property) []*Property {
	var out []*Property
	for _, p := range props {
		if !IsStandard(p.ID) {
			out = append(out, p)
		}
	}
	return out
}
