package descriptor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MiOT spec documents describe a device model as a list of services, each
// carrying properties and actions. Instance IDs (siid/piid/aiid) address
// them on the wire; the urn type strings carry the names. The documents
// are fetched through the cloud library and cached on disk (see the cloud
// package); this file only parses them.

type specDocument struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Services    []specService `json:"services"`
}

type specService struct {
	IID         int            `json:"iid"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Properties  []specProperty `json:"properties"`
	Actions     []specAction   `json:"actions"`
}

type specProperty struct {
	IID         int             `json:"iid"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Format      string          `json:"format"`
	Access      []string        `json:"access"`
	Unit        string          `json:"unit"`
	ValueRange  []float64       `json:"value-range"`
	ValueList   []specValueItem `json:"value-list"`
}

type specValueItem struct {
	Value       int64  `json:"value"`
	Description string `json:"description"`
}

type specAction struct {
	IID         int    `json:"iid"`
	Type        string `json:"type"`
	Description string `json:"description"`
	In          []int  `json:"in"`
}

// ParseSpec builds a descriptor collection for a model from a raw MiOT
// spec document.
func ParseSpec(model string, raw []byte) (*Collection, error) {
	var doc specDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse spec document: %w", err)
	}
	if len(doc.Services) == 0 {
		return nil, fmt.Errorf("spec document for %s contains no services", model)
	}

	coll := NewCollection(model)
	coll.Description = doc.Description
	coll.DeviceType = urnName(doc.Type)

	for _, svc := range doc.Services {
		svcName := urnName(svc.Type)
		// The generic device service carries only metadata (manufacturer,
		// model, serial); skip it like the vendor library does.
		if svcName == "device_information" {
			continue
		}

		// Properties in the spec are indexed by piid within the service;
		// actions reference them as inputs.
		byPIID := make(map[int]string)

		for _, sp := range svc.Properties {
			prop, err := parseProperty(svc.IID, sp)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", svcName, err)
			}
			if prop == nil {
				continue // unsupported format, skipped
			}
			coll.AddProperty(prop)
			byPIID[sp.IID] = prop.ID
		}

		for _, sa := range svc.Actions {
			action := &Action{
				ID:   urnName(sa.Type),
				Name: sa.Description,
				SIID: svc.IID,
				AIID: sa.IID,
			}
			for _, piid := range sa.In {
				if id, ok := byPIID[piid]; ok {
					action.In = append(action.In, id)
				}
			}
			coll.AddAction(action)
		}
	}

	return coll, nil
}

func parseProperty(siid int, sp specProperty) (*Property, error) {
	format, ok := parseFormat(sp.Format)
	if !ok {
		// Unknown formats (e.g. hex payloads) are skipped, not fatal.
		return nil, nil
	}

	prop := &Property{
		ID:     urnName(sp.Type),
		Name:   sp.Description,
		SIID:   siid,
		PIID:   sp.IID,
		Format: format,
		Access: parseAccess(sp.Access),
		Unit:   parseUnit(sp.Unit),
	}
	if prop.ID == "" {
		return nil, fmt.Errorf("property siid=%d piid=%d has no name", siid, sp.IID)
	}

	if len(sp.ValueRange) >= 2 {
		prop.HasRange = true
		prop.Min = sp.ValueRange[0]
		prop.Max = sp.ValueRange[1]
		prop.Step = 1
		if len(sp.ValueRange) >= 3 && sp.ValueRange[2] > 0 {
			prop.Step = sp.ValueRange[2]
		}
	}

	for _, item := range sp.ValueList {
		prop.Choices = append(prop.Choices, Choice{
			Name:  item.Description,
			Value: item.Value,
		})
	}

	return prop, nil
}

func parseFormat(format string) (Format, bool) {
	switch format {
	case "bool":
		return FormatBool, true
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		return FormatInt, true
	case "float":
		return FormatFloat, true
	case "string":
		return FormatString, true
	default:
		return "", false
	}
}

func parseAccess(access []string) AccessFlags {
	var flags AccessFlags
	for _, a := range access {
		switch a {
		case "read":
			flags |= AccessRead
		case "write":
			flags |= AccessWrite
		case "notify":
			flags |= AccessNotify
		}
	}
	return flags
}

// parseUnit maps spec unit names to display units.
func parseUnit(unit string) string {
	switch unit {
	case "", "none":
		return ""
	case "percentage":
		return "%"
	case "celsius":
		return "°C"
	case "seconds":
		return "s"
	case "minutes":
		return "min"
	case "hours":
		return "h"
	case "days":
		return "d"
	case "kelvin":
		return "K"
	case "pascal":
		return "Pa"
	case "arcdegrees":
		return "°"
	case "rgb":
		return ""
	case "watt":
		return "W"
	case "litre":
		return "L"
	case "ppm":
		return "ppm"
	case "lux":
		return "lx"
	case "mg/m3":
		return "mg/m³"
	case "ug/m3", "μg/m3":
		return "µg/m³"
	default:
		return unit
	}
}

// urnName extracts the name segment of a MiOT urn and normalizes it.
// "urn:miot-spec-v2:property:fan-level:00000004:zhimi-mb3:1" -> "fan_level"
func urnName(urn string) string {
	parts := strings.Split(urn, ":")
	if len(parts) < 4 {
		return strings.ReplaceAll(urn, "-", "_")
	}
	return strings.ReplaceAll(parts[3], "-", "_")
}
