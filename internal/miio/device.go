package miio

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/logging"
)

// maxPropertiesPerRequest caps how many properties one get_properties
// call asks for. Devices truncate or reject larger batches.
const maxPropertiesPerRequest = 15

// Caller abstracts the RPC transport so device logic can be exercised
// against a fake in tests.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Info holds the static identity a device reports via miIO.info.
type Info struct {
	Model           string `json:"model"`
	FirmwareVersion string `json:"fw_ver"`
	HardwareVersion string `json:"hw_ver"`
	MAC             string `json:"mac"`
}

// miotRef addresses a property on the wire.
type miotRef struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

// miotValue is a property write request payload.
type miotValue struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

// miotResult is one element of a get_properties/set_properties reply.
type miotResult struct {
	DID   string          `json:"did"`
	SIID  int             `json:"siid"`
	PIID  int             `json:"piid"`
	Code  int             `json:"code"`
	Value json.RawMessage `json:"value"`
}

// miotAction is an action invocation payload.
type miotAction struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []any  `json:"in"`
}

// Device binds an RPC transport to a model's descriptor collection and
// exposes the typed operations the rest of the bridge works with:
// identity, status snapshots, property writes and action calls.
type Device struct {
	caller      Caller
	descriptors *descriptor.Collection
}

// NewDevice wraps a transport and a descriptor collection.
func NewDevice(caller Caller, descriptors *descriptor.Collection) *Device {
	return &Device{
		caller:      caller,
		descriptors: descriptors,
	}
}

// Descriptors returns the descriptor collection the device was built with.
func (d *Device) Descriptors() *descriptor.Collection {
	return d.descriptors
}

// Model returns the device model string, empty when no descriptor
// collection is attached.
func (d *Device) Model() string {
	if d.descriptors == nil {
		return ""
	}
	return d.descriptors.Model
}

// errNoDescriptors is returned by the typed operations when the device
// handle was built without a descriptor collection. Info still works;
// it is how the model gets detected in the first place.
func errNoDescriptors() error {
	return &DeviceError{
		Type:    ErrTypeProtocol,
		Message: "device has no descriptor collection; the model is unknown",
	}
}

// Info queries the device identity. This is the one call that works on
// every miio device regardless of model, so it doubles as the model
// detection probe during setup.
func (d *Device) Info(ctx context.Context) (*Info, error) {
	raw, err := d.caller.Call(ctx, "miIO.info", nil)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse device info: %w", err)
	}
	return &info, nil
}

// Status polls every readable property and returns a snapshot. Requests
// are chunked; a property that fails with a per-property error code is
// recorded as absent rather than failing the whole snapshot.
func (d *Device) Status(ctx context.Context) (Status, error) {
	if d.descriptors == nil {
		return nil, errNoDescriptors()
	}
	readables := d.descriptors.Readables()
	if len(readables) == 0 {
		return nil, fmt.Errorf("model %s has no readable properties", d.Model())
	}

	status := make(Status, len(readables))
	for start := 0; start < len(readables); start += maxPropertiesPerRequest {
		end := start + maxPropertiesPerRequest
		if end > len(readables) {
			end = len(readables)
		}
		chunk := readables[start:end]

		params := make([]miotRef, len(chunk))
		for i, p := range chunk {
			params[i] = miotRef{DID: p.ID, SIID: p.SIID, PIID: p.PIID}
		}

		raw, err := d.caller.Call(ctx, "get_properties", params)
		if err != nil {
			return nil, err
		}

		var results []miotResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("failed to parse status reply: %w", err)
		}

		for _, r := range results {
			prop := d.propertyByIID(r.SIID, r.PIID)
			if prop == nil {
				continue
			}
			if r.Code != 0 {
				logging.Debug("Property read failed",
					zap.String("model", d.Model()),
					zap.String("property", prop.ID),
					zap.Int("code", r.Code))
				continue
			}
			value, err := decodeValue(prop, r.Value)
			if err != nil {
				logging.Debug("Property value unparseable",
					zap.String("model", d.Model()),
					zap.String("property", prop.ID),
					zap.Error(err))
				continue
			}
			status[prop.ID] = value
		}
	}

	if len(status) == 0 {
		return nil, &DeviceError{
			Type:    ErrTypeProtocol,
			Message: "device answered but no property could be read",
		}
	}
	return status, nil
}

// SetProperty writes one settable property. Enumerated properties accept
// either the numeric value or the choice name; ranged properties are
// validated against their bounds before anything goes on the wire.
func (d *Device) SetProperty(ctx context.Context, id string, value any) error {
	if d.descriptors == nil {
		return errNoDescriptors()
	}
	prop := d.descriptors.Property(id)
	if prop == nil {
		return fmt.Errorf("model %s has no property %q", d.Model(), id)
	}
	if !prop.Settable() {
		return fmt.Errorf("property %s is read-only", id)
	}

	wireValue, err := encodeValue(prop, value)
	if err != nil {
		return err
	}

	params := []miotValue{{DID: prop.ID, SIID: prop.SIID, PIID: prop.PIID, Value: wireValue}}
	raw, err := d.caller.Call(ctx, "set_properties", params)
	if err != nil {
		return err
	}

	var results []miotResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("failed to parse set_properties reply: %w", err)
	}
	for _, r := range results {
		if r.Code != 0 {
			return newDeviceCodeError("", r.Code, fmt.Sprintf("device rejected write to %s", id))
		}
	}
	return nil
}

// CallAction invokes a device action with the given input arguments.
func (d *Device) CallAction(ctx context.Context, id string, args ...any) error {
	if d.descriptors == nil {
		return errNoDescriptors()
	}
	action := d.descriptors.Action(id)
	if action == nil {
		return fmt.Errorf("model %s has no action %q", d.Model(), id)
	}
	if len(args) != len(action.In) {
		return fmt.Errorf("action %s takes %d arguments, got %d", id, len(action.In), len(args))
	}

	in := args
	if in == nil {
		in = []any{}
	}
	params := miotAction{DID: action.ID, SIID: action.SIID, AIID: action.AIID, In: in}
	raw, err := d.caller.Call(ctx, "action", params)
	if err != nil {
		return err
	}

	var result struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to parse action reply: %w", err)
	}
	if result.Code != 0 {
		return newDeviceCodeError("", result.Code, fmt.Sprintf("device rejected action %s", id))
	}
	return nil
}

func (d *Device) propertyByIID(siid, piid int) *descriptor.Property {
	for _, p := range d.descriptors.Properties() {
		if p.SIID == siid && p.PIID == piid {
			return p
		}
	}
	return nil
}

// decodeValue converts a raw JSON property value into the Go type the
// descriptor format dictates.
func decodeValue(prop *descriptor.Property, raw json.RawMessage) (any, error) {
	switch prop.Format {
	case descriptor.FormatBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case descriptor.FormatInt:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			// Some firmwares report integer properties as floats.
			var f float64
			if err2 := json.Unmarshal(raw, &f); err2 != nil {
				return nil, err
			}
			v = int64(f)
		}
		return v, nil
	case descriptor.FormatFloat:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case descriptor.FormatString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", prop.Format)
	}
}

// encodeValue validates and converts a user-supplied value into the wire
// representation for the property.
func encodeValue(prop *descriptor.Property, value any) (any, error) {
	// Enumerated: accept the choice name or the bare value.
	if len(prop.Choices) > 0 {
		switch v := value.(type) {
		case string:
			c, err := prop.ChoiceByName(v)
			if err != nil {
				return nil, err
			}
			return c.Value, nil
		default:
			n, err := toInt64(value)
			if err != nil {
				return nil, fmt.Errorf("property %s expects a choice name or value", prop.ID)
			}
			if _, err := prop.ChoiceByValue(n); err != nil {
				return nil, err
			}
			return n, nil
		}
	}

	switch prop.Format {
	case descriptor.FormatBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("property %s expects a boolean", prop.ID)
		}
		return v, nil
	case descriptor.FormatInt:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("property %s expects an integer", prop.ID)
		}
		if prop.HasRange && (float64(n) < prop.Min || float64(n) > prop.Max) {
			return nil, fmt.Errorf("property %s value %d out of range [%g, %g]", prop.ID, n, prop.Min, prop.Max)
		}
		return n, nil
	case descriptor.FormatFloat:
		f, err := toFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("property %s expects a number", prop.ID)
		}
		if prop.HasRange && (f < prop.Min || f > prop.Max) {
			return nil, fmt.Errorf("property %s value %g out of range [%g, %g]", prop.ID, f, prop.Min, prop.Max)
		}
		return f, nil
	case descriptor.FormatString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("property %s expects a string", prop.ID)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", prop.Format)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("value %g is not an integer", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("value %v is not an integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("value %v is not a number", value)
	}
}
